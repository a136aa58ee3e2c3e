package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"

	"github.com/go-audio/wav"
)

// HeaderSize is the length of the canonical RIFF/PCM16 header.
const HeaderSize = 44

// streamingDataSize marks a data chunk whose length is not known up front.
const streamingDataSize = 0xFFFFFFFF - 36

// Encoder writes mono or interleaved float samples as 16-bit PCM WAV.
type Encoder struct {
	SampleRate int
	Channels   int
}

func NewEncoder(sampleRate, channels int) *Encoder {
	return &Encoder{SampleRate: sampleRate, Channels: channels}
}

// Header returns the 44-byte header for a data chunk of dataSize bytes.
func (e *Encoder) Header(dataSize uint32) []byte {
	h := make([]byte, HeaderSize)
	le := binary.LittleEndian
	copy(h[0:4], "RIFF")
	le.PutUint32(h[4:8], 36+dataSize)
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	le.PutUint32(h[16:20], 16)
	le.PutUint16(h[20:22], 1)
	le.PutUint16(h[22:24], uint16(e.Channels))
	le.PutUint32(h[24:28], uint32(e.SampleRate))
	le.PutUint32(h[28:32], uint32(e.SampleRate*e.Channels*2))
	le.PutUint16(h[32:34], uint16(e.Channels*2))
	le.PutUint16(h[34:36], 16)
	copy(h[36:40], "data")
	le.PutUint32(h[40:44], dataSize)
	return h
}

// StreamingHeader is a header for a data chunk of unknown length, used when
// the container is sent before recording has finished.
func (e *Encoder) StreamingHeader() []byte {
	return e.Header(streamingDataSize)
}

// Encode produces header + PCM16 for samples. Empty input is rejected so a
// header-only container is never emitted.
func (e *Encoder) Encode(samples []float32) ([]byte, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyInput
	}
	out := make([]byte, 0, HeaderSize+2*len(samples))
	out = append(out, e.Header(uint32(2*len(samples)))...)
	return AppendPCM16(out, samples), nil
}

// SampleToPCM16 clamps to [-1,1], scales by 32767 and truncates toward zero.
func SampleToPCM16(s float32) int16 {
	if math.IsNaN(float64(s)) {
		return 0
	}
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return int16(s * math.MaxInt16)
}

// AppendPCM16 appends little-endian PCM16 for samples to dst.
func AppendPCM16(dst []byte, samples []float32) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(SampleToPCM16(s)))
	}
	return dst
}

// DecodeWAV decodes a WAV blob into float32 samples in [-1,1] and its sample rate.
func DecodeWAV(b []byte) ([]float32, int, error) {
	dec := wav.NewDecoder(bytes.NewReader(b))
	if !dec.IsValidFile() {
		return nil, 0, errors.New("invalid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, 0, err
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, 0, ErrEmptyInput
	}
	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = 16
	}
	// full scale is 2^(n-1)-1, matching SampleToPCM16
	scale := float32(int(1)<<(bitDepth-1) - 1)
	out := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = max(float32(v)/scale, -1)
	}
	sr := int(dec.SampleRate)
	if sr == 0 && buf.Format != nil {
		sr = buf.Format.SampleRate
	}
	return out, sr, nil
}

// ResampleLinear resamples PCM32F from inRate to outRate using linear interpolation.
func ResampleLinear(samples []float32, inRate, outRate int) []float32 {
	if inRate <= 0 || outRate <= 0 || len(samples) == 0 || inRate == outRate {
		return samples
	}
	ratio := float64(outRate) / float64(inRate)
	outLen := max(int(float64(len(samples))*ratio), 1)
	out := make([]float32, outLen)
	for i := range out {
		srcPos := float64(i) / ratio
		i0 := int(srcPos)
		if i0 >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(srcPos - float64(i0))
		out[i] = samples[i0] + (samples[i0+1]-samples[i0])*frac
	}
	return out
}
