package audio

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrEmptyInput = errors.New("audio buffer is empty")
	ErrTooShort   = errors.New("audio too short")
	ErrAllSilence = errors.New("audio contains only silence")
	ErrNoSignal   = errors.New("audio contains no signal")
)

const (
	defaultWindowMs   = 10
	thresholdRatio    = 0.1
	targetPeak        = 0.8
	minDurationSecond = 0.1
	epsilon32         = 1.1920929e-07
)

// Region is a [Start, End) range of sample indices.
type Region struct {
	Start int
	End   int
}

// Preprocessor trims leading/trailing silence and normalizes loudness before recognition.
type Preprocessor struct {
	SampleRate int
	WindowMs   int
}

func NewPreprocessor(sampleRate int) *Preprocessor {
	return &Preprocessor{SampleRate: sampleRate, WindowMs: defaultWindowMs}
}

// WindowSize is the number of samples per analysis window, truncated, never below one.
func (p *Preprocessor) WindowSize() int {
	n := p.SampleRate * p.WindowMs / 1000
	if n < 1 {
		return 1
	}
	return n
}

// CalculateRMS returns sqrt(mean(s^2)); 0 for an empty slice.
func CalculateRMS(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return float32(math.Sqrt(sum / float64(len(samples))))
}

// windowRMS yields one RMS value per window; the last window may be short.
func (p *Preprocessor) windowRMS(samples []float32) []float32 {
	w := p.WindowSize()
	out := make([]float32, 0, len(samples)/w+1)
	for i := 0; i < len(samples); i += w {
		out = append(out, CalculateRMS(samples[i:min(i+w, len(samples))]))
	}
	return out
}

// SilenceThreshold is 0.1 of the loudest window's RMS.
func (p *Preprocessor) SilenceThreshold(samples []float32) float32 {
	var peak float32
	for _, r := range p.windowRMS(samples) {
		if r > peak {
			peak = r
		}
	}
	return peak * thresholdRatio
}

// DetectSilence returns ascending, disjoint runs of windows whose RMS is at or below threshold.
func (p *Preprocessor) DetectSilence(samples []float32, threshold float32) []Region {
	w := p.WindowSize()
	var (
		regions []Region
		start   = -1
	)
	for i, r := range p.windowRMS(samples) {
		pos := i * w
		if r <= threshold {
			if start < 0 {
				start = pos
			}
			continue
		}
		if start >= 0 {
			regions = append(regions, Region{Start: start, End: pos})
			start = -1
		}
	}
	if start >= 0 {
		regions = append(regions, Region{Start: start, End: len(samples)})
	}
	return regions
}

// Trim drops silence touching either end of the buffer.
func (p *Preprocessor) Trim(samples []float32) ([]float32, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyInput
	}
	regions := p.DetectSilence(samples, p.SilenceThreshold(samples))
	left, right := 0, len(samples)
	if len(regions) > 0 {
		if first := regions[0]; first.Start == 0 {
			left = first.End
		}
		if last := regions[len(regions)-1]; last.End == len(samples) {
			right = last.Start
		}
	}
	if left >= right {
		return nil, ErrAllSilence
	}
	return samples[left:right], nil
}

// Normalize scales the signal so its peak sits at 0.8 of full scale. Silent input is returned as is.
func Normalize(samples []float32) []float32 {
	peak := Peak(samples)
	if peak == 0 {
		return samples
	}
	gain := targetPeak / peak
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = s * gain
	}
	return out
}

// Peak is the largest absolute sample value.
func Peak(samples []float32) float32 {
	var peak float32
	for _, s := range samples {
		if a := float32(math.Abs(float64(s))); a > peak {
			peak = a
		}
	}
	return peak
}

// Duration of samples in seconds at the preprocessor's rate.
func (p *Preprocessor) Duration(samples []float32) float64 {
	if p.SampleRate <= 0 {
		return 0
	}
	return float64(len(samples)) / float64(p.SampleRate)
}

func (p *Preprocessor) Validate(samples []float32) error {
	if len(samples) == 0 {
		return ErrEmptyInput
	}
	if d := p.Duration(samples); d < minDurationSecond {
		return fmt.Errorf("%w: %.3fs < %.1fs", ErrTooShort, d, minDurationSecond)
	}
	if Peak(samples) <= epsilon32 {
		return ErrNoSignal
	}
	return nil
}

// Process runs validate, trim, validate, normalize. Any failure aborts with no partial output.
func (p *Preprocessor) Process(samples []float32) ([]float32, error) {
	if err := p.Validate(samples); err != nil {
		return nil, err
	}
	trimmed, err := p.Trim(samples)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(trimmed); err != nil {
		return nil, fmt.Errorf("after trim: %w", err)
	}
	return Normalize(trimmed), nil
}
