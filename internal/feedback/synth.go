package feedback

import (
	"math"
	"time"
)

const rampDuration = 5 * time.Millisecond

// Render turns a plan into mono samples at sampleRate. Each distinct tone keeps
// its own running phase so a frequency resumed after a gap continues smoothly.
func Render(p Plan, sampleRate int, volume float64) []float32 {
	amp := volume * p.Gain
	out := make([]float32, 0, int(p.Duration().Seconds()*float64(sampleRate))+1)
	phases := map[float64]float64{}
	ramp := int(rampDuration.Seconds() * float64(sampleRate))

	for _, seg := range p.Segments {
		n := int(seg.Duration.Seconds() * float64(sampleRate))
		if seg.Tone.IsSilence() {
			out = append(out, make([]float32, n)...)
			continue
		}
		freqs := []float64{seg.Tone.Freq1}
		if seg.Tone.Freq2 != 0 {
			freqs = append(freqs, seg.Tone.Freq2)
		}
		for i := 0; i < n; i++ {
			var v float64
			for _, f := range freqs {
				v += math.Sin(phases[f])
				phases[f] = math.Mod(phases[f]+2*math.Pi*f/float64(sampleRate), 2*math.Pi)
			}
			v /= float64(len(freqs))
			out = append(out, float32(v*amp*envelope(i, n, ramp)))
		}
	}
	return out
}

// envelope is a linear attack/release ramp that keeps segment edges click free.
func envelope(i, n, ramp int) float64 {
	if ramp <= 0 || n < 2*ramp {
		return 1
	}
	switch {
	case i < ramp:
		return float64(i) / float64(ramp)
	case i >= n-ramp:
		return float64(n-1-i) / float64(ramp)
	}
	return 1
}
