// Package feedback synthesizes the short tone cues played around a recording
// and serializes their playback so two cues never overlap.
package feedback

import "time"

// Cue names a feedback sound.
type Cue int

const (
	CueRecordingStart Cue = iota
	CueRecordingStop
	CueSuccess
	CueError
)

func (c Cue) String() string {
	switch c {
	case CueRecordingStart:
		return "recording_start"
	case CueRecordingStop:
		return "recording_stop"
	case CueSuccess:
		return "success"
	case CueError:
		return "error"
	}
	return "unknown"
}

const (
	noteC4 = 261.63
	noteE4 = 329.63
)

// Tone describes what a segment sounds like. Freq2 is only used by dual tones;
// a zero Freq1 is silence.
type Tone struct {
	Freq1 float64
	Freq2 float64
}

func SingleTone(freq float64) Tone       { return Tone{Freq1: freq} }
func DualTone(freq1, freq2 float64) Tone { return Tone{Freq1: freq1, Freq2: freq2} }
func Silence() Tone                      { return Tone{} }

func (t Tone) IsSilence() bool { return t.Freq1 == 0 && t.Freq2 == 0 }

type Segment struct {
	Duration time.Duration
	Tone     Tone
}

// Plan is an immutable sequence of segments plus a volume multiplier.
type Plan struct {
	Segments []Segment
	Gain     float64
}

func (p Plan) Duration() time.Duration {
	var d time.Duration
	for _, s := range p.Segments {
		d += s.Duration
	}
	return d
}

// PlanFor returns the plan for cue. Start and stop are rising and falling
// two-note chimes, success repeats E4, and error is a 180+220 Hz pair whose
// 40 Hz beat is heard as a warble.
func PlanFor(c Cue) Plan {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	switch c {
	case CueRecordingStart:
		return Plan{Gain: 2, Segments: []Segment{
			{ms(225), SingleTone(noteC4)},
			{ms(50), Silence()},
			{ms(225), SingleTone(noteE4)},
		}}
	case CueRecordingStop:
		return Plan{Gain: 2, Segments: []Segment{
			{ms(225), SingleTone(noteE4)},
			{ms(50), Silence()},
			{ms(225), SingleTone(noteC4)},
		}}
	case CueSuccess:
		return Plan{Gain: 1, Segments: []Segment{
			{ms(160), SingleTone(noteE4)},
			{ms(80), Silence()},
			{ms(160), SingleTone(noteE4)},
		}}
	default:
		return Plan{Gain: 1, Segments: []Segment{
			{ms(300), DualTone(180, 220)},
		}}
	}
}
