package feedback

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanDurations(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, PlanFor(CueRecordingStart).Duration())
	assert.Equal(t, 500*time.Millisecond, PlanFor(CueRecordingStop).Duration())
	assert.Equal(t, 400*time.Millisecond, PlanFor(CueSuccess).Duration())
	assert.Equal(t, 300*time.Millisecond, PlanFor(CueError).Duration())
	assert.Equal(t, 2.0, PlanFor(CueRecordingStart).Gain)
}

func TestRender(t *testing.T) {
	samples := Render(PlanFor(CueSuccess), 16000, 0.1)
	require.Len(t, samples, 6400)

	var peak float64
	for _, s := range samples {
		peak = math.Max(peak, math.Abs(float64(s)))
	}
	assert.InDelta(t, 0.1, peak, 0.005)
	assert.Zero(t, samples[0], "attack ramp starts from zero")

	gap := samples[2560:3840]
	for _, s := range gap {
		require.Zero(t, s)
	}
}

func TestRenderStartCueUsesGain(t *testing.T) {
	samples := Render(PlanFor(CueRecordingStart), 16000, 0.1)
	var peak float64
	for _, s := range samples {
		peak = math.Max(peak, math.Abs(float64(s)))
	}
	assert.InDelta(t, 0.2, peak, 0.01)
}

type recordingPlayer struct {
	mu      sync.Mutex
	active  int
	overlap bool
	played  []int
}

func (p *recordingPlayer) Play(_ context.Context, samples []float32, _ int) error {
	p.mu.Lock()
	p.active++
	if p.active > 1 {
		p.overlap = true
	}
	p.played = append(p.played, len(samples))
	p.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	p.mu.Lock()
	p.active--
	p.mu.Unlock()
	return nil
}

func TestSerializerNeverOverlaps(t *testing.T) {
	player := &recordingPlayer{}
	s := NewSerializer(player, Options{Enabled: true, Volume: 0.1, SampleRate: 8000})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Submit(CueSuccess)
		}()
	}
	wg.Wait()
	require.NoError(t, s.Play(t.Context(), CueError))
	s.Close()

	assert.False(t, player.overlap)
	assert.Len(t, player.played, 5)
}

func TestSerializerPlaysInSubmissionOrder(t *testing.T) {
	var order []Cue
	player := &recordingPlayer{}
	s := NewSerializer(player, Options{Enabled: true, SampleRate: 8000, OnCue: func(c Cue) { order = append(order, c) }})

	s.Submit(CueRecordingStart)
	s.Submit(CueRecordingStop)
	require.NoError(t, s.Play(t.Context(), CueSuccess))
	s.Close()

	assert.Equal(t, []Cue{CueRecordingStart, CueRecordingStop, CueSuccess}, order)
}

func TestSerializerDisabled(t *testing.T) {
	player := &recordingPlayer{}
	s := NewSerializer(player, Options{Enabled: false})
	s.Submit(CueError)
	require.NoError(t, s.Play(t.Context(), CueError))
	s.Close()
	assert.Empty(t, player.played)
}

func TestSerializerClosed(t *testing.T) {
	s := NewSerializer(&recordingPlayer{}, Options{Enabled: true})
	s.Close()
	s.Close()
	s.Submit(CueError)
	assert.ErrorIs(t, s.Play(t.Context(), CueError), ErrClosed)
}

func TestNotifier(t *testing.T) {
	var got []string
	n := &Notifier{Enabled: true, Title: "govoice", send: func(title, msg string) error {
		got = append(got, title+": "+msg)
		return nil
	}}
	n.Notify("done")
	(&Notifier{send: n.send}).Notify("ignored")
	var nilNotifier *Notifier
	nilNotifier.Notify("ignored")

	assert.Equal(t, []string{"govoice: done"}, got)
}
