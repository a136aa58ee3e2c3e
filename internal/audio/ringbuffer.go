package audio

import (
	"errors"
	"sync"
)

// ErrProducerTaken is returned when a second writer asks for the buffer's producer handle.
var ErrProducerTaken = errors.New("ring buffer already has a producer")

// RingBuffer is a bounded mono sample accumulator. When a write would exceed
// capacity the oldest samples are dropped, never the newest.
type RingBuffer struct {
	mu         sync.Mutex
	data       []float32
	head       int // index of the oldest retained sample
	size       int
	written    uint64 // total samples ever written, monotonic
	sampleRate int

	producer bool
	armed    bool // next non-empty write after empty fires onFirst

	onEvict func(n int)
	onFirst func()
}

// RingOption customises a RingBuffer.
type RingOption func(*RingBuffer)

// WithEvictionObserver registers fn to be told how many samples each write evicted.
func WithEvictionObserver(fn func(n int)) RingOption {
	return func(b *RingBuffer) { b.onEvict = fn }
}

// WithFirstWriteObserver registers fn to run on the first non-empty write after the buffer was empty.
func WithFirstWriteObserver(fn func()) RingOption {
	return func(b *RingBuffer) { b.onFirst = fn }
}

// NewRingBuffer allocates a buffer holding sampleRate*maxSeconds samples.
func NewRingBuffer(sampleRate, maxSeconds int, opts ...RingOption) *RingBuffer {
	capacity := sampleRate * maxSeconds
	if capacity < 1 {
		capacity = 1
	}
	b := &RingBuffer{
		data:       make([]float32, capacity),
		sampleRate: sampleRate,
		armed:      true,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Producer hands out the single write handle. Only one may be live at a time.
func (b *RingBuffer) Producer() (*Producer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.producer {
		return nil, ErrProducerTaken
	}
	b.producer = true
	return &Producer{buf: b}, nil
}

func (b *RingBuffer) write(samples []float32) {
	if len(samples) == 0 {
		return
	}
	capacity := len(b.data)

	b.mu.Lock()
	first := b.armed && b.size == 0
	if first {
		b.armed = false
	}
	evicted := 0
	src := samples
	if len(src) >= capacity {
		evicted = b.size + len(src) - capacity
		src = src[len(src)-capacity:]
		copy(b.data, src)
		b.head = 0
		b.size = capacity
	} else {
		if over := b.size + len(src) - capacity; over > 0 {
			evicted = over
			b.head = (b.head + over) % capacity
			b.size -= over
		}
		tail := (b.head + b.size) % capacity
		n := copy(b.data[tail:], src)
		if n < len(src) {
			copy(b.data, src[n:])
		}
		b.size += len(src)
	}
	b.written += uint64(len(samples))
	b.mu.Unlock()

	if first && b.onFirst != nil {
		b.onFirst()
	}
	if evicted > 0 && b.onEvict != nil {
		b.onEvict(evicted)
	}
}

// Read returns a copy of everything currently retained, oldest first.
func (b *RingBuffer) Read() []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.copyRange(0, b.size)
}

// ReadSince returns the retained samples written after position pos, the new
// position to pass next time, and how many samples after pos were evicted
// before they could be read.
func (b *RingBuffer) ReadSince(pos uint64) (samples []float32, next uint64, lost uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	oldest := b.written - uint64(b.size)
	if pos < oldest {
		lost = oldest - pos
		pos = oldest
	}
	if pos >= b.written {
		return nil, b.written, lost
	}
	offset := int(pos - oldest)
	return b.copyRange(offset, b.size-offset), b.written, lost
}

func (b *RingBuffer) copyRange(offset, n int) []float32 {
	out := make([]float32, n)
	if n == 0 {
		return out
	}
	capacity := len(b.data)
	start := (b.head + offset) % capacity
	c := copy(out, b.data[start:min(start+n, capacity)])
	if c < n {
		copy(out[c:], b.data[:n-c])
	}
	return out
}

// Clear empties the buffer without releasing its storage.
func (b *RingBuffer) Clear() {
	b.mu.Lock()
	b.head = 0
	b.size = 0
	b.armed = true
	b.mu.Unlock()
}

// Len reports the number of retained samples.
func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Written reports the monotonic write position.
func (b *RingBuffer) Written() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.written
}

func (b *RingBuffer) Capacity() int   { return len(b.data) }
func (b *RingBuffer) SampleRate() int { return b.sampleRate }

// DurationSeconds is Len divided by the sample rate.
func (b *RingBuffer) DurationSeconds() float64 {
	if b.sampleRate <= 0 {
		return 0
	}
	return float64(b.Len()) / float64(b.sampleRate)
}

// Producer is the exclusive write handle given to the capture callback.
type Producer struct {
	buf      *RingBuffer
	released bool
}

// Write appends samples, evicting the oldest on overflow. It never blocks for
// longer than the buffer's short critical section.
func (p *Producer) Write(samples []float32) {
	if p == nil || p.released {
		return
	}
	p.buf.write(samples)
}

// Release gives the handle back so another producer may be created.
func (p *Producer) Release() {
	if p == nil || p.released {
		return
	}
	p.released = true
	p.buf.mu.Lock()
	p.buf.producer = false
	p.buf.mu.Unlock()
}
