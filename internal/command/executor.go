package command

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("command executor closed")

// Job is one process to run.
type Job struct {
	Name  string
	Argv  []string
	Input string
}

type Result struct {
	ExitCode int
	Err      error
}

type request struct {
	job  Job
	done chan Result
}

// Executor runs jobs on a single worker so no two commands overlap.
type Executor struct {
	stdout, stderr io.Writer
	timeout        time.Duration

	mu     sync.RWMutex
	closed bool
	reqs   chan request
	wg     sync.WaitGroup
}

type Option func(*Executor)

// WithOutput sets where child stdout and stderr go; defaults to the process's own.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(e *Executor) { e.stdout, e.stderr = stdout, stderr }
}

// WithTimeout bounds fire-and-forget jobs; 0 means none.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

func NewExecutor(opts ...Option) *Executor {
	e := &Executor{stdout: os.Stdout, stderr: os.Stderr, reqs: make(chan request, 32)}
	for _, o := range opts {
		o(e)
	}
	e.wg.Add(1)
	go e.worker()
	return e
}

func (e *Executor) worker() {
	defer e.wg.Done()
	for r := range e.reqs {
		ctx, cancel := context.Background(), context.CancelFunc(func() {})
		if r.done == nil && e.timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, e.timeout)
		}
		start := time.Now()
		code, err := RunWithInput(ctx, r.job.Argv, r.job.Input, e.stdout, e.stderr)
		cancel()

		ev := log.Debug()
		if err != nil || code != 0 {
			ev = log.Warn()
		}
		ev.Err(err).
			Str("job", r.job.Name).
			Strs("argv", r.job.Argv).
			Int("exit_code", code).
			Dur("took", time.Since(start)).
			Msg("command: finished")

		if r.done != nil {
			r.done <- Result{ExitCode: code, Err: err}
		}
	}
}

// Submit queues job without waiting; errors are only logged.
func (e *Executor) Submit(job Job) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}
	select {
	case e.reqs <- request{job: job}:
	default:
		log.Warn().Str("job", job.Name).Msg("command: queue full, dropping job")
	}
}

// Run queues job behind any pending work and waits for its exit code.
func (e *Executor) Run(ctx context.Context, job Job) (int, error) {
	done := make(chan Result, 1)
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return -1, ErrClosed
	}
	select {
	case e.reqs <- request{job: job, done: done}:
		e.mu.RUnlock()
	case <-ctx.Done():
		e.mu.RUnlock()
		return -1, ctx.Err()
	}
	select {
	case r := <-done:
		return r.ExitCode, r.Err
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// Close waits for queued jobs and stops the worker.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.reqs)
	e.mu.Unlock()
	e.wg.Wait()
}
