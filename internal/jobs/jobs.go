// Package jobs runs named units of work with declared dependencies. A job
// starts as soon as every dependency has succeeded; if any dependency
// fails, the job is skipped rather than run. Endless jobs are expected to
// run for the whole process lifetime, and their termination is fatal.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrDependencyFailed marks a job skipped because a dependency did not
	// succeed.
	ErrDependencyFailed = errors.New("dependency did not succeed")
	// ErrEndlessJobTerminated reports that a job expected to run forever
	// returned. Partial operation is worse than a visible crash, so callers
	// treat this as fatal.
	ErrEndlessJobTerminated = errors.New("endless job terminated")
)

// State is the lifecycle state of a job.
type State int

const (
	StatePending State = iota
	StateRunning
	StateSucceeded
	StateFailed
	StateSkipped
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Job is one asynchronous unit of work. It begins executing as soon as all
// of its dependencies have succeeded and lives for the process lifetime.
type Job struct {
	name   string
	deps   []*Job
	logger *zap.Logger

	mu    sync.Mutex
	state State
	err   error
	done  chan struct{}
}

// Start creates a job and launches it immediately. The work function runs
// once every dependency succeeds; a failed or skipped dependency skips the
// job instead.
func Start(ctx context.Context, logger *zap.Logger, name string, deps []*Job, work func(ctx context.Context) error) *Job {
	j := &Job{
		name:   name,
		deps:   deps,
		logger: logger.Named("jobs"),
		done:   make(chan struct{}),
	}

	go j.run(ctx, work)
	return j
}

func (j *Job) run(ctx context.Context, work func(ctx context.Context) error) {
	defer close(j.done)

	for _, dep := range j.deps {
		if err := dep.Wait(ctx); err != nil {
			j.logger.Error("Job skipped due to failed dependency",
				zap.String("job", j.name),
				zap.String("dependency", dep.Name()),
				zap.Error(err))
			j.finish(StateSkipped, fmt.Errorf("%w: %q waiting on %q: %w", ErrDependencyFailed, j.name, dep.Name(), err))
			return
		}
	}

	j.setState(StateRunning)
	j.logger.Debug("Job started", zap.String("job", j.name))

	if err := work(ctx); err != nil {
		j.logger.Warn("Job failed", zap.String("job", j.name), zap.Error(err))
		j.finish(StateFailed, fmt.Errorf("job %q failed: %w", j.name, err))
		return
	}

	j.logger.Debug("Job succeeded", zap.String("job", j.name))
	j.finish(StateSucceeded, nil)
}

// Name returns the job's name.
func (j *Job) Name() string {
	return j.name
}

// State returns the job's current lifecycle state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Err returns the job's terminal error, nil while the job has not failed
// or been skipped.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Wait blocks until the job reaches a terminal state and returns its
// error, or returns early if ctx is cancelled first.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return j.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Job) setState(state State) {
	j.mu.Lock()
	j.state = state
	j.mu.Unlock()
}

func (j *Job) finish(state State, err error) {
	j.mu.Lock()
	j.state = state
	j.err = err
	j.mu.Unlock()
}

// AwaitEndless blocks until any of the given endless jobs terminates, then
// returns ErrEndlessJobTerminated naming it. Termination of an endless job
// is never normal; success and failure are equally fatal to the process.
func AwaitEndless(ctx context.Context, endless ...*Job) error {
	terminated := make(chan *Job, len(endless))
	for _, j := range endless {
		go func() {
			<-j.done
			terminated <- j
		}()
	}

	select {
	case j := <-terminated:
		if err := j.Err(); err != nil {
			return fmt.Errorf("%w: %q: %w", ErrEndlessJobTerminated, j.Name(), err)
		}
		return fmt.Errorf("%w: %q returned without error", ErrEndlessJobTerminated, j.Name())
	case <-ctx.Done():
		return ctx.Err()
	}
}
