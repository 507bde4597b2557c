package jobs_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cohortly/memberd/internal/jobs"
)

func TestJob_RunsAfterDependencies(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	logger := zap.NewNop()

	order := make(chan string, 2)
	first := jobs.Start(ctx, logger, "first", nil, func(context.Context) error {
		order <- "first"
		return nil
	})
	second := jobs.Start(ctx, logger, "second", []*jobs.Job{first}, func(context.Context) error {
		order <- "second"
		return nil
	})

	require.NoError(t, second.Wait(ctx))
	assert.Equal(t, "first", <-order)
	assert.Equal(t, "second", <-order)
	assert.Equal(t, jobs.StateSucceeded, first.State())
	assert.Equal(t, jobs.StateSucceeded, second.State())
}

func TestJob_SkippedWhenDependencyFails(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	logger := zap.NewNop()

	failure := errors.New("boom")
	first := jobs.Start(ctx, logger, "first", nil, func(context.Context) error {
		return failure
	})
	second := jobs.Start(ctx, logger, "second", []*jobs.Job{first}, func(context.Context) error {
		t.Error("skipped job must not run")
		return nil
	})

	err := second.Wait(ctx)
	assert.ErrorIs(t, err, jobs.ErrDependencyFailed)
	assert.ErrorIs(t, err, failure)
	assert.Equal(t, jobs.StateFailed, first.State())
	assert.Equal(t, jobs.StateSkipped, second.State())
}

func TestJob_TransitiveSkip(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	logger := zap.NewNop()

	first := jobs.Start(ctx, logger, "first", nil, func(context.Context) error {
		return errors.New("boom")
	})
	second := jobs.Start(ctx, logger, "second", []*jobs.Job{first}, func(context.Context) error {
		return nil
	})
	third := jobs.Start(ctx, logger, "third", []*jobs.Job{second}, func(context.Context) error {
		return nil
	})

	assert.ErrorIs(t, third.Wait(ctx), jobs.ErrDependencyFailed)
	assert.Equal(t, jobs.StateSkipped, second.State())
	assert.Equal(t, jobs.StateSkipped, third.State())
}

func TestAwaitEndless_FailureIsFatal(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	logger := zap.NewNop()

	block := jobs.Start(ctx, logger, "block", nil, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	crash := jobs.Start(ctx, logger, "crash", nil, func(context.Context) error {
		return errors.New("gateway dropped")
	})

	err := jobs.AwaitEndless(ctx, block, crash)
	require.ErrorIs(t, err, jobs.ErrEndlessJobTerminated)
	assert.ErrorContains(t, err, "gateway dropped")
}

func TestAwaitEndless_CleanReturnIsStillFatal(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	logger := zap.NewNop()

	done := jobs.Start(ctx, logger, "done", nil, func(context.Context) error {
		return nil
	})

	err := jobs.AwaitEndless(ctx, done)
	assert.ErrorIs(t, err, jobs.ErrEndlessJobTerminated)
}

func TestAwaitEndless_ContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	logger := zap.NewNop()

	release := make(chan struct{})
	defer close(release)

	block := jobs.Start(ctx, logger, "block", nil, func(context.Context) error {
		<-release
		return nil
	})

	cancel()
	err := jobs.AwaitEndless(ctx, block)
	assert.ErrorIs(t, err, context.Canceled)
}
