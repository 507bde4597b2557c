package utils_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohortly/memberd/pkg/utils"
)

func fastRetryOptions() utils.RetryOptions {
	return utils.RetryOptions{
		MaxElapsedTime:  time.Second,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxRetries:      3,
	}
}

func TestWithRetry_SucceedsFirstTry(t *testing.T) {
	t.Parallel()

	calls := 0
	result, err := utils.WithRetry(t.Context(), func() (int, error) {
		calls++
		return 42, nil
	}, fastRetryOptions())

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_RetriesTransientErrors(t *testing.T) {
	t.Parallel()

	calls := 0
	result, err := utils.WithRetry(t.Context(), func() (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	}, fastRetryOptions())

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_PermanentErrorStopsEarly(t *testing.T) {
	t.Parallel()

	permErr := errors.New("forbidden")
	calls := 0
	_, err := utils.WithRetry(t.Context(), func() (int, error) {
		calls++
		return 0, backoff.Permanent(permErr)
	}, fastRetryOptions())

	assert.ErrorIs(t, err, permErr)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_ContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := utils.WithRetry(ctx, func() (int, error) {
		return 0, errors.New("transient")
	}, fastRetryOptions())

	assert.Error(t, err)
}
