package shared

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnavailableKeepsDomainErrors(t *testing.T) {
	assert.Nil(t, Unavailable("op", nil))
	assert.Same(t, ErrPeriodClosed, Unavailable("op", ErrPeriodClosed))

	terr := &TransitionError{From: "valido", To: "enviado"}
	assert.Same(t, error(terr), Unavailable("op", terr))
	assert.ErrorIs(t, terr, ErrInvalidTransition)

	err := Unavailable("expenses: load", errors.New("conn reset"))
	assert.ErrorIs(t, err, ErrDependencyUnavailable)
	assert.False(t, IsDomainError(err))

	timeout := Unavailable("expenses: load", context.DeadlineExceeded)
	assert.ErrorIs(t, timeout, ErrDependencyUnavailable)
	assert.ErrorIs(t, timeout, context.DeadlineExceeded)
	assert.Contains(t, timeout.Error(), "timeout")
}

func TestValidationErrorMatches(t *testing.T) {
	err := Invalid("motivo", "required")
	assert.ErrorIs(t, err, ErrValidation)
	assert.True(t, IsDomainError(err))
	assert.Equal(t, "validation failed: motivo required", err.Error())
}

func TestRetryOnlyRetriesUnavailable(t *testing.T) {
	policy := RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}

	calls := 0
	err := Retry(context.Background(), policy, func(context.Context) error {
		calls++
		return ErrConflictingTransition
	})
	require.ErrorIs(t, err, ErrConflictingTransition)
	assert.Equal(t, 1, calls)

	calls = 0
	err = Retry(context.Background(), policy, func(context.Context) error {
		calls++
		if calls < 3 {
			return Unavailable("op", errors.New("flaky"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = Retry(context.Background(), policy, func(context.Context) error {
		calls++
		return Unavailable("op", errors.New("down"))
	})
	require.ErrorIs(t, err, ErrDependencyUnavailable)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, RetryPolicy{Attempts: 5, BaseDelay: time.Hour}, func(context.Context) error {
		calls++
		cancel()
		return Unavailable("op", errors.New("down"))
	})
	require.ErrorIs(t, err, ErrDependencyUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
