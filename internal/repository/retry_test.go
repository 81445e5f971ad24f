package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type codedError struct{ code int }

func (e codedError) Error() string { return fmt.Sprintf("sqlite error %d", e.code) }
func (e codedError) Code() int     { return e.code }

func fastRetry() retryConfig {
	return retryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      2 * time.Millisecond,
		BackoffFactor: 2,
	}
}

func TestIsSQLiteBusy(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"busy code", codedError{code: 5}, true},
		{"extended busy code", codedError{code: 5 | 1<<8}, true},
		{"wrapped busy code", fmt.Errorf("insert: %w", codedError{code: 5}), true},
		{"constraint code", codedError{code: 19}, false},
		{"locked message", errors.New("database is locked"), true},
		{"busy message", errors.New("SQLITE_BUSY: retry"), true},
		{"other", errors.New("no such table"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isSQLiteBusy(tt.err))
		})
	}
}

func TestRetryWithCheck_RetriesUntilSuccess(t *testing.T) {
	attempts := 0
	got, err := retryWithCheck(context.Background(), fastRetry(), func() (int, error) {
		attempts++
		if attempts < 3 {
			return 0, errors.New("database is locked")
		}
		return 42, nil
	}, isSQLiteBusy)

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithCheck_StopsOnPermanentError(t *testing.T) {
	attempts := 0
	_, err := retryWithCheck(context.Background(), fastRetry(), func() (int, error) {
		attempts++
		return 0, errors.New("UNIQUE constraint failed")
	}, isSQLiteBusy)

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryWithCheck_GivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	_, err := retryWithCheck(context.Background(), fastRetry(), func() (int, error) {
		attempts++
		return 0, errors.New("database is locked")
	}, isSQLiteBusy)

	require.EqualError(t, err, "database is locked")
	assert.Equal(t, 3, attempts)
}

func TestRetryWithCheck_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := fastRetry()
	cfg.InitialDelay = time.Hour
	_, err := retryWithCheck(ctx, cfg, func() (int, error) {
		return 0, errors.New("database is locked")
	}, isSQLiteBusy)

	assert.ErrorIs(t, err, context.Canceled)
}
