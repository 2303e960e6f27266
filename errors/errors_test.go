package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil defaults to transient", nil, ErrorTransient},
		{"connection lost is transient", ErrConnectionLost, ErrorTransient},
		{"context deadline is transient", context.DeadlineExceeded, ErrorTransient},
		{"invalid config is fatal", ErrInvalidConfig, ErrorFatal},
		{"missing config is fatal", ErrMissingConfig, ErrorFatal},
		{"invalid frame is invalid", ErrInvalidFrame, ErrorInvalid},
		{"unknown type tag is invalid", ErrUnknownVariant, ErrorInvalid},
		{"timeout message is transient", errors.New("read timeout on socket"), ErrorTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestWrapPreservesSentinel(t *testing.T) {
	err := WrapInvalid(ErrMissingConfig, "Loader", "Load", "ntime_chunk validation")
	require.Error(t, err)

	assert.True(t, errors.Is(err, ErrMissingConfig))
	assert.True(t, IsInvalid(err))
	assert.Contains(t, err.Error(), "Loader.Load")
	assert.Contains(t, err.Error(), "ntime_chunk validation")
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "c", "m", "a"))
	assert.NoError(t, WrapTransient(nil, "c", "m", "a"))
	assert.NoError(t, WrapInvalid(nil, "c", "m", "a"))
	assert.NoError(t, WrapFatal(nil, "c", "m", "a"))
}

func TestClassifiedErrorUnwrap(t *testing.T) {
	inner := fmt.Errorf("bind: %w", ErrConnectionTimeout)
	err := WrapTransient(inner, "vdif-source", "Start", "socket bind")

	var ce *ClassifiedError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, ErrorTransient, ce.Class)
	assert.Equal(t, "vdif-source", ce.Component)
	assert.True(t, errors.Is(err, ErrConnectionTimeout))
}

func TestClassificationOverridesHeuristics(t *testing.T) {
	// A classified fatal error stays fatal even if its message matches a
	// transient pattern.
	err := WrapFatal(errors.New("connection handler corrupted state"), "sifter", "Run", "state check")
	assert.True(t, IsFatal(err))
	assert.False(t, IsTransient(err))
}

func TestRetryConfigShouldRetry(t *testing.T) {
	rc := DefaultRetryConfig()

	assert.True(t, rc.ShouldRetry(ErrConnectionLost, 0))
	assert.False(t, rc.ShouldRetry(ErrConnectionLost, rc.MaxRetries))
	assert.False(t, rc.ShouldRetry(WrapInvalid(ErrInvalidFrame, "c", "m", "a"), 0))
	assert.False(t, rc.ShouldRetry(nil, 0))
}

func TestToRetryConfig(t *testing.T) {
	rc := RetryConfig{
		MaxRetries:    4,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 1.5,
	}

	cfg := rc.ToRetryConfig()
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, time.Second, cfg.MaxDelay)
	assert.InDelta(t, 1.5, cfg.Multiplier, 1e-9)
	assert.True(t, cfg.AddJitter)
}
