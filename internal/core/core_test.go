package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 25, ClampLimit(0, 0, 0))
	assert.Equal(t, 10, ClampLimit(10, 25, 100))
	assert.Equal(t, 100, ClampLimit(500, 25, 100))
}

func TestRetrySucceedsEventually(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), RetryPolicy{Attempts: 3, InitialBackoff: time.Millisecond, Multiplier: 1}, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryExhausted(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), RetryPolicy{Attempts: 2}, func() error {
		attempts++
		return errors.New("permanent")
	})
	require.Error(t, err)
	assert.Equal(t, 2, attempts)
}

func TestNoopTracer(t *testing.T) {
	ctx, finish := NoopTracer.StartSpan(context.Background(), "op", nil)
	assert.NotNil(t, ctx)
	finish(nil)
}

func TestDescriptorWithCapabilities(t *testing.T) {
	d := Descriptor{Name: "x"}.WithCapabilities("a", "b")
	assert.Equal(t, []string{"a", "b"}, d.Capabilities)
}
