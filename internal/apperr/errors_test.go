package apperr

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotFoundError(t *testing.T) {
	err := NewNotFoundError("flow", "abc")
	require.EqualError(t, err, `flow "abc" not found`)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsValidation(err))
}

func TestClassifyTyped(t *testing.T) {
	cases := []struct {
		err  error
		want Type
	}{
		{NewValidationError("bad spec"), TypeValidation},
		{NewNotFoundError("run", "1"), TypeNotFound},
		{NewTimeoutError("dispatch exceeded"), TypeTimeout},
		{NewExecutionError("boom"), TypeExecution},
		{NewStorageError("5s", "db down"), TypeStorage},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.err))
	}
}

func TestClassifyBySubstringFallback(t *testing.T) {
	cases := []struct {
		msg  string
		want Type
	}{
		{"request timeout exceeded", TypeTimeout},
		{"resource not found", TypeNotFound},
		{"validation failed: missing field", TypeValidation},
		{"invalid condition syntax", TypeValidation},
		{"unexpected nil pointer", TypeExecution},
	}
	for _, tc := range cases {
		got := Classify(fmt.Errorf("%s", tc.msg))
		assert.Equal(t, tc.want, got, tc.msg)
	}
}
