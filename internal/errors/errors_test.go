package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesMetadataFromCode(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{"config", ErrCodeConfigInvalid, CategoryConfig, SeverityError, false},
		{"keyword backend", ErrCodeKeywordBackend, CategoryBackend, SeverityWarning, true},
		{"vector backend", ErrCodeVectorBackend, CategoryBackend, SeverityWarning, true},
		{"corrupt index", ErrCodeCorruptIndex, CategoryBackend, SeverityFatal, false},
		{"validation", ErrCodeInvalidInput, CategoryValidation, SeverityError, false},
		{"internal", ErrCodeAllChannelsFailed, CategoryInternal, SeverityError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestWrap_PreservesChain(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(cause, ErrCodeSynonymStore, "synonym lookup failed")

	require.ErrorIs(t, err, cause)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, ErrCodeSynonymStore, CodeOf(err))
}

func TestIs_MatchesByCode(t *testing.T) {
	a := New(ErrCodeQueryEmpty, "empty", nil)
	b := New(ErrCodeQueryEmpty, "different message", nil)

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, New(ErrCodeInvalidInput, "other", nil)))
}

func TestCodeOf_NonSearchError(t *testing.T) {
	assert.Equal(t, ErrCodeInternal, CodeOf(fmt.Errorf("plain")))
	assert.False(t, IsRetryable(fmt.Errorf("plain")))
}

func TestWithDetail(t *testing.T) {
	err := New(ErrCodeSearchFailed, "search failed", nil).
		WithDetail("query", "房贷利率").
		WithDetail("strategy", "failed")

	assert.Equal(t, "房贷利率", err.Details["query"])
	assert.Equal(t, "failed", err.Details["strategy"])
	assert.Equal(t, "[ERR_503_SEARCH_FAILED] search failed", err.Error())
}
