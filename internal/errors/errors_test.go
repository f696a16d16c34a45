package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesCategoryFromCode(t *testing.T) {
	tests := []struct {
		code     string
		category Category
	}{
		{ErrCodeConfigInvalid, CategoryConfig},
		{ErrCodeCacheUnavailable, CategoryIO},
		{ErrCodeGenerationTimeout, CategoryProvider},
		{ErrCodeDimensionMismatch, CategoryValidation},
		{ErrCodeInsertPartial, CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test", nil)
			assert.Equal(t, tt.category, err.Category)
		})
	}
}

func TestNew_DegradableProviderErrorsAreRetryable(t *testing.T) {
	assert.True(t, IsRetryable(GenerationTimeout("slow model", nil)))
	assert.True(t, IsRetryable(EmbeddingError("provider down", nil)))

	// Caller errors never resolve by retrying.
	assert.False(t, IsRetryable(DimensionMismatch(768, 384)))
	assert.False(t, IsRetryable(InvalidWeights("sum is 0.9")))
}

func TestSeverity_FatalCodes(t *testing.T) {
	assert.True(t, IsFatal(New(ErrCodeStoreUnavailable, "db gone", nil)))
	assert.True(t, IsFatal(New(ErrCodeCorruptIndex, "torn snapshot", nil)))
	assert.False(t, IsFatal(GenerationTimeout("slow", nil)))
}

func TestError_FormatIncludesCode(t *testing.T) {
	err := Newf(ErrCodeQueryEmpty, "query must not be empty")
	assert.Equal(t, "[ERR_404_QUERY_EMPTY] query must not be empty", err.Error())
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Wrap(ErrCodeStoreUnavailable, cause)

	require.NotNil(t, err)
	assert.Equal(t, cause, err.Unwrap())
	assert.True(t, stderrors.Is(err, cause))
	assert.Equal(t, "disk full", err.Message)
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeStoreUnavailable, nil))
}

func TestIs_MatchesByCode(t *testing.T) {
	a := New(ErrCodeGenerationTimeout, "one", nil)
	b := New(ErrCodeGenerationTimeout, "another", nil)
	c := New(ErrCodeGenerationFailed, "different code", nil)

	assert.True(t, stderrors.Is(a, b))
	assert.False(t, stderrors.Is(a, c))
}

func TestWithDetail_Chains(t *testing.T) {
	err := EmbeddingError("call failed", nil).
		WithDetail("model", "nomic-embed-text").
		WithDetail("intent", "query")

	assert.Equal(t, "nomic-embed-text", err.Details["model"])
	assert.Equal(t, "query", err.Details["intent"])
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeEmbeddingFailed, GetCode(EmbeddingError("x", nil)))
	assert.Equal(t, "", GetCode(fmt.Errorf("plain error")))
	assert.Equal(t, "", GetCode(nil))
}

func TestRetryWithResult_SucceedsAfterTransientFailures(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2.0}

	calls := 0
	result, err := RetryWithResult(context.Background(), cfg, func() (string, error) {
		calls++
		if calls < 3 {
			return "", GenerationTimeout("transient", nil)
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
}

func TestRetryWithResult_NonRetryableAbortsImmediately(t *testing.T) {
	cfg := DefaultRetryConfig()

	calls := 0
	_, err := RetryWithResult(context.Background(), cfg, func() (int, error) {
		calls++
		return 0, DimensionMismatch(768, 384)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, ErrCodeDimensionMismatch, GetCode(err))
}

func TestRetryWithResult_ExhaustsRetries(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1.0}

	calls := 0
	_, err := RetryWithResult(context.Background(), cfg, func() (int, error) {
		calls++
		return 0, GenerationTimeout("always", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls) // initial attempt plus two retries
	assert.Contains(t, err.Error(), "failed after 2 retries")
}

func TestRetryWithResult_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RetryWithResult(ctx, DefaultRetryConfig(), func() (int, error) {
		return 0, GenerationTimeout("never reached after cancel", nil)
	})

	assert.ErrorIs(t, err, context.Canceled)
}
