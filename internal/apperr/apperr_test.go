package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapNilIsNil(t *testing.T) {
	assert.Nil(t, Wrap(ExternalUnavailable, "search failed", nil))
	assert.NoError(t, WithStep("retrieve", nil))
}

func TestErrorMessageFormat(t *testing.T) {
	err := New(InvalidInput, "query is empty")
	assert.Equal(t, "invalid_input: query is empty", err.Error())

	err = Wrap(ExternalUnavailable, "qdrant upsert", errors.New("dial tcp: refused"))
	err.Step = "index"
	assert.Equal(t, "index: external_unavailable: qdrant upsert", err.Error())

	// A wrap with no message falls back to the cause.
	bare := Wrap(Internal, "", errors.New("boom"))
	assert.Equal(t, "internal: boom", bare.Error())
}

func TestWithStep_FirstWriterWins(t *testing.T) {
	err := WithStep("embed", New(ExternalUnavailable, "service down"))
	err = WithStep("index", err)
	assert.Equal(t, "embed", StepOf(err))
	assert.Equal(t, ExternalUnavailable, KindOf(err))
}

func TestWithStep_WrapsUnclassified(t *testing.T) {
	cause := errors.New("disk full")
	err := WithStep("store", cause)

	assert.Equal(t, "store", StepOf(err))
	assert.Equal(t, Internal, KindOf(err))
	assert.ErrorIs(t, err, cause)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, NotFound, KindOf(New(NotFound, "no such document")))
	assert.Equal(t, Cancelled, KindOf(context.Canceled))
	assert.Equal(t, Cancelled, KindOf(fmt.Errorf("waiting: %w", context.DeadlineExceeded)))
	assert.Equal(t, Internal, KindOf(errors.New("plain")))
	assert.Equal(t, Internal, KindOf(nil))
}

func TestKindOf_SurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("handler: %w", New(QuotaExceeded, "rate limited"))
	assert.Equal(t, QuotaExceeded, KindOf(err))
	assert.True(t, Is(err, QuotaExceeded))
	assert.False(t, Is(err, ProviderUnavailable))
}

func TestIs_UnclassifiedIsNoKind(t *testing.T) {
	assert.False(t, Is(errors.New("plain"), Internal))
	assert.Empty(t, StepOf(errors.New("plain")))
}

func TestKindString(t *testing.T) {
	require.Equal(t, "invalid_input", InvalidInput.String())
	require.Equal(t, "already_indexed", AlreadyIndexed.String())
	require.Equal(t, "response_shape_mismatch", ResponseShapeMismatch.String())
	require.Equal(t, "generation_failed", GenerationFailed.String())
	require.Equal(t, "internal", Internal.String())
	require.Equal(t, "internal", Kind(999).String())
}
