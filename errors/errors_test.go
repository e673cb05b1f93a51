package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New("collector offline")
	require.NotNil(t, err)
	assert.Equal(t, "collector offline", err.Error())
}

func TestWrapPreservesChain(t *testing.T) {
	original := New("original")
	wrapped := Wrap(original, "failed to persist observation")

	assert.Contains(t, wrapped.Error(), "failed to persist observation")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
}

func TestWithDetailCollectsAllDetails(t *testing.T) {
	err := New("poll failed")
	err = WithDetail(err, "Source: weather")
	err = WithDetail(err, "Attempt: 3")

	details := GetAllDetails(err)
	require.Len(t, details, 2)
	assert.Contains(t, details, "Source: weather")
	assert.Contains(t, details, "Attempt: 3")
}

func TestWithHint(t *testing.T) {
	err := WithHint(New("bad frequency"), "frequency must be positive")
	hints := GetAllHints(err)
	require.Len(t, hints, 1)
	assert.Equal(t, "frequency must be positive", hints[0])
}
