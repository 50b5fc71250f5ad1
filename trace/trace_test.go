package trace

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	id, ok := RequestIDFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "req-1", id)
}

func TestRequestIDMissing(t *testing.T) {
	_, ok := RequestIDFromContext(context.Background())
	assert.False(t, ok)

	_, ok = RequestIDFromContext(WithRequestID(context.Background(), ""))
	assert.False(t, ok)
}

func TestEnsureRequestID(t *testing.T) {
	t.Run("uses existing", func(t *testing.T) {
		ctx := WithRequestID(context.Background(), "existing")
		assert.Equal(t, "existing", EnsureRequestID(ctx))
	})

	t.Run("generates uuid when missing", func(t *testing.T) {
		got := EnsureRequestID(context.Background())
		_, err := uuid.Parse(got)
		assert.NoError(t, err)
	})
}

func TestNewRequestIDIsUnique(t *testing.T) {
	assert.NotEqual(t, NewRequestID(), NewRequestID())
}
