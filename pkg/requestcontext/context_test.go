package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRequestScopedValues(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))

	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ctx = WithRequestID(WithTime(ctx, fixed), "req-1")
	assert.Equal(t, "req-1", RequestID(ctx))
	assert.Equal(t, fixed, Now(ctx))
}

func TestNowFallsBackToWallClock(t *testing.T) {
	before := time.Now()
	got := Now(context.Background())
	assert.False(t, got.Before(before))
}
