package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscription_LatestSnapshotWins(t *testing.T) {
	release := make(chan struct{})
	sub := startSubscription(context.Background(), func(ctx context.Context, yield func(int)) error {
		for i := 1; i <= 3; i++ {
			yield(i)
		}
		close(release)
		<-ctx.Done()
		return ctx.Err()
	})
	defer sub.Cancel()

	<-release
	assert.Equal(t, 3, <-sub.Updates())
}

func TestSubscription_ErrorEndsStream(t *testing.T) {
	failure := errors.New("listener lost")
	sub := startSubscription(context.Background(), func(ctx context.Context, yield func(string)) error {
		return failure
	})

	<-sub.Done()
	_, open := <-sub.Updates()
	assert.False(t, open)
	assert.ErrorIs(t, sub.Err(), failure)

	_, err := sub.First(context.Background())
	assert.ErrorIs(t, err, failure)
}

func TestSubscription_CancelIsIdempotent(t *testing.T) {
	sub := startSubscription(context.Background(), func(ctx context.Context, yield func(int)) error {
		yield(1)
		<-ctx.Done()
		yield(2)
		return ctx.Err()
	})

	sub.Cancel()
	sub.Cancel()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("listener did not stop")
	}
	for v := range sub.Updates() {
		t.Fatalf("unexpected value after cancel: %d", v)
	}
	assert.NoError(t, sub.Err())
}

func TestSubscription_FirstHonoursContext(t *testing.T) {
	sub := startSubscription(context.Background(), func(ctx context.Context, yield func(int)) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := sub.First(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	<-sub.Done()
}
