package shim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInPlaceBlockingReturnsResult(t *testing.T) {
	got, err := InPlaceBlocking(context.Background(), time.Second, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, got)
}

func TestInPlaceBlockingTimesOutOnSpin(t *testing.T) {
	tickTime := 5 * time.Millisecond
	deadline := Deadline(tickTime, 3)

	_, err := InPlaceBlocking(context.Background(), deadline, func(ctx context.Context) (int, error) {
		<-ctx.Done() // models a guest spin loop that only the epoch timer can stop
		return 0, ctx.Err()
	})
	require.ErrorIs(t, err, ErrDeadlineElapsed)
}

func TestInPlaceBlockingPropagatesError(t *testing.T) {
	wantErr := errors.New("guest trap")
	_, err := InPlaceBlocking(context.Background(), time.Second, func(ctx context.Context) (int, error) {
		return 0, wantErr
	})
	require.ErrorIs(t, err, wantErr)
}

func TestDeadlineComputation(t *testing.T) {
	require.Equal(t, time.Second, Deadline(10*time.Millisecond, 100))
}
