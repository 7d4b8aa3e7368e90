package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActiveTracksRunning(t *testing.T) {
	s := New(context.Background())
	release := make(chan struct{})
	s.Go0("blocked", func(ctx context.Context) { <-release })
	s.Go("waits", func(ctx context.Context) error { <-ctx.Done(); return ctx.Err() })

	assert.Equal(t, int64(2), s.Active())

	close(release)
	assert.Eventually(t, func() bool { return s.Active() == 1 }, time.Second, 5*time.Millisecond)

	s.Cancel()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if err != nil {
		require.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, int64(0), s.Active())
}

func TestCancelOnError(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	boom := errors.New("boom")
	s.Go("fails", func(ctx context.Context) error { return boom })
	s.Go("waits", func(ctx context.Context) error { <-ctx.Done(); return nil })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.ErrorIs(t, s.Wait(ctx), boom)
	assert.ErrorIs(t, s.Err(), boom)
}
