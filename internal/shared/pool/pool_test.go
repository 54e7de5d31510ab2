package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPool_TaskExecution(t *testing.T) {
	p := New(2)
	p.Start()

	var called int32
	require.NoError(t, p.Submit(context.Background(), func() { atomic.AddInt32(&called, 1) }))
	require.NoError(t, p.Submit(context.Background(), func() { atomic.AddInt32(&called, 1) }))

	p.Close()
	require.Equal(t, int32(2), atomic.LoadInt32(&called))
}

func TestPool_CloseWaitsForLongTask(t *testing.T) {
	p := New(1)
	p.Start()

	var done int32
	require.NoError(t, p.Submit(context.Background(), func() {
		time.Sleep(50 * time.Millisecond)
		atomic.StoreInt32(&done, 1)
	}))

	p.Close()
	require.Equal(t, int32(1), atomic.LoadInt32(&done))
}

func TestPool_SubmitAfterClose(t *testing.T) {
	p := New(1)
	p.Start()
	p.Close()

	err := p.Submit(context.Background(), func() {})
	require.ErrorIs(t, err, ErrClosed)

	// second close is a no-op
	p.Close()
}

func TestPool_SubmitHonorsContext(t *testing.T) {
	p := New(1)
	p.Start()
	defer p.Close()

	release := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func() { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, func() {})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}

func TestPool_BoundsConcurrency(t *testing.T) {
	p := New(3)
	require.Equal(t, 3, p.Size())
	p.Start()

	var running, peak int32
	for range 12 {
		require.NoError(t, p.Submit(context.Background(), func() {
			n := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&running, -1)
		}))
	}
	p.Close()

	require.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestNew_ClampsSize(t *testing.T) {
	require.Equal(t, 1, New(0).Size())
}
