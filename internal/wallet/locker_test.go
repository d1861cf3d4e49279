package wallet

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAccountLockerSerializesPerKey(t *testing.T) {
	l := newAccountLocker()

	release, err := l.Acquire(context.Background(), "a")
	require.NoError(t, err)

	// other keys are independent
	releaseB, err := l.Acquire(context.Background(), "b")
	require.NoError(t, err)
	releaseB()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "a")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release()
	require.Equal(t, 0, l.size())
}

func TestAccountLockerDropsIdleEntries(t *testing.T) {
	l := newAccountLocker()

	var wg sync.WaitGroup
	var mu sync.Mutex
	inside := 0
	maxInside := 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "shared")
			if err != nil {
				return
			}
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()

	require.Equal(t, 1, maxInside)
	require.Equal(t, 0, l.size())
}
