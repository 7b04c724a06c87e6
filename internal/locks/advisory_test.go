package locks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "tenant-1/plan-1/publish", Key("tenant-1", "plan-1", "publish"))
}

func TestHashKeyIsStable(t *testing.T) {
	assert.Equal(t, HashKey("tenant-1/plan-1/publish"), HashKey("tenant-1/plan-1/publish"))
	assert.NotEqual(t, HashKey("tenant-1/plan-1/publish"), HashKey("tenant-1/plan-2/publish"))
}

func TestMemoryLockerAcquireRelease(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	release, err := l.TryAcquire(ctx, "k", 100*time.Millisecond)
	require.NoError(t, err)

	// Held: a second acquire times out.
	_, err = l.TryAcquire(ctx, "k", 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrBusy)

	// Different keys do not contend.
	release2, err := l.TryAcquire(ctx, "other", 20*time.Millisecond)
	require.NoError(t, err)
	release2()

	release()
	release() // double release is harmless

	release3, err := l.TryAcquire(ctx, "k", 20*time.Millisecond)
	require.NoError(t, err)
	release3()
}

func TestMemoryLockerWaiterWakesOnRelease(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	release, err := l.TryAcquire(ctx, "k", time.Second)
	require.NoError(t, err)

	got := make(chan error, 1)
	go func() {
		r, err := l.TryAcquire(ctx, "k", 2*time.Second)
		if err == nil {
			r()
		}
		got <- err
	}()

	time.Sleep(20 * time.Millisecond)
	release()

	select {
	case err := <-got:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}
}

func TestMemoryLockerRespectsContext(t *testing.T) {
	l := NewMemoryLocker()
	release, err := l.TryAcquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.TryAcquire(ctx, "k", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryLockerMutualExclusion(t *testing.T) {
	l := NewMemoryLocker()

	var (
		mu      sync.Mutex
		holders int
		maxSeen int
	)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.TryAcquire(context.Background(), "k", 5*time.Second)
			require.NoError(t, err)
			mu.Lock()
			holders++
			if holders > maxSeen {
				maxSeen = holders
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			holders--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}
