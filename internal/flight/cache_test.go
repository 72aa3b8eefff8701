package flight

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBeginSingleOwner(t *testing.T) {
	c := NewCache()
	fp := Fingerprint("fp1")

	var owners atomic.Int32
	var wg sync.WaitGroup
	results := make([]string, 20)
	errs := make([]error, 20)

	start := make(chan struct{})
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			comp, owner := c.Begin(fp)
			if owner {
				owners.Add(1)
				time.Sleep(20 * time.Millisecond)
				c.Complete(comp, "artifact-1")
				results[i] = "artifact-1"
				return
			}
			results[i], errs[i] = comp.Wait(context.Background(), time.Second)
		}(i)
	}
	close(start)
	wg.Wait()

	if got := owners.Load(); got != 1 {
		t.Fatalf("owners = %d, want 1", got)
	}
	for i := range results {
		require.NoError(t, errs[i])
		require.Equal(t, "artifact-1", results[i])
	}

	id, ok := c.Resolve(fp)
	require.True(t, ok)
	require.Equal(t, "artifact-1", id)
}

func TestFailBroadcastsAndDoesNotPoison(t *testing.T) {
	c := NewCache()
	fp := Fingerprint("fp1")

	comp, owner := c.Begin(fp)
	require.True(t, owner)

	joiner, owner2 := c.Begin(fp)
	require.False(t, owner2)
	require.Same(t, comp, joiner)

	wantErr := context.DeadlineExceeded
	go c.Fail(comp, wantErr)

	_, err := joiner.Wait(context.Background(), time.Second)
	require.ErrorIs(t, err, wantErr)

	// The failure is not cached: the next request starts fresh.
	_, ok := c.Resolve(fp)
	require.False(t, ok)
	retry, owner3 := c.Begin(fp)
	require.True(t, owner3)
	c.Complete(retry, "artifact-2")

	id, ok := c.Resolve(fp)
	require.True(t, ok)
	require.Equal(t, "artifact-2", id)
}

func TestBeginAfterCompleteReturnsResolved(t *testing.T) {
	c := NewCache()
	fp := Fingerprint("fp1")
	comp, _ := c.Begin(fp)
	c.Complete(comp, "artifact-1")

	late, owner := c.Begin(fp)
	require.False(t, owner)
	select {
	case <-late.Done():
	default:
		t.Fatal("pre-resolved computation must be done already")
	}
	id, err := late.Result()
	require.NoError(t, err)
	require.Equal(t, "artifact-1", id)
}

func TestWaitTimeout(t *testing.T) {
	c := NewCache()
	comp, owner := c.Begin(Fingerprint("fp1"))
	require.True(t, owner)
	_ = comp

	joiner, _ := c.Begin(Fingerprint("fp1"))
	_, err := joiner.Wait(context.Background(), 10*time.Millisecond)
	require.True(t, IsWaitTimeout(err), "want wait timeout, got %v", err)

	// The computation is still live for everyone else.
	require.Equal(t, 1, c.Len())
}

func TestWaitContextCanceled(t *testing.T) {
	c := NewCache()
	c.Begin(Fingerprint("fp1"))
	joiner, _ := c.Begin(Fingerprint("fp1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := joiner.Wait(ctx, time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestInvalidate(t *testing.T) {
	c := NewCache()
	fp := Fingerprint("fp1")
	comp, _ := c.Begin(fp)
	c.Complete(comp, "artifact-1")

	require.False(t, c.Invalidate(fp, "other"), "mismatched id must not drop the entry")
	require.True(t, c.Invalidate(fp, "artifact-1"))
	require.False(t, c.Invalidate(fp, "artifact-1"), "second invalidation is a no-op")

	_, ok := c.Resolve(fp)
	require.False(t, ok)
}

func TestPrime(t *testing.T) {
	c := NewCache()
	c.Prime(Fingerprint("fp1"), "artifact-1")
	id, ok := c.Resolve(Fingerprint("fp1"))
	require.True(t, ok)
	require.Equal(t, "artifact-1", id)

	// Prime never overwrites a live entry.
	c.Prime(Fingerprint("fp1"), "artifact-2")
	id, _ = c.Resolve(Fingerprint("fp1"))
	require.Equal(t, "artifact-1", id)
}
