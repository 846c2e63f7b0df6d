package lock

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLockerSerializesPerKey(t *testing.T) {
	locker := NewMemory()
	ctx := context.Background()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(ctx, "key-1")
			if !assert.NoError(t, err) {
				return
			}
			defer release()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
}

func TestMemoryLockerIndependentKeys(t *testing.T) {
	locker := NewMemory()
	ctx := context.Background()

	releaseA, err := locker.Acquire(ctx, "key-a")
	require.NoError(t, err)
	defer releaseA()

	// A different key must not block behind key-a.
	done := make(chan struct{})
	go func() {
		releaseB, err := locker.Acquire(ctx, "key-b")
		assert.NoError(t, err)
		releaseB()
		close(done)
	}()
	<-done
}
