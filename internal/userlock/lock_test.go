package userlock

import (
	"context"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAcquireSerializesSameUser(t *testing.T) {
	l := New(nil, zap.NewNop())
	userID := snowflake.ID(42)

	const workers = 16
	var inside, max int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			release, err := l.Acquire(context.Background(), userID)
			require.NoError(t, err)
			defer release()

			mu.Lock()
			inside++
			if inside > max {
				max = inside
			}
			mu.Unlock()

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, max, "one holder at a time per user")
}

func TestAcquireDifferentUsersDoNotBlock(t *testing.T) {
	l := New(nil, zap.NewNop())

	releaseA, err := l.Acquire(context.Background(), snowflake.ID(1))
	require.NoError(t, err)
	defer releaseA()

	done := make(chan struct{})
	go func() {
		releaseB, err := l.Acquire(context.Background(), snowflake.ID(2))
		assert.NoError(t, err)
		releaseB()
		close(done)
	}()

	<-done
}

func TestReleaseIsIdempotent(t *testing.T) {
	l := New(nil, zap.NewNop())

	release, err := l.Acquire(context.Background(), snowflake.ID(42))
	require.NoError(t, err)
	release()
	release()

	again, err := l.Acquire(context.Background(), snowflake.ID(42))
	require.NoError(t, err)
	again()
}

func TestZeroUserIDRejected(t *testing.T) {
	l := New(nil, zap.NewNop())

	_, err := l.Acquire(context.Background(), 0)
	assert.Error(t, err)
}

func TestEntriesAreReclaimed(t *testing.T) {
	l := New(nil, zap.NewNop())

	release, err := l.Acquire(context.Background(), snowflake.ID(42))
	require.NoError(t, err)
	release()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.entries)
}
