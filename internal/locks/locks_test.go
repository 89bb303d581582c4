package locks

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseExclusion(t *testing.T, l Locker) {
	t.Helper()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "session:1")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestLocalLockerExclusion(t *testing.T) {
	l := NewLocalLocker()
	exerciseExclusion(t, l)
	assert.Equal(t, 0, l.held())
}

func TestLocalLockerContextCancel(t *testing.T) {
	l := NewLocalLocker()
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	assert.Equal(t, 0, l.held())

	// independent keys never block each other
	u1, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	u2, err := l.Lock(context.Background(), "b")
	require.NoError(t, err)
	u1()
	u2()
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLockerExclusion(t *testing.T) {
	_, rdb := setupRedis(t)
	exerciseExclusion(t, NewRedisLocker(rdb, time.Second))
}

func TestRedisLockerReleaseOnlyOwnLease(t *testing.T) {
	mr, rdb := setupRedis(t)
	l := NewRedisLocker(rdb, time.Second)

	unlock, err := l.Lock(context.Background(), "s")
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:s"))

	// lease expires and someone else takes it
	mr.FastForward(2 * time.Second)
	unlock2, err := l.Lock(context.Background(), "s")
	require.NoError(t, err)

	// the stale holder must not delete the new lease
	unlock()
	assert.True(t, mr.Exists("lock:s"))

	unlock2()
	assert.False(t, mr.Exists("lock:s"))
}

func TestRedisLockerContextCancel(t *testing.T) {
	_, rdb := setupRedis(t)
	l := NewRedisLocker(rdb, time.Minute)

	unlock, err := l.Lock(context.Background(), "busy")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "busy")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
