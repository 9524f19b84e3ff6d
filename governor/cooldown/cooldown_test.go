package cooldown

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStoreWindow(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	s := NewMemStore()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	key := Key("everyone", "p1")

	res, _, err := s.Reserve(ctx, key, t0, time.Minute)
	require.NoError(err)
	require.NotNil(res)

	res, remaining, err := s.Reserve(ctx, key, t0.Add(20*time.Second), time.Minute)
	require.NoError(err)
	assert.Nil(res)
	assert.Equal(40*time.Second, remaining)

	res, _, err = s.Reserve(ctx, key, t0.Add(time.Minute), time.Minute)
	require.NoError(err)
	assert.NotNil(res)

	last, ok, err := s.LastUsed(ctx, key)
	require.NoError(err)
	assert.True(ok)
	assert.Equal(t0.Add(time.Minute), last)

	// other keys are independent
	res, _, err = s.Reserve(ctx, Key("everyone", "p2"), t0.Add(time.Minute), time.Minute)
	require.NoError(err)
	assert.NotNil(res)
}

func TestMemStoreZeroWindow(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	s := NewMemStore()
	now := time.Now()
	for i := 0; i < 3; i++ {
		res, _, err := s.Reserve(ctx, "k", now, 0)
		assert.NoError(err)
		assert.NotNil(res)
	}
}

func TestMemStoreRelease(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	s := NewMemStore()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	// release of a first-ever reservation removes the key
	res, _, _ := s.Reserve(ctx, "k", t0, time.Minute)
	assert.NoError(s.Release(ctx, res))
	_, ok, _ := s.LastUsed(ctx, "k")
	assert.False(ok)

	// release restores the previous stamp
	s.Reserve(ctx, "k", t0, time.Minute)
	res, _, _ = s.Reserve(ctx, "k", t0.Add(2*time.Minute), time.Minute)
	assert.NotNil(res)
	assert.NoError(s.Release(ctx, res))
	last, ok, _ := s.LastUsed(ctx, "k")
	assert.True(ok)
	assert.Equal(t0, last)

	// a stale reservation does not clobber a newer stamp
	stale, _, _ := s.Reserve(ctx, "j", t0, 0)
	s.Reserve(ctx, "j", t0.Add(time.Second), 0)
	assert.NoError(s.Release(ctx, stale))
	last, _, _ = s.LastUsed(ctx, "j")
	assert.Equal(t0.Add(time.Second), last)

	assert.NoError(s.Release(ctx, nil))
}

func TestMemStoreConcurrentReserve(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	s := NewMemStore()
	now := time.Now()
	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, _, err := s.Reserve(ctx, "same-sender", now, time.Hour)
			assert.NoError(err)
			if res != nil {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(int32(1), granted.Load())
	assert.Equal(1, s.Len())
}

func TestRedisStoreBasics(t *testing.T) {
	t.Skip("live test, need redis running locally")
	assert := assert.New(t)
	ctx := context.Background()

	s, err := NewRedisStore("redis://localhost:6379/0")
	if err != nil {
		t.Fail()
	}

	now := time.Now()
	res, _, err := s.Reserve(ctx, "test/k1", now, time.Minute)
	assert.NoError(err)
	assert.NotNil(res)
	res2, remaining, err := s.Reserve(ctx, "test/k1", now, time.Minute)
	assert.NoError(err)
	assert.Nil(res2)
	assert.True(remaining > 0)
	assert.NoError(s.Release(ctx, res))
	_, ok, err := s.LastUsed(ctx, "test/k1")
	assert.NoError(err)
	assert.False(ok)
}
