package store

import (
	"context"
	"io/fs"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKey(t *testing.T) {
	c := &RedisClient{prefix: "wgshop"}
	assert.Equal(t, "wgshop:lock:approval:42:Finland", c.generateKey("lock", "approval:42:Finland"))
	assert.Equal(t, "wgshop", c.generateKey())
}

func TestMigrationsEmbedded(t *testing.T) {
	files, err := fs.Glob(migrations, "migrations/*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	body, err := fs.ReadFile(migrations, files[0])
	require.NoError(t, err)
	assert.Contains(t, string(body), "-- +goose Up")
	assert.Contains(t, string(body), "user_states")
}

func TestLocalLockerExcludesSameKey(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	unlock, ok, err := l.TryLock(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be refused")

	other, ok, err := l.TryLock(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok, "other keys are independent")
	other()

	unlock()
	unlock()

	again, ok, err := l.TryLock(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	again()
}

func TestLocalLockerConcurrentSingleWinner(t *testing.T) {
	l := NewLocalLocker()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	start := make(chan struct{})
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, ok, _ := l.TryLock(context.Background(), "k"); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestLocalLockerHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok, err := NewLocalLocker().TryLock(ctx, "k")
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}
