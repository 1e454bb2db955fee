package worker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/todo-sync/internal/service"
	"github.com/BuzzLyutic/todo-sync/internal/testutil"
)

type fakeSyncer struct {
	calls  atomic.Int32
	err    error
	result service.SyncResult
	delay  time.Duration
}

func (f *fakeSyncer) Synchronize(ctx context.Context) (service.SyncResult, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.result, f.err
}

func TestPool_Periodic(t *testing.T) {
	syncer := &fakeSyncer{result: service.SyncPulled}
	pool := NewPool(syncer, zap.NewNop(), 1, 20*time.Millisecond, nil)
	pool.Start(context.Background())
	defer pool.Stop()

	ok := testutil.WaitForCondition(t, 2*time.Second, func() bool {
		return syncer.calls.Load() >= 3
	})
	assert.True(t, ok, "periodic sync should run repeatedly")
}

func TestPool_RunOnce(t *testing.T) {
	syncer := &fakeSyncer{result: service.SyncPushed}
	pool := NewPool(syncer, zap.NewNop(), 1, 0, nil)
	pool.Start(context.Background())
	defer pool.Stop()

	assert.True(t, pool.RunOnce())

	ok := testutil.WaitForCondition(t, 2*time.Second, func() bool {
		return pool.LastRun().Result == service.SyncPushed
	})
	require.True(t, ok)
	assert.Equal(t, int32(1), syncer.calls.Load())
	assert.Empty(t, pool.LastRun().Error)
}

func TestPool_RunOnceCoalesces(t *testing.T) {
	syncer := &fakeSyncer{}
	// воркеры не запущены — очередь никто не разбирает
	pool := NewPool(syncer, zap.NewNop(), 1, 0, nil)

	assert.True(t, pool.RunOnce())
	assert.False(t, pool.RunOnce(), "second request should be merged with pending one")
	assert.False(t, pool.RunOnce())
}

func TestPool_SkipsWithoutNetwork(t *testing.T) {
	syncer := &fakeSyncer{}
	offline := func(context.Context) error { return errors.New("network is unreachable") }
	pool := NewPool(syncer, zap.NewNop(), 1, 0, offline)
	pool.Start(context.Background())
	defer pool.Stop()

	pool.RunOnce()

	ok := testutil.WaitForCondition(t, 2*time.Second, func() bool {
		return pool.LastRun().Skipped
	})
	require.True(t, ok)
	assert.Equal(t, int32(0), syncer.calls.Load())
	assert.Contains(t, pool.LastRun().Error, "unreachable")
}

func TestPool_RecordsFailure(t *testing.T) {
	syncer := &fakeSyncer{err: errors.New("boom")}
	pool := NewPool(syncer, zap.NewNop(), 1, 0, nil)
	pool.Start(context.Background())
	defer pool.Stop()

	pool.RunOnce()

	ok := testutil.WaitForCondition(t, 2*time.Second, func() bool {
		return pool.LastRun().Error == "boom"
	})
	assert.True(t, ok)
}

func TestPool_GracefulShutdown(t *testing.T) {
	syncer := &fakeSyncer{delay: 200 * time.Millisecond}
	pool := NewPool(syncer, zap.NewNop(), 2, 10*time.Millisecond, nil)
	pool.Start(context.Background())

	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		pool.Stop()
		pool.Stop()
		close(done)
	}()

	select {
	case <-done:
		t.Log("✅ Sync workers stopped gracefully")
	case <-time.After(5 * time.Second):
		t.Fatal("sync workers did not stop gracefully within 5 seconds")
	}
}

func TestDialCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL

	check, err := DialCheck(url, time.Second)
	require.NoError(t, err)
	assert.NoError(t, check(context.Background()))

	srv.Close()
	assert.Error(t, check(context.Background()))

	_, err = DialCheck("not a url", time.Second)
	assert.Error(t, err)
}
