package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRelevant(t *testing.T) {
	require.True(t, relevant(fsnotify.Event{Name: "/db/metadata/block-01", Op: fsnotify.Create}))
	require.True(t, relevant(fsnotify.Event{Name: "/db/metadata/manifest", Op: fsnotify.Rename}))
	require.False(t, relevant(fsnotify.Event{Name: "/db/metadata/.tmp-123", Op: fsnotify.Write}))
	require.False(t, relevant(fsnotify.Event{Name: "/db/metadata/block-01", Op: fsnotify.Chmod}))
	require.False(t, relevant(fsnotify.Event{}))
}

func TestWatcher_DebouncesBursts(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "metadata")
	var calls atomic.Int32
	fired := make(chan struct{}, 8)
	w := New(dir, 100*time.Millisecond, func(context.Context) error {
		calls.Add(1)
		fired <- struct{}{}
		return nil
	}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(dir)
		return err == nil
	}, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond) // let the watch register

	for i := range 5 {
		name := filepath.Join(dir, "block-0"+string(rune('0'+i)))
		require.NoError(t, os.WriteFile(name, []byte("x"), 0o600))
	}

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("notify not called")
	}
	time.Sleep(300 * time.Millisecond)
	require.Equal(t, int32(1), calls.Load())

	cancel()
	require.NoError(t, <-done)
}
