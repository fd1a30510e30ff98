package watcher_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hezky/lab-heartbeat/internal/watcher"
)

func TestWatcherDebounceMultipleWrites(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "process_manager.db")
	err := os.WriteFile(dbPath, []byte("test"), 0644)
	require.NoError(t, err, "failed to create test file")

	// Debounce longer than the whole write burst so all writes coalesce
	// into a single notification.
	w, err := watcher.New(watcher.Config{
		DBPath:      dbPath,
		DebounceDur: 150 * time.Millisecond,
	})
	require.NoError(t, err, "failed to create watcher")
	defer func() { _ = w.Stop() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sub := w.Broker().Subscribe(ctx)

	require.NoError(t, w.Start(), "failed to start watcher")

	for i := 0; i < 10; i++ {
		err := os.WriteFile(dbPath, []byte(fmt.Sprintf("test%d", i)), 0644)
		require.NoError(t, err, "failed to write file")
		time.Sleep(5 * time.Millisecond)
	}

	// With debouncing, 10 rapid writes produce very few notifications.
	var notifications int
	deadline := time.After(500 * time.Millisecond)
countLoop:
	for {
		select {
		case evt := <-sub:
			require.Equal(t, watcher.DBChanged, evt.Type, "expected DBChanged event")
			notifications++
		case <-deadline:
			break countLoop
		}
	}

	require.GreaterOrEqual(t, notifications, 1, "expected at least one notification")
	require.LessOrEqual(t, notifications, 3,
		"expected debouncing to coalesce most writes (got %d notifications for 10 writes)", notifications)
}

func TestWatcherIgnoresIrrelevantFiles(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "process_manager.db")
	otherPath := filepath.Join(dir, "other.txt")
	require.NoError(t, os.WriteFile(dbPath, []byte("db"), 0644))
	require.NoError(t, os.WriteFile(otherPath, []byte("initial"), 0644))

	w, err := watcher.New(watcher.Config{
		DBPath:      dbPath,
		DebounceDur: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sub := w.Broker().Subscribe(ctx)

	require.NoError(t, w.Start())

	require.NoError(t, os.WriteFile(otherPath, []byte("changed"), 0644))

	select {
	case evt := <-sub:
		t.Fatalf("unexpected event for irrelevant file: %+v", evt)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherSeesWALWrites(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "process_manager.db")
	require.NoError(t, os.WriteFile(dbPath, []byte("db"), 0644))

	w, err := watcher.New(watcher.Config{
		DBPath:      dbPath,
		DebounceDur: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sub := w.Broker().Subscribe(ctx)

	require.NoError(t, w.Start())

	// SQLite writes land in the -wal sibling before checkpointing.
	require.NoError(t, os.WriteFile(dbPath+"-wal", []byte("frames"), 0644))

	select {
	case evt := <-sub:
		require.Equal(t, watcher.DBChanged, evt.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a notification for a WAL write")
	}
}

func TestWatcherRequiresPath(t *testing.T) {
	_, err := watcher.New(watcher.Config{})
	require.Error(t, err)
}

func TestWatcherStopClosesSubscriptions(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "process_manager.db")
	require.NoError(t, os.WriteFile(dbPath, []byte("db"), 0644))

	w, err := watcher.New(watcher.DefaultConfig(dbPath))
	require.NoError(t, err)

	sub := w.Broker().Subscribe(context.Background())
	require.NoError(t, w.Start())
	require.NoError(t, w.Stop())

	_, open := <-sub
	require.False(t, open, "subscription channel should close on Stop")
}
