// Package watcher observes the registry store file and publishes debounced
// change events, letting the serve loop react to CLI mutations immediately
// instead of waiting out its periodic cadence.
package watcher

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hezky/lab-heartbeat/internal/logging"
)

// DefaultDebounce coalesces bursts of writes (SQLite touches the db and its
// journal several times per transaction) into one event.
const DefaultDebounce = 250 * time.Millisecond

// Config configures a Watcher.
type Config struct {
	// DBPath is the registry store file to watch.
	DBPath string
	// DebounceDur coalesces rapid successive writes. Zero means
	// DefaultDebounce.
	DebounceDur time.Duration
}

// DefaultConfig returns the config for watching dbPath with the default
// debounce.
func DefaultConfig(dbPath string) Config {
	return Config{DBPath: dbPath}
}

// Watcher watches the registry store file for modification.
type Watcher struct {
	dbPath   string
	debounce time.Duration
	broker   *Broker
	fs       *fsnotify.Watcher

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a watcher for the configured store file. The file must exist;
// its parent directory is what fsnotify actually watches, so SQLite's
// rename-based journal dance is observed reliably.
func New(cfg Config) (*Watcher, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path is required")
	}
	debounce := cfg.DebounceDur
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		dbPath:   cfg.DBPath,
		debounce: debounce,
		broker:   NewBroker(),
		fs:       fs,
	}, nil
}

// Broker returns the event broker to subscribe on.
func (w *Watcher) Broker() *Broker {
	return w.broker
}

// Start begins watching and publishing events.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return fmt.Errorf("watcher already started")
	}

	dir := filepath.Dir(w.dbPath)
	if err := w.fs.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w.started = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	go w.loop()

	logging.Debug("registry watcher started", "path", w.dbPath)
	return nil
}

// Stop ends watching and closes all subscriptions.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return w.fs.Close()
	}
	w.started = false
	close(w.stopCh)
	w.mu.Unlock()

	<-w.doneCh
	w.broker.closeAll()
	return w.fs.Close()
}

func (w *Watcher) loop() {
	defer close(w.doneCh)

	var timer *time.Timer
	var timerC <-chan time.Time

	base := filepath.Base(w.dbPath)

	for {
		select {
		case <-w.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return

		case evt, ok := <-w.fs.Events:
			if !ok {
				return
			}
			// Only the store file and its sqlite side files are relevant.
			name := filepath.Base(evt.Name)
			if name != base && name != base+"-wal" && name != base+"-journal" {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case <-timerC:
			w.broker.Publish(Event{Type: DBChanged, Path: w.dbPath})

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logging.Warn("registry watcher error", "error", err)
		}
	}
}
