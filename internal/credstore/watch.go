package credstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"warden/pkg/logging"
)

// DefaultDebounceInterval coalesces the burst of events a single atomic
// write produces (create temp, chmod, write, rename).
const DefaultDebounceInterval = 100 * time.Millisecond

// Watch calls onChange whenever session.json is created, replaced or removed
// by any process. It returns once the watcher is running; the watcher stops
// when ctx is cancelled.
func (s *FileStore) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	// Watch the directory rather than the file: renames replace the inode.
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", s.dir, err)
	}

	d := &debouncer{interval: DefaultDebounceInterval, fn: onChange}

	go func() {
		defer watcher.Close()
		defer d.stop()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != SessionFile {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				logging.Debug("CredStore", "Session file changed: %s", event.Op)
				d.trigger()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Error("CredStore", err, "File watcher error")
			}
		}
	}()

	return nil
}

type debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	interval time.Duration
	fn       func()
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, d.fn)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
