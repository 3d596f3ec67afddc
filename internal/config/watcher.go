package config

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a workspace's .wingmem directory and invokes a callback
// when a config file changes, so a running server can pick up logging and
// query tuning without a restart.
type Watcher struct {
	watcher  *fsnotify.Watcher
	onChange func(path string)
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]time.Time
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewWatcher creates a watcher over the workspace config directory.
// onChange fires at most once per debounce window per file.
func NewWatcher(workspace string, onChange func(path string)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(workspace, ".wingmem")
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	return &Watcher{
		watcher:  fw,
		onChange: onChange,
		debounce: 250 * time.Millisecond,
		pending:  make(map[string]time.Time),
		done:     make(chan struct{}),
	}, nil
}

// Start runs the event loop until the context is cancelled or Stop is
// called.
func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.done:
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.handleEvent(event)
			case _, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				// Watch errors are transient; keep the loop alive.
			}
		}
	}()
}

// Stop shuts the watcher down and waits for the event loop to exit.
func (w *Watcher) Stop() {
	close(w.done)
	w.watcher.Close()
	w.wg.Wait()
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	name := filepath.Base(event.Name)
	if !strings.HasPrefix(name, "config.") {
		return
	}

	// Editors fire bursts of writes for a single save; coalesce them.
	w.mu.Lock()
	last, seen := w.pending[event.Name]
	now := time.Now()
	if seen && now.Sub(last) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.pending[event.Name] = now
	w.mu.Unlock()

	if w.onChange != nil {
		w.onChange(event.Name)
	}
}
