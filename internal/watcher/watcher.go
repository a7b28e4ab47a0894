package watcher

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReadyCallback is called once per task file when its content has settled
type ReadyCallback func(path string)

// Watcher monitors a directory for task files and debounces the raw
// notification stream into one ready signal per file. Editors and atomic
// writers fire create/rename/write bursts for a single logical save; a
// file is only reported after no further event has arrived for the quiet
// window and the content looks stable.
type Watcher struct {
	dir      string
	pattern  string
	quiet    time.Duration
	callback ReadyCallback

	watcher *fsnotify.Watcher

	// Debounce state, one timer per path
	pending map[string]*pendingFile
	mu      sync.Mutex

	cancel context.CancelFunc
}

type pendingFile struct {
	timer    *time.Timer
	lastSize int64
}

// New creates a watcher for task files in dir matching pattern
func New(dir, pattern string, quiet time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		dir:     dir,
		pattern: pattern,
		quiet:   quiet,
		watcher: fsw,
		pending: make(map[string]*pendingFile),
	}, nil
}

// Start begins watching. Existing files in the directory are scheduled as
// if they had just been written, so work dropped in while the process was
// down is picked up.
func (w *Watcher) Start(ctx context.Context, callback ReadyCallback) error {
	w.callback = callback

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return err
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}

	ctx, w.cancel = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.handleEvent(event)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				log.Printf("watcher: %v", err)
			}
		}
	}()

	w.scanExisting()
	return nil
}

// Stop stops watching and cancels pending debounce timers
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.watcher.Close()

	w.mu.Lock()
	defer w.mu.Unlock()
	for path, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) scanExisting() {
	matches, err := filepath.Glob(filepath.Join(w.dir, w.pattern))
	if err != nil {
		return
	}
	for _, path := range matches {
		w.schedule(path)
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !w.matches(event.Name) {
		return
	}
	// Create covers atomic tmp->final renames; Rename/Remove of the final
	// path drops any pending signal for it.
	switch {
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		w.schedule(event.Name)
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.drop(event.Name)
	}
}

func (w *Watcher) matches(path string) bool {
	if filepath.Dir(path) != filepath.Clean(w.dir) {
		return false
	}
	ok, err := filepath.Match(w.pattern, filepath.Base(path))
	return err == nil && ok
}

// schedule resets the quiet-window timer for a path
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p, exists := w.pending[path]; exists {
		p.timer.Stop()
		p.timer = time.AfterFunc(w.quiet, func() { w.fire(path) })
		return
	}
	w.pending[path] = &pendingFile{
		timer: time.AfterFunc(w.quiet, func() { w.fire(path) }),
	}
}

func (w *Watcher) drop(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, exists := w.pending[path]; exists {
		p.timer.Stop()
		delete(w.pending, path)
	}
}

// fire runs after the quiet window with no further events. The file must
// be readable and non-empty, and its size must hold steady across the
// window, before the ready signal is forwarded. Unreadable or vanished
// files are dropped; a rewrite produces fresh events and a new cycle.
func (w *Watcher) fire(path string) {
	info, err := os.Stat(path)
	if err != nil {
		log.Printf("watcher: dropping %s: %v", filepath.Base(path), err)
		w.drop(path)
		return
	}
	if info.Size() == 0 {
		log.Printf("watcher: dropping %s: empty file", filepath.Base(path))
		w.drop(path)
		return
	}

	w.mu.Lock()
	p, exists := w.pending[path]
	if !exists {
		w.mu.Unlock()
		return
	}
	// A partial write that is still growing gets one more quiet window
	// before we trust it.
	if p.lastSize != info.Size() && p.lastSize != 0 {
		p.lastSize = info.Size()
		p.timer = time.AfterFunc(w.quiet, func() { w.fire(path) })
		w.mu.Unlock()
		return
	}
	if p.lastSize == 0 {
		p.lastSize = info.Size()
		p.timer = time.AfterFunc(w.quiet, func() { w.fire(path) })
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	w.mu.Unlock()

	if f, err := os.Open(path); err != nil {
		log.Printf("watcher: dropping %s: %v", filepath.Base(path), err)
		return
	} else {
		f.Close()
	}

	if w.callback != nil {
		w.callback(path)
	}
}
