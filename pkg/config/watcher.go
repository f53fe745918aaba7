package config

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher listens for settings file changes and hot-reloads safely. Reloads
// are debounced; a reload whose source hash matches the previous one is
// dropped without notifying.
type Watcher struct {
	loader   *Loader
	debounce time.Duration

	fsw *fsnotify.Watcher

	stop chan struct{}
	done chan struct{}

	mu       sync.Mutex
	lastHash string

	onChange func(*Settings)
	onError  func(error)
}

// WatcherOption configures the hot reloader.
type WatcherOption func(*Watcher)

// WithDebounce overrides the default debounce window.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// OnChange registers a callback fired after a successful reload.
func OnChange(fn func(*Settings)) WatcherOption {
	return func(w *Watcher) { w.onChange = fn }
}

// OnError registers a callback for reload failures.
func OnError(fn func(error)) WatcherOption {
	return func(w *Watcher) { w.onError = fn }
}

// NewWatcher wires a file watcher around the provided loader.
func NewWatcher(loader *Loader, opts ...WatcherOption) (*Watcher, error) {
	if loader == nil {
		return nil, errors.New("loader is nil")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{
		loader:   loader,
		debounce: 150 * time.Millisecond,
		fsw:      fsw,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.debounce <= 0 {
		w.debounce = 150 * time.Millisecond
	}
	return w, nil
}

// Start loads the initial settings and begins watching the config root.
func (w *Watcher) Start() (*Settings, error) {
	loaded, err := w.loader.Load()
	if err != nil {
		return nil, err
	}
	if err := w.fsw.Add(w.loader.Root()); err != nil {
		return nil, fmt.Errorf("watch %s: %w", w.loader.Root(), err)
	}
	w.mu.Lock()
	w.lastHash = loaded.SourceHash
	w.mu.Unlock()
	if w.onChange != nil {
		w.onChange(loaded.Settings)
	}
	go w.loop()
	return loaded.Settings, nil
}

// Close stops file watching.
func (w *Watcher) Close() error {
	close(w.stop)
	<-w.done
	return w.fsw.Close()
}

func (w *Watcher) loop() {
	defer close(w.done)
	var timer *time.Timer
	schedule := func() {
		if timer == nil {
			timer = time.AfterFunc(w.debounce, func() {
				w.reload()
			})
			return
		}
		timer.Reset(w.debounce)
	}

	for {
		select {
		case <-w.stop:
			if timer != nil {
				timer.Stop()
			}
			return
		case err := <-w.fsw.Errors:
			if err != nil && w.onError != nil {
				w.onError(err)
			}
		case evt := <-w.fsw.Events:
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				schedule()
			}
		}
	}
}

func (w *Watcher) reload() {
	loaded, err := w.loader.Load()
	if err != nil {
		if w.onError != nil {
			w.onError(err)
		}
		return
	}

	w.mu.Lock()
	same := loaded.SourceHash == w.lastHash
	if !same {
		w.lastHash = loaded.SourceHash
	}
	w.mu.Unlock()
	if same {
		return
	}

	if w.onChange != nil {
		w.onChange(loaded.Settings)
	}
}
