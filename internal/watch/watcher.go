// Package watch invalidates cached adapter tokenizers when their descriptor
// files change on disk.
package watch

import (
	"errors"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"tokpool/internal/common/fsutil"
	"tokpool/internal/registry"
	"tokpool/internal/tokenizer"
)

const defaultDebounce = 250 * time.Millisecond

// Invalidator drops cached tokenizers loaded from a source.
type Invalidator interface {
	InvalidateSource(source string) []string
}

// Watcher monitors an adapters directory. A changed descriptor invalidates the
// adapters loaded from it; any other changed file (a shared ranks file, say)
// invalidates every descriptor in the directory.
type Watcher struct {
	dir      string
	inv      Invalidator
	debounce time.Duration
	log      zerolog.Logger

	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	pending  map[string]*time.Timer
	running  bool
	stopChan chan struct{}
	done     chan struct{}
}

// New creates a watcher for dir. A debounce <= 0 selects the default.
func New(dir string, inv Invalidator, debounce time.Duration, log zerolog.Logger) (*Watcher, error) {
	if inv == nil {
		return nil, errors.New("watch: nil invalidator")
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	abs, err := fsutil.AbsPath(dir)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		dir:      abs,
		inv:      inv,
		debounce: debounce,
		log:      log.With().Str("component", "adapter-watcher").Str("dir", abs).Logger(),
		watcher:  fw,
		pending:  map[string]*time.Timer{},
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. Calling it twice is a no-op.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}
	w.running = true
	go w.watchLoop()
	w.log.Info().Msg("adapter watcher started")
	return nil
}

// Stop ends watching and cancels pending invalidations.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		_ = w.watcher.Close()
		return
	}
	w.running = false
	close(w.stopChan)
	for p, t := range w.pending {
		t.Stop()
		delete(w.pending, p)
	}
	w.mu.Unlock()
	_ = w.watcher.Close()
	<-w.done
	w.log.Info().Msg("adapter watcher stopped")
}

func (w *Watcher) watchLoop() {
	defer close(w.done)
	for {
		select {
		case <-w.stopChan:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				w.schedule(ev.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("adapter watcher error")
		}
	}
}

// schedule coalesces bursts of events for one path into a single invalidation.
func (w *Watcher) schedule(name string) {
	path, err := fsutil.AbsPath(name)
	if err != nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		running := w.running
		w.mu.Unlock()
		if running {
			w.handle(path)
		}
	})
}

func (w *Watcher) handle(path string) {
	if tokenizer.IsDescriptorPath(path) {
		ids := w.inv.InvalidateSource(path)
		w.log.Info().Str("path", path).Strs("adapter_ids", ids).Msg("adapter descriptor changed")
		return
	}
	adapters, err := registry.LoadDir(w.dir)
	if err != nil {
		w.log.Warn().Err(err).Str("path", path).Msg("rescan adapters dir")
		return
	}
	var ids []string
	for _, a := range adapters {
		ids = append(ids, w.inv.InvalidateSource(a.Source)...)
	}
	w.log.Info().Str("path", path).Strs("adapter_ids", ids).Msg("adapter dependency changed")
}
