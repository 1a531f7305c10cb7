package menu

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const defaultDebounce = 200 * time.Millisecond

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Store    *Store
	Debounce time.Duration
	Logger   zerolog.Logger
	// OnReload runs after every reload attempt with its outcome.
	OnReload func(err error)
}

// Watcher reloads a Store when its file changes.
type Watcher struct {
	store    *Store
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   zerolog.Logger
	onReload func(error)

	done     chan struct{}
	timerMu  sync.Mutex
	timer    *time.Timer
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWatcher creates a watcher for a file-backed store.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Store == nil || cfg.Store.Path() == "" {
		return nil, fmt.Errorf("menu watcher needs a file-backed catalog")
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		store:    cfg.Store,
		watcher:  fw,
		debounce: debounce,
		logger:   cfg.Logger,
		onReload: cfg.OnReload,
		done:     make(chan struct{}),
	}, nil
}

// Start watches the catalog's directory; editors often replace files by
// rename, which a watch on the file itself would miss.
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.store.Path())
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w.wg.Add(1)
	go w.eventLoop()

	w.logger.Info().Str("path", w.store.Path()).Msg("Menu watcher started")
	return nil
}

// Stop ends watching. Pending reloads are dropped.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)

		w.timerMu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.timerMu.Unlock()

		err = w.watcher.Close()
		w.wg.Wait()
		w.logger.Info().Msg("Menu watcher stopped")
	})
	return err
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()
	target := filepath.Clean(w.store.Path())

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Menu watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) schedule() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.done:
			return
		default:
		}

		err := w.store.Reload()
		if err != nil {
			w.logger.Error().Err(err).Msg("Menu reload failed, keeping previous catalog")
		} else {
			w.logger.Info().Str("path", w.store.Path()).Msg("Menu reloaded")
		}
		if w.onReload != nil {
			w.onReload(err)
		}
	})
}
