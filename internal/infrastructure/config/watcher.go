package config

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// reloadQuiet coalesces the burst of events an editor or downloader
// produces for one logical change.
const reloadQuiet = 200 * time.Millisecond

// Snapshot is one immutable view of the hot-reloadable configuration:
// the model catalog and the resolved tier targets (TIER_* env settings
// merged over catalog preferences). Readers grab the pointer once per
// request and never see a partial reload.
type Snapshot struct {
	Catalog     *Catalog
	TierTargets map[string]ProviderModel
}

// Watcher hot-reloads the model catalog and notices price-cache
// refreshes without interrupting in-flight requests.
type Watcher struct {
	catalogPath string
	pricesDir   string
	tierEnv     map[string]ProviderModel

	snap     atomic.Pointer[Snapshot]
	logger   *zap.Logger
	reloadMu sync.Mutex
	pending  *time.Timer

	mu       sync.Mutex
	onReload []func(*Snapshot)
	onPrices []func()
}

// NewWatcher loads the initial snapshot and prepares (but does not
// start) filesystem watching. tierEnv carries the explicitly configured
// tier targets, which always win over catalog preferences.
func NewWatcher(catalogPath, pricesDir string, tierEnv map[string]ProviderModel, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Watcher{
		catalogPath: catalogPath,
		pricesDir:   pricesDir,
		tierEnv:     tierEnv,
		logger:      logger.Named("config.watcher"),
	}
	if err := w.reload(); err != nil {
		return nil, err
	}
	return w, nil
}

// Snapshot returns the current immutable view.
func (w *Watcher) Snapshot() *Snapshot {
	return w.snap.Load()
}

// OnReload registers a callback invoked with each new snapshot after a
// catalog change. Callbacks run on the watcher goroutine.
func (w *Watcher) OnReload(fn func(*Snapshot)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = append(w.onReload, fn)
}

// OnPriceChange registers a callback for price-cache file updates.
func (w *Watcher) OnPriceChange(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onPrices = append(w.onPrices, fn)
}

// Start begins watching until ctx is cancelled. The catalog's parent
// directory is watched rather than the file itself, so editors that
// replace the file (rename + create) still trigger a reload.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	watched := 0
	if w.catalogPath != "" {
		if err := fsw.Add(filepath.Dir(w.catalogPath)); err != nil {
			w.logger.Warn("cannot watch catalog dir", zap.String("path", w.catalogPath), zap.Error(err))
		} else {
			watched++
		}
	}
	if w.pricesDir != "" {
		if err := fsw.Add(w.pricesDir); err != nil {
			w.logger.Warn("cannot watch prices dir", zap.String("dir", w.pricesDir), zap.Error(err))
		} else {
			watched++
		}
	}

	go func() {
		defer fsw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				w.handleEvent(event)
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Error("watch error", zap.Error(err))
			}
		}
	}()

	w.logger.Info("config watching started",
		zap.String("catalog", w.catalogPath),
		zap.String("prices", w.pricesDir),
		zap.Int("paths", watched))
	return nil
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	switch {
	case w.catalogPath != "" && filepath.Base(event.Name) == filepath.Base(w.catalogPath):
		w.scheduleReload()
	case w.pricesDir != "" && strings.HasSuffix(event.Name, ".json") &&
		filepath.Dir(event.Name) == filepath.Clean(w.pricesDir):
		w.notifyPrices()
	}
}

// scheduleReload debounces catalog reloads behind a quiet period.
func (w *Watcher) scheduleReload() {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(reloadQuiet, func() {
		if err := w.reload(); err != nil {
			w.logger.Error("catalog reload failed, keeping previous snapshot", zap.Error(err))
			return
		}
		snap := w.snap.Load()
		w.mu.Lock()
		callbacks := append([]func(*Snapshot){}, w.onReload...)
		w.mu.Unlock()
		for _, fn := range callbacks {
			fn(snap)
		}
		w.logger.Info("model catalog reloaded",
			zap.Int("providers", len(snap.Catalog.Providers)),
			zap.Int("tiers", len(snap.TierTargets)))
	})
}

func (w *Watcher) notifyPrices() {
	w.mu.Lock()
	callbacks := append([]func(){}, w.onPrices...)
	w.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

// reload builds and swaps in a fresh snapshot.
func (w *Watcher) reload() error {
	catalog, err := LoadCatalog(w.catalogPath)
	if err != nil {
		return err
	}
	targets := catalog.TierDefaults()
	for tier, pm := range w.tierEnv {
		targets[tier] = pm
	}
	w.snap.Store(&Snapshot{Catalog: catalog, TierTargets: targets})
	return nil
}
