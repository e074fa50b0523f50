// Package watcher re-ingests documents when files under a directory change.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"docrag/internal/loader"
	"docrag/internal/service"
)

// DefaultDebounce collapses the bursts of events editors and copies produce.
const DefaultDebounce = 500 * time.Millisecond

// Handler receives the supported files created, written, removed or renamed
// since the last call. Removed paths no longer exist when it runs.
type Handler func(ctx context.Context, paths []string) error

// Indexer is the part of the service a Reindex handler drives.
type Indexer interface {
	Reset(ctx context.Context) error
	ProcessDocuments(ctx context.Context, paths []string) (service.IngestReport, error)
}

// Reindex returns a Handler that clears the collection and ingests root
// again. Chunk ids cover chunk content and entries are never updated in
// place, so ingesting only the changed files would keep the chunks of their
// previous versions.
func Reindex(root string, idx Indexer, logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, paths []string) error {
		if err := idx.Reset(ctx); err != nil {
			return fmt.Errorf("reset before reindex: %w", err)
		}
		report, err := idx.ProcessDocuments(ctx, []string{root})
		if err != nil {
			return fmt.Errorf("reindex %s: %w", root, err)
		}
		logger.Info("reindexed directory", "path", root, "changed", len(paths),
			"documents", report.Documents, "chunks", report.Chunks)
		return nil
	}
}

type Config struct {
	Debounce time.Duration
	Logger   *slog.Logger
}

// Watcher watches a directory tree, including directories created later.
type Watcher struct {
	root     string
	handle   Handler
	debounce time.Duration
	logger   *slog.Logger
	fsw      *fsnotify.Watcher
}

func New(root string, handle Handler, cfg Config) (*Watcher, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	w := &Watcher{root: root, handle: handle, debounce: cfg.Debounce, logger: cfg.Logger, fsw: fsw}
	if err := w.addTree(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// Run delivers debounced changes to the handler until ctx is done. Handler
// errors are logged and do not stop the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()
	w.logger.Info("watching directory", "path", w.root, "debounce", w.debounce)

	pending := map[string]struct{}{}
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopped", "path", w.root)
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if event.Op&fsnotify.Create != 0 {
					if err := w.addTree(event.Name); err != nil {
						w.logger.Warn("could not watch new directory", "path", event.Name, "error", err)
					}
				}
				continue
			}
			if !loader.Supported(event.Name) {
				continue
			}
			pending[event.Name] = struct{}{}
			timer.Reset(w.debounce)

		case <-timer.C:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			clear(pending)
			if len(paths) == 0 {
				continue
			}
			w.logger.Info("files changed", "count", len(paths))
			if err := w.handle(ctx, paths); err != nil {
				w.logger.Error("failed to process changed files", "error", err)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}
