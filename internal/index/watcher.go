package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/linkgraph/internal/storage"
)

// Watcher callback kinds.
const (
	WatchIngested  = "ingested"
	WatchForgotten = "forgotten"
	WatchSaved     = "snapshot"
)

// WatchCallback is called after a watcher-driven change. kind is one of the
// Watch* constants; path is the source path or, for WatchSaved, the snapshot id.
type WatchCallback func(kind string, path string)

// WatchOptions configures Watch.
type WatchOptions struct {
	// Root is the absolute source directory.
	Root string
	// SnapshotDebounce delays snapshot persistence after the last ingest.
	SnapshotDebounce time.Duration
	Logger           *slog.Logger
	OnChange         WatchCallback
}

const reconcileDelay = 200 * time.Millisecond

// Watch starts an fsnotify watcher on the source root and ingests snapshot
// files as they are created or written, until ctx is cancelled. After a
// quiet period of SnapshotDebounce the graph is persisted. Pending changes
// are flushed on shutdown.
//
// New directories created at runtime are added to the watch list. Removing
// or renaming a file only drops it from the source ledger: the graph is
// append-only.
func Watch(ctx context.Context, p *Persister, store storage.Provider, opts WatchOptions) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := opts.SnapshotDebounce
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	notify := func(kind, path string) {
		if opts.OnChange != nil {
			opts.OnChange(kind, path)
		}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, opts.Root); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", opts.Root))

	var (
		reconcileTimer *time.Timer
		reconcileCh    <-chan time.Time
		saveTimer      *time.Timer
		saveCh         <-chan time.Time
		dirty          bool
	)
	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(reconcileDelay)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(reconcileDelay)
		}
	}
	markDirty := func() {
		dirty = true
		if saveTimer == nil {
			saveTimer = time.NewTimer(debounce)
			saveCh = saveTimer.C
		} else {
			saveTimer.Reset(debounce)
		}
	}
	save := func(ctx context.Context) {
		if !dirty {
			return
		}
		info, err := p.Save(ctx)
		if err != nil {
			logger.Warn("watcher: snapshot failed", slog.String("error", err.Error()))
			return
		}
		dirty = false
		logger.Debug("watcher: snapshot saved",
			slog.String("id", info.ID),
			slog.Int("entities", info.Entities),
			slog.Int("edges", info.Edges))
		notify(WatchSaved, info.ID)
	}
	ingest := func(rel string) {
		data, err := store.Read(rel)
		if err != nil {
			logger.Warn("watcher: read failed", slog.String("path", rel), slog.String("error", err.Error()))
			return
		}
		if _, err := IngestSource(ctx, p, p.svc, rel, data); err != nil {
			logger.Warn("watcher: ingest failed", slog.String("path", rel), slog.String("error", err.Error()))
			return
		}
		logger.Debug("watcher: ingested", slog.String("path", rel))
		markDirty()
		notify(WatchIngested, rel)
	}
	forget := func(rel string) {
		if err := p.Forget(ctx, rel); err != nil {
			logger.Warn("watcher: forget failed", slog.String("path", rel), slog.String("error", err.Error()))
			return
		}
		logger.Debug("watcher: forgot source", slog.String("path", rel))
		notify(WatchForgotten, rel)
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			if saveTimer != nil {
				saveTimer.Stop()
			}
			save(context.WithoutCancel(ctx))
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			reconcile(ctx, p, store, logger, ingest, forget)

		case <-saveCh:
			save(ctx)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			absPath := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", absPath))
					}
					ingestNewDir(opts.Root, absPath, ingest)
					continue
				}
			}

			if !storage.IsSnapshot(absPath) {
				continue
			}
			rel, relErr := filepath.Rel(opts.Root, absPath)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				ingest(rel)

			case ev.Op&fsnotify.Remove != 0:
				forget(rel)

			case ev.Op&fsnotify.Rename != 0:
				// Rename fires on the old path only; the new path arrives as a
				// Create if it stays inside a watched dir.
				forget(rel)
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// reconcile compares the ledger with the files on disk, forgetting sources
// that vanished and ingesting ones that are new or changed.
func reconcile(ctx context.Context, p *Persister, store storage.Provider, logger *slog.Logger, ingest, forget func(string)) {
	checksums, err := p.Checksums(ctx)
	if err != nil {
		logger.Warn("reconcile: all checksums failed", slog.String("error", err.Error()))
		return
	}

	metas, err := store.List("")
	if err != nil {
		logger.Warn("reconcile: list failed", slog.String("error", err.Error()))
		return
	}

	disk := make(map[string]string, len(metas))
	for _, m := range metas {
		disk[m.Path] = m.Checksum
	}

	for path := range checksums {
		if _, ok := disk[path]; !ok {
			forget(path)
		}
	}
	for path, cs := range disk {
		if checksums[path] != cs {
			ingest(path)
		}
	}
}

// ingestNewDir ingests any snapshot files already present in a newly
// created directory.
func ingestNewDir(root, dirPath string, ingest func(string)) {
	_ = filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !storage.IsSnapshot(path) {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		ingest(filepath.ToSlash(rel))
		return nil
	})
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
