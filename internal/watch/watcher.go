// Package watch reports external edits of annotation files in the data area.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/annostore/internal/checksum"
	"github.com/starford/annostore/internal/storage"
)

// EventCallback is called after a document changed on disk.
// kind is one of "created", "updated", "deleted".
type EventCallback func(kind string, doc string)

const reconcileDelay = 200 * time.Millisecond

type watcher struct {
	fs     storage.Provider
	logger *slog.Logger
	cb     EventCallback
	known  map[string]string // document ref -> checksum of its content
}

// Watch starts an fsnotify watcher on the data area and reports document
// changes until ctx is cancelled. Documents are identified by reference,
// so an edit to any of a document's backing files is one "updated" event.
// Content that did not change (for example a rewrite with the same bytes)
// is not reported.
//
// New directories are added to the watch list. Renames trigger a debounced
// reconciliation against the file system.
func Watch(ctx context.Context, fsys storage.Provider, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	root := fsys.Root()
	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	wt := &watcher{fs: fsys, logger: logger, cb: cb, known: make(map[string]string)}
	wt.snapshot()
	logger.Info("watcher: started", slog.String("root", root), slog.Int("documents", len(wt.known)))

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time
	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(reconcileDelay)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(reconcileDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			wt.reconcile()

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
					}
					scheduleReconcile()
					continue
				}
			}

			if ignored(absPath) {
				continue
			}
			rel, relErr := filepath.Rel(root, absPath)
			if relErr != nil {
				continue
			}
			doc := storage.DocRef(filepath.ToSlash(rel))
			if doc == "" {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				wt.refresh(doc)
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				// Another backing file may still hold the document; the
				// refresh decides between "updated" and "deleted".
				wt.refresh(doc)
				if ev.Op&fsnotify.Rename != 0 {
					scheduleReconcile()
				}
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// ignored reports files the store itself creates next to documents.
func ignored(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".annostore")
}

func (wt *watcher) emit(kind, doc string) {
	wt.logger.Debug("watcher: document "+kind, slog.String("document", doc))
	if wt.cb != nil {
		wt.cb(kind, doc)
	}
}

// refresh re-reads doc and reports how it changed relative to the last
// known content.
func (wt *watcher) refresh(doc string) {
	prev, seen := wt.known[doc]
	d, err := wt.fs.Resolve(doc)
	if err != nil {
		if seen {
			delete(wt.known, doc)
			wt.emit("deleted", doc)
		}
		return
	}
	sum := checksum.Sum(d.Content)
	if seen && sum == prev {
		return
	}
	wt.known[doc] = sum
	if seen {
		wt.emit("updated", doc)
	} else {
		wt.emit("created", doc)
	}
}

func (wt *watcher) snapshot() {
	metas, err := wt.fs.List("")
	if err != nil {
		wt.logger.Warn("watcher: list failed", slog.String("error", err.Error()))
		return
	}
	for _, m := range metas {
		if d, err := wt.fs.Resolve(m.Ref); err == nil {
			wt.known[m.Ref] = checksum.Sum(d.Content)
		}
	}
}

// reconcile compares the known documents with the file system and reports
// documents that appeared or vanished without a usable event.
func (wt *watcher) reconcile() {
	metas, err := wt.fs.List("")
	if err != nil {
		wt.logger.Warn("reconcile: list failed", slog.String("error", err.Error()))
		return
	}
	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Ref] = struct{}{}
		wt.refresh(m.Ref)
	}
	for doc := range wt.known {
		if _, ok := disk[doc]; !ok {
			delete(wt.known, doc)
			wt.emit("deleted", doc)
		}
	}
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
