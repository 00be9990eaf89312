package event

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"unicode/utf8"

	"github.com/coder/quartz"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"

	"github.com/fakeyudi/pulse/internal/logging"
	"github.com/fakeyudi/pulse/internal/pulse"
)

// MaxWatchedFileSize caps the content read into a snapshot.
const MaxWatchedFileSize = 2 << 20

// WatchSource watches a workspace recursively and reports writes and creates
// as text-changed events. It stands in for an editor plugin when none is
// attached.
type WatchSource struct {
	Root           string
	IgnorePatterns []string
	Fs             afero.Fs // snapshot and ignore-file reads; defaults to the OS
	Clock          quartz.Clock
	Logger         *logging.Logger
}

func (w *WatchSource) Run(ctx context.Context, out chan<- Event) error {
	fsys := w.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	clock := w.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}
	logger := w.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	root, err := filepath.Abs(w.Root)
	if err != nil {
		return fmt.Errorf("resolve watch root: %w", err)
	}

	matcher, err := LoadMatcher(fsys, root, w.IgnorePatterns)
	if err != nil {
		logger.Warn("failed to load ignore patterns", "error", err.Error())
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := addTree(watcher, root, matcher); err != nil {
		return fmt.Errorf("watch %s: %w", root, err)
	}
	logger.Debug("watching workspace", "root", root)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if matcher.Ignored(ev.Name) {
				continue
			}
			info, err := fsys.Stat(ev.Name)
			if err != nil {
				continue
			}
			if info.IsDir() {
				if ev.Has(fsnotify.Create) {
					_ = addTree(watcher, ev.Name, matcher)
				}
				continue
			}
			snap, ok := w.snapshot(fsys, root, ev.Name, info.Size())
			if !ok {
				continue
			}
			if err := send(ctx, out, Event{Kind: TextChanged, Snapshot: snap, Time: clock.Now()}); err != nil {
				return nil
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", "error", err.Error())
		}
	}
}

// snapshot reads path from disk. Binary and oversized files are skipped.
func (w *WatchSource) snapshot(fsys afero.Fs, root, path string, size int64) (*pulse.Snapshot, bool) {
	if size > MaxWatchedFileSize {
		return nil, false
	}
	data, err := afero.ReadFile(fsys, path)
	if err != nil || !utf8.Valid(data) {
		return nil, false
	}
	return &pulse.Snapshot{
		FileName:      path,
		Type:          pulse.EntityFile,
		WorkspaceRoot: root,
		Content:       string(data),
	}, true
}

// addTree adds a watch for dir and every non-ignored directory beneath it.
func addTree(watcher *fsnotify.Watcher, dir string, matcher *Matcher) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && matcher.Ignored(path) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}
