package fsresource

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/ajitpratap0/mcp-session-go/pkg/logging"
)

// Watch starts following changes under the root. Created files are
// registered, removed ones unregistered, and writes reported to the
// Notifier. It returns once every directory is watched; events are handled
// until ctx is done or Close is called.
func (s *Source) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// fsnotify is not recursive, so every directory gets its own watch
	err = filepath.WalkDir(s.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if p != s.dir && hidden(d.Name()) {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
	if err != nil {
		w.Close()
		return err
	}
	s.watcher = w

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, w)
	}()
	return nil
}

func (s *Source) run(ctx context.Context, w *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Close()
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			s.handleEvent(ctx, w, ev)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Warn("watch error", logging.ErrorField(err))
		}
	}
}

func (s *Source) handleEvent(ctx context.Context, w *fsnotify.Watcher, ev fsnotify.Event) {
	if hidden(filepath.Base(ev.Name)) {
		return
	}

	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if err := w.Add(ev.Name); err != nil {
				s.logger.Warn("directory not watched", logging.String("path", ev.Name), logging.ErrorField(err))
			}
			// files may have landed before the watch was added
			_ = s.registerTree(ev.Name)
			return
		}
		if info.Mode().IsRegular() {
			s.registerFile(ev.Name)
		}

	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		for _, uri := range s.unregisterPath(ev.Name) {
			s.updated(ctx, uri)
		}

	case ev.Has(fsnotify.Write):
		if rel, ok := s.relative(ev.Name); ok {
			s.updated(ctx, URI(rel))
		}
	}
}

func (s *Source) updated(ctx context.Context, uri string) {
	if s.notify == nil {
		return
	}
	if err := s.notify(ctx, uri); err != nil {
		s.logger.Warn("update not delivered", logging.String("uri", uri), logging.ErrorField(err))
	}
}
