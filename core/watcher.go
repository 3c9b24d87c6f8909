package core

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// changes arriving within this window trigger a single reload
const reloadDelay = 200 * time.Millisecond

// initWatcher watches the mapping and patch files and reloads on change
func (g *Engine) initWatcher() error {
	e := g.load()

	if _, ok := e.fs.(*afero.OsFs); !ok {
		e.log.Warn("mapping watcher needs the os file system, not watching")
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Editors often replace files, so watch the directories.
	files := make(map[string]struct{})
	dirs := make(map[string]struct{})
	for _, mc := range e.conf.Mappings {
		for _, f := range mc.files() {
			abs, err := filepath.Abs(f)
			if err != nil {
				w.Close() //nolint:errcheck
				return err
			}
			files[abs] = struct{}{}
			dirs[filepath.Dir(abs)] = struct{}{}
		}
	}
	for d := range dirs {
		if err := w.Add(d); err != nil {
			w.Close() //nolint:errcheck
			return err
		}
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer w.Close() //nolint:errcheck
		g.startWatcher(w, files)
	}()
	return nil
}

// startWatcher runs until the engine is closed
func (g *Engine) startWatcher(w *fsnotify.Watcher, files map[string]struct{}) {
	timer := time.NewTimer(reloadDelay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-g.done:
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if _, watched := files[filepath.Clean(ev.Name)]; !watched {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			g.load().log.Debug("mapping file changed", zap.String("file", ev.Name), zap.Stringer("op", ev.Op))
			timer.Reset(reloadDelay)

		case <-timer.C:
			if err := g.Reload(); err != nil {
				g.load().log.Error("mapping reload failed", zap.Error(err))
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			g.load().log.Error("mapping watcher", zap.Error(err))
		}
	}
}
