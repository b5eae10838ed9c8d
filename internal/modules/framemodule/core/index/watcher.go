package index

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
)

// Watcher flags the live index as stale when its source file changes on disk.
// A stale index keeps serving; the next cached Index call rebuilds it because
// the identity no longer matches.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	logger   hclog.Logger
	onChange func(fsnotify.Event)

	stale atomic.Bool
	done  chan struct{}
	wg    sync.WaitGroup
}

// Watch starts watching path. The parent directory is watched so renames and
// atomic replacements are seen too.
func Watch(path string, logger hclog.Logger, onChange func(fsnotify.Event)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	w := &Watcher{
		path:     abs,
		watcher:  fw,
		logger:   logger.Named("source-watcher").With("file", abs),
		onChange: onChange,
		done:     make(chan struct{}),
	}

	w.wg.Add(1)
	go w.watchEvents()
	return w, nil
}

func (w *Watcher) watchEvents() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Create) == 0 {
				continue
			}
			if !w.stale.Swap(true) {
				w.logger.Warn("source file changed, index is stale", "op", event.Op.String())
			}
			if w.onChange != nil {
				w.onChange(event)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

// Stale reports whether the source changed since watching began
func (w *Watcher) Stale() bool {
	return w.stale.Load()
}

// Close stops watching
func (w *Watcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
	}
	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
