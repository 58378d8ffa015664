package storage

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-wallet/errors"
)

// DefaultQuiet is the debounce window used when Watch is given none.
const DefaultQuiet = 250 * time.Millisecond

// Watcher reports changes made to PersistDir by something other than the
// store itself, such as another host flushing the same directory.
type Watcher struct {
	w      *fsnotify.Watcher
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Watch calls fn with the last changed path once PersistDir has been quiet
// for the given duration. Changes made while this store persists, or within
// quiet after it finished, are ignored. fn runs on the watcher goroutine.
func (s *DirStore) Watch(ctx context.Context, quiet time.Duration, fn func(path string)) (*Watcher, error) {
	if err := ensureDir(s.PersistDir); err != nil {
		return nil, errors.Storage("create persist directory", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Storage("create watcher", err)
	}
	if err := fw.Add(s.PersistDir); err != nil {
		_ = fw.Close()
		return nil, errors.Storage("watch "+s.PersistDir, err)
	}

	if quiet <= 0 {
		quiet = DefaultQuiet
	}
	ctx, cancel := context.WithCancel(ctx)
	w := &Watcher{w: fw, cancel: cancel, done: make(chan struct{})}
	go s.watchLoop(ctx, w, quiet, fn)
	return w, nil
}

func (s *DirStore) watchLoop(ctx context.Context, w *Watcher, quiet time.Duration, fn func(string)) {
	defer close(w.done)

	timer := time.NewTimer(quiet)
	timer.Stop()
	defer timer.Stop()

	var pending string
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.w.Events:
			if !ok {
				return
			}
			if strings.HasPrefix(filepath.Base(event.Name), tempPrefix) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if s.recentlyPersisted(quiet) {
				continue
			}
			s.log.Debug("persist directory changed", zap.String("op", event.Op.String()), zap.String("name", event.Name))
			pending = event.Name
			timer.Reset(quiet)

		case <-timer.C:
			if pending != "" && !s.recentlyPersisted(quiet) {
				fn(pending)
			}
			pending = ""

		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			s.log.Warn("persist directory watcher error", zap.Error(err))
		}
	}
}

// Close stops watching and waits for the watcher goroutine.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		w.cancel()
		err = w.w.Close()
		<-w.done
	})
	return err
}
