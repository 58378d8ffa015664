package storage

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-wallet/errors"
)

const tempPrefix = ".wallet-tmp-"

// DirStore mirrors WorkDir to PersistDir.
type DirStore struct {
	log        *zap.Logger
	WorkDir    string
	PersistDir string

	lastPersist atomic.Int64 // UnixNano end of the most recent Persist
	persisting  atomic.Int32
	mu          sync.Mutex
}

// NewDirStore returns a store mirroring workDir to persistDir.
func NewDirStore(workDir, persistDir string, log *zap.Logger) *DirStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &DirStore{WorkDir: workDir, PersistDir: persistDir, log: log}
}

func (s *DirStore) Persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.persisting.Add(1)
	defer func() {
		s.lastPersist.Store(time.Now().UnixNano())
		s.persisting.Add(-1)
	}()

	n, err := mirror(ctx, s.WorkDir, s.PersistDir)
	if err != nil {
		return errors.Storage("persist", err)
	}
	s.log.Debug("persisted working directory",
		zap.String("from", s.WorkDir),
		zap.String("to", s.PersistDir),
		zap.Int("written", n))
	return nil
}

func (s *DirStore) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.PersistDir); os.IsNotExist(err) {
		s.log.Debug("nothing to reload", zap.String("dir", s.PersistDir))
		return nil
	}
	n, err := mirror(ctx, s.PersistDir, s.WorkDir)
	if err != nil {
		return errors.Storage("reload", err)
	}
	s.log.Debug("reloaded working directory",
		zap.String("from", s.PersistDir),
		zap.String("to", s.WorkDir),
		zap.Int("written", n))
	return nil
}

// recentlyPersisted reports whether a Persist is running or ended within d.
func (s *DirStore) recentlyPersisted(d time.Duration) bool {
	if s.persisting.Load() > 0 {
		return true
	}
	last := s.lastPersist.Load()
	return last != 0 && time.Since(time.Unix(0, last)) < d
}

// mirror makes dst an exact copy of src. Files whose content already matches
// are left alone and a missing src leaves dst untouched. It returns the
// number of files written.
func mirror(ctx context.Context, src, dst string) (int, error) {
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return 0, nil
	}
	if err := ensureDir(dst); err != nil {
		return 0, err
	}

	seen := make(map[string]bool)
	written := 0
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		seen[rel] = true
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o700)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		changed, err := copyIfChanged(path, target)
		if changed {
			written++
		}
		return err
	})
	if err != nil {
		return written, err
	}

	// Remove what src no longer has, deepest paths first.
	var stale []string
	err = filepath.WalkDir(dst, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dst, path)
		if err != nil {
			return err
		}
		if rel != "." && !seen[rel] {
			stale = append(stale, path)
			if d.IsDir() {
				return filepath.SkipDir
			}
		}
		return nil
	})
	if err != nil {
		return written, err
	}
	for i := len(stale) - 1; i >= 0; i-- {
		if err := os.RemoveAll(stale[i]); err != nil {
			return written, err
		}
	}
	return written, nil
}

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o700)
}

func copyIfChanged(src, dst string) (bool, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return false, err
	}
	if existing, err := os.ReadFile(dst); err == nil && bytes.Equal(existing, data) {
		return false, nil
	}
	return true, writeAtomic(dst, data)
}

// writeAtomic writes via a temp file and rename so readers never observe a
// partial file.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), tempPrefix+"*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
