package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-wallet/errors"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func newStore(t *testing.T) *DirStore {
	t.Helper()
	root := t.TempDir()
	return NewDirStore(filepath.Join(root, "work"), filepath.Join(root, "persist"), nil)
}

func TestNop(t *testing.T) {
	var s Store = Nop{}
	assert.NoError(t, s.Persist(context.Background()))
	assert.NoError(t, s.Reload(context.Background()))
}

func TestDirStore_PersistReload(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	writeFile(t, filepath.Join(s.WorkDir, "alice.zan"), "wallet-a")
	writeFile(t, filepath.Join(s.WorkDir, "logs", "wallet.log"), "log")
	require.NoError(t, s.Persist(ctx))

	assert.Equal(t, "wallet-a", readFile(t, filepath.Join(s.PersistDir, "alice.zan")))
	assert.Equal(t, "log", readFile(t, filepath.Join(s.PersistDir, "logs", "wallet.log")))

	// A fresh host starts with an empty working directory.
	require.NoError(t, os.RemoveAll(s.WorkDir))
	require.NoError(t, s.Reload(ctx))
	assert.Equal(t, "wallet-a", readFile(t, filepath.Join(s.WorkDir, "alice.zan")))
	assert.Equal(t, "log", readFile(t, filepath.Join(s.WorkDir, "logs", "wallet.log")))
}

func TestDirStore_PersistRemovesStale(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	writeFile(t, filepath.Join(s.WorkDir, "keep.zan"), "keep")
	writeFile(t, filepath.Join(s.WorkDir, "old", "gone.zan"), "gone")
	require.NoError(t, s.Persist(ctx))

	require.NoError(t, os.RemoveAll(filepath.Join(s.WorkDir, "old")))
	writeFile(t, filepath.Join(s.WorkDir, "keep.zan"), "keep v2")
	require.NoError(t, s.Persist(ctx))

	assert.Equal(t, "keep v2", readFile(t, filepath.Join(s.PersistDir, "keep.zan")))
	_, err := os.Stat(filepath.Join(s.PersistDir, "old"))
	assert.True(t, os.IsNotExist(err), "stale directory should be removed")
}

func TestDirStore_ReloadWithoutPersistedState(t *testing.T) {
	s := newStore(t)
	writeFile(t, filepath.Join(s.WorkDir, "local.zan"), "local")

	require.NoError(t, s.Reload(context.Background()))
	assert.Equal(t, "local", readFile(t, filepath.Join(s.WorkDir, "local.zan")))
}

func TestDirStore_PersistWithoutWorkDir(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	writeFile(t, filepath.Join(s.PersistDir, "saved.zan"), "saved")

	require.NoError(t, s.Persist(ctx))
	assert.Equal(t, "saved", readFile(t, filepath.Join(s.PersistDir, "saved.zan")))
}

func TestDirStore_SkipsTempFiles(t *testing.T) {
	s := newStore(t)
	writeFile(t, filepath.Join(s.WorkDir, tempPrefix+"123"), "partial")
	writeFile(t, filepath.Join(s.WorkDir, "w.zan"), "w")

	require.NoError(t, s.Persist(context.Background()))
	_, err := os.Stat(filepath.Join(s.PersistDir, tempPrefix+"123"))
	assert.True(t, os.IsNotExist(err))
}

func TestDirStore_CancelledContext(t *testing.T) {
	s := newStore(t)
	writeFile(t, filepath.Join(s.WorkDir, "w.zan"), "w")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Persist(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, &errors.Error{Phase: errors.PhaseStorage, Kind: errors.KindFailed}))
	assert.ErrorIs(t, err, context.Canceled)
}

type changeLog struct {
	mu    sync.Mutex
	paths []string
	ch    chan string
}

func newChangeLog() *changeLog {
	return &changeLog{ch: make(chan string, 16)}
}

func (c *changeLog) record(path string) {
	c.mu.Lock()
	c.paths = append(c.paths, path)
	c.mu.Unlock()
	c.ch <- path
}

func (c *changeLog) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.paths)
}

func TestWatch_ExternalChange(t *testing.T) {
	s := newStore(t)
	changes := newChangeLog()

	w, err := s.Watch(context.Background(), 50*time.Millisecond, changes.record)
	require.NoError(t, err)
	defer w.Close()

	writeFile(t, filepath.Join(s.PersistDir, "other.zan"), "from another host")

	select {
	case path := <-changes.ch:
		assert.Equal(t, "other.zan", filepath.Base(path))
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}
}

func TestWatch_IgnoresOwnPersist(t *testing.T) {
	s := newStore(t)
	changes := newChangeLog()

	w, err := s.Watch(context.Background(), 200*time.Millisecond, changes.record)
	require.NoError(t, err)
	defer w.Close()

	writeFile(t, filepath.Join(s.WorkDir, "mine.zan"), "mine")
	require.NoError(t, s.Persist(context.Background()))

	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, 0, changes.count())
}

func TestWatch_Close(t *testing.T) {
	s := newStore(t)
	w, err := s.Watch(context.Background(), 0, func(string) {})
	require.NoError(t, err)

	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}
