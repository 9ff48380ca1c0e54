// Package dbsynctest provides an in-memory object store and a ready-to-use
// Sync Manager for tests of packages that persist through dbsync.
package dbsynctest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"

	"taleBook/internal/database"
	"taleBook/internal/dbsync"
)

// ErrUnreachable is returned by uploads while the remote is marked as failing.
var ErrUnreachable = errors.New("object store unreachable")

// MemoryRemote implements dbsync.Remote on top of a map.
type MemoryRemote struct {
	mu       sync.Mutex
	objects  map[string][]byte
	etags    map[string]string
	version  int
	uploads  int
	failPush bool
}

func NewMemoryRemote() *MemoryRemote {
	return &MemoryRemote{objects: map[string][]byte{}, etags: map[string]string{}}
}

func (r *MemoryRemote) Download(_ context.Context, key, dstPath string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.objects[key]
	if !ok {
		return "", minio.ErrorResponse{Code: "NoSuchKey", Message: "The specified key does not exist.", StatusCode: 404}
	}
	if err := os.WriteFile(dstPath, data, 0o600); err != nil {
		return "", err
	}
	return r.etags[key], nil
}

func (r *MemoryRemote) Upload(_ context.Context, key, srcPath string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uploads++
	if r.failPush {
		return "", ErrUnreachable
	}
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return "", err
	}
	r.version++
	r.objects[key] = data
	r.etags[key] = fmt.Sprintf("rev-%d", r.version)
	return r.etags[key], nil
}

func (r *MemoryRemote) Revision(_ context.Context, key string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.etags[key], nil
}

// Uploads returns how many uploads were attempted.
func (r *MemoryRemote) Uploads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.uploads
}

// SetFailPush makes every following upload fail with ErrUnreachable.
func (r *MemoryRemote) SetFailPush(fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failPush = fail
}

// NewManager returns a pulled Manager backed by remote and a database file in t.TempDir().
func NewManager(t testing.TB, remote *MemoryRemote) *dbsync.Manager {
	t.Helper()
	store := database.Open(filepath.Join(t.TempDir(), "stories.db"), nil)
	manager := dbsync.NewManager(remote, store, dbsync.Options{Key: "stories.db", Attempts: 1}, nil)
	if _, err := manager.Pull(context.Background()); err != nil {
		t.Fatalf("pull: %v", err)
	}
	return manager
}
