// Package objectstore implements the Object storage collaborator contract
// from spec §6: `put(path, stream)`, `get(path)`, `delete(path)`. The
// default implementation is local-filesystem, grounded on the teacher's
// runtime/storage/local/filestore.go path-traversal protection, generalized
// to archive blobs (the Result Collector's per-task tarball) instead of
// deduplicated content blobs — dedup is dropped, it is not a requirement here.
package objectstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	runnererrors "github.com/waldiez/runner/internal/errors"
)

// Store is the Object storage collaborator contract.
type Store interface {
	Put(ctx context.Context, path string, r io.Reader) error
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
}

// LocalStore implements Store on the local filesystem under BaseDir.
type LocalStore struct {
	baseDir string
}

// NewLocalStore creates BaseDir if needed and returns a ready LocalStore.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	if baseDir == "" {
		return nil, runnererrors.New("objectstore", "NewLocalStore", nil).WithKind(runnererrors.KindValidationFailed)
	}
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, storageErr("NewLocalStore", err)
	}
	return &LocalStore{baseDir: baseDir}, nil
}

var _ Store = (*LocalStore)(nil)

// validatePath resolves path against baseDir and rejects anything that
// escapes it (including via symlinks), preventing path traversal.
func (s *LocalStore) validatePath(path string) (string, error) {
	full := filepath.Join(s.baseDir, filepath.Clean(string(filepath.Separator)+path))

	absBase, err := filepath.Abs(s.baseDir)
	if err != nil {
		return "", err
	}
	absFull, err := filepath.Abs(full)
	if err != nil {
		return "", err
	}
	if absFull != absBase && !strings.HasPrefix(absFull+string(filepath.Separator), absBase+string(filepath.Separator)) {
		return "", runnererrors.New("objectstore", "validatePath", nil).
			WithKind(runnererrors.KindValidationFailed).
			WithDetails(map[string]any{"path": path})
	}

	if _, err := os.Lstat(absFull); err == nil {
		realBase, err := filepath.EvalSymlinks(absBase)
		if err != nil {
			realBase = absBase
		}
		realFull, err := filepath.EvalSymlinks(absFull)
		if err != nil {
			return "", storageErr("validatePath", err)
		}
		if realFull != realBase && !strings.HasPrefix(realFull+string(filepath.Separator), realBase+string(filepath.Separator)) {
			return "", runnererrors.New("objectstore", "validatePath", nil).WithKind(runnererrors.KindValidationFailed)
		}
	}

	return absFull, nil
}

// Put implements Store, writing atomically via a temp file + rename.
func (s *LocalStore) Put(_ context.Context, path string, r io.Reader) error {
	full, err := s.validatePath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return storageErr("Put", err)
	}

	tmp := full + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return storageErr("Put", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return storageErr("Put", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return storageErr("Put", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return storageErr("Put", err)
	}
	return nil
}

// Get implements Store.
func (s *LocalStore) Get(_ context.Context, path string) (io.ReadCloser, error) {
	full, err := s.validatePath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, runnererrors.New("objectstore", "Get", err).WithKind(runnererrors.KindNotFound)
		}
		return nil, storageErr("Get", err)
	}
	return f, nil
}

// Delete implements Store.
func (s *LocalStore) Delete(_ context.Context, path string) error {
	full, err := s.validatePath(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return storageErr("Delete", err)
	}
	return nil
}

func storageErr(op string, cause error) error {
	return runnererrors.New("objectstore", op, cause).WithKind(runnererrors.KindStorageUnavailable)
}
