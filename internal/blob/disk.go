package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DiskStore keeps objects as plain files under a root directory. Writes go
// to a temp file in the target directory and become visible only through an
// atomic rename on Commit.
type DiskStore struct {
	root string
}

// NewDiskStore returns a Store rooted at root, creating it if needed.
func NewDiskStore(root string) (*DiskStore, error) {
	if root == "" {
		return nil, fmt.Errorf("disk store: empty root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("disk store: %w", err)
	}
	if err := os.MkdirAll(abs, 0o770); err != nil {
		return nil, fmt.Errorf("disk store: mkdir %s: %w", abs, err)
	}
	return &DiskStore{root: abs}, nil
}

func (s *DiskStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *DiskStore) Create(ctx context.Context, key string) (Writer, error) {
	final := s.path(key)
	dir := filepath.Dir(final)
	if err := os.MkdirAll(dir, 0o770); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	// Temp file lives in the destination directory so the rename stays on
	// one filesystem.
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp: %w", err)
	}
	return &diskWriter{file: tmp, tmpName: tmp.Name(), finalName: final}, nil
}

type diskWriter struct {
	file      *os.File
	tmpName   string
	finalName string
	done      bool
}

func (w *diskWriter) Write(p []byte) (int, error) {
	return w.file.Write(p)
}

func (w *diskWriter) Commit(ctx context.Context) error {
	if w.done {
		return fmt.Errorf("writer already finished")
	}
	w.done = true
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		os.Remove(w.tmpName)
		return fmt.Errorf("sync: %w", err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(w.tmpName)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(w.tmpName, w.finalName); err != nil {
		os.Remove(w.tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func (w *diskWriter) Abort(ctx context.Context) error {
	if w.done {
		return nil
	}
	w.done = true
	w.file.Close()
	if err := os.Remove(w.tmpName); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove temp: %w", err)
	}
	return nil
}

func (s *DiskStore) Open(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	f, err := os.Open(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("open: %w", err)
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("seek: %w", err)
		}
	}
	if length < 0 {
		return f, nil
	}
	return &limitedReadCloser{Reader: io.LimitReader(f, length), closer: f}, nil
}

type limitedReadCloser struct {
	io.Reader
	closer io.Closer
}

func (l *limitedReadCloser) Close() error { return l.closer.Close() }

func (s *DiskStore) Delete(ctx context.Context, key string) error {
	path := s.path(key)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotExist
		}
		return fmt.Errorf("remove: %w", err)
	}
	s.pruneEmptyParents(filepath.Dir(path))
	return nil
}

// pruneEmptyParents removes now-empty directories left behind by a deleted
// object, stopping at the store root or the first non-empty directory.
func (s *DiskStore) pruneEmptyParents(dir string) {
	for strings.HasPrefix(dir, s.root) && dir != s.root {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func (s *DiskStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(s.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat: %w", err)
}
