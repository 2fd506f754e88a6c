package blobstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
)

// FilesystemStore is a BlobStore rooted at a local directory, used for
// single-node deployments and tests where standing up object storage
// isn't worth it.
type FilesystemStore struct {
	root string
}

// NewFilesystemStore creates the root directory if needed and returns a
// BlobStore backed by it.
func NewFilesystemStore(root string) (*FilesystemStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FilesystemStore{root: root}, nil
}

func (f *FilesystemStore) path(key string) string {
	return filepath.Join(f.root, filepath.FromSlash(key))
}

func (f *FilesystemStore) Get(ctx context.Context, key string) ([]byte, error) {
	return os.ReadFile(f.path(key))
}

func (f *FilesystemStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	p := f.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

func (f *FilesystemStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(f.path(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (f *FilesystemStore) Delete(ctx context.Context, key string) error {
	err := os.Remove(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (f *FilesystemStore) ListFiles(ctx context.Context, source, dataset string) ([]FileInfo, error) {
	dir := f.path(filepath.Join(source, dataset))
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var files []FileInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			Name:         entry.Name(),
			Size:         info.Size(),
			LastModified: info.ModTime().Unix(),
		})
	}
	return files, nil
}

func (f *FilesystemStore) DatasetExists(ctx context.Context, source, dataset string) (bool, error) {
	info, err := os.Stat(f.path(filepath.Join(source, dataset)))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}
