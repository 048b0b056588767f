package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DiskBlobStore keeps raw image bytes on the local filesystem, served under
// /uploads/.
type DiskBlobStore struct {
	dir string
}

func NewDiskBlobStore(dir string) (*DiskBlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &DiskBlobStore{dir: dir}, nil
}

func (s *DiskBlobStore) Dir() string { return s.dir }

func (s *DiskBlobStore) Save(filename string, data []byte) (string, string, error) {
	finalName := fmt.Sprintf("%d_%s", time.Now().UnixNano(), filepath.Base(filename))
	path := filepath.Join(s.dir, finalName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", "", fmt.Errorf("save file: %w", err)
	}
	return path, "/uploads/" + finalName, nil
}

func (s *DiskBlobStore) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

func (s *DiskBlobStore) Remove(path string) error {
	return os.Remove(path)
}

var _ BlobStore = (*DiskBlobStore)(nil)
