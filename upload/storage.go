package upload

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStorage keeps uploaded files in one directory, named by upload id.
type FileStorage struct {
	dir string
}

// NewFileStorage creates the directory if needed.
func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir %s: %w", dir, err)
	}
	return &FileStorage{dir: dir}, nil
}

// Path returns where the file of upload id is stored.
func (s *FileStorage) Path(id string) string {
	return filepath.Join(s.dir, id+".pdf")
}

// Save writes r to the upload's path and returns the path and size.
// A partially written file is removed.
func (s *FileStorage) Save(id string, r io.Reader) (string, int64, error) {
	path := s.Path(id)
	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("create %s: %w", path, err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("write %s: %w", path, err)
	}
	return path, n, nil
}

// Remove deletes the file of upload id. A missing file is not an error.
func (s *FileStorage) Remove(id string) error {
	if err := os.Remove(s.Path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove upload %s: %w", id, err)
	}
	return nil
}
