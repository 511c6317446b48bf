package favorites

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore keeps the list as a JSON array in Dir/cryptoFavorites.json.
// Profiles other than the default live in Dir/<profile>/.
type FileStore struct {
	Dir     string
	Profile string
}

func (f FileStore) dir() string {
	dir := f.Dir
	if dir == "" {
		dir = "."
	}
	if f.Profile != "" && f.Profile != DefaultProfile {
		dir = filepath.Join(dir, f.Profile)
	}
	return dir
}

func (f FileStore) Path() string {
	return filepath.Join(f.dir(), StorageKey+".json")
}

func (f FileStore) Load(context.Context) ([]string, error) {
	b, err := os.ReadFile(f.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return decode(b)
}

// Save writes through a temp file and rename so readers never see a
// partial document.
func (f FileStore) Save(_ context.Context, ids []string) error {
	b, err := encode(ids)
	if err != nil {
		return err
	}
	dir := f.dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create favorites dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, StorageKey+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.Path())
}
