package staging

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps objects as files. A listing matches entries of the
// prefix's parent directory whose names start with the prefix's base name.
type LocalStore struct{}

func NewLocalStore() *LocalStore {
	return &LocalStore{}
}

func (s *LocalStore) List(ctx context.Context, loc Location) ([]Location, error) {
	dir, base := filepath.Split(loc.Key)
	if dir == "" {
		dir = "."
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []Location
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), base) {
			out = append(out, Location{Scheme: SchemeLocal, Key: filepath.Join(dir, e.Name())})
		}
	}
	return out, nil
}

func (s *LocalStore) Put(ctx context.Context, loc Location, body []byte, contentType string) error {
	if err := os.MkdirAll(filepath.Dir(loc.Key), 0o755); err != nil {
		return err
	}
	return os.WriteFile(loc.Key, body, 0o644)
}
