package credentials

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const credentialsFileName = "credentials.json"

// FileStore persists the credential pair as JSON in a single file, created
// with 0600 permissions. Writes go through a temp file and a rename so a
// reader never observes a half-written pair.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by the given file path.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("[NewFileStore] path is required")
	}
	return &FileStore{path: path}, nil
}

// DefaultPath returns the conventional credentials location,
// ~/.hmsctl/credentials.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "[DefaultPath] find home directory")
	}
	return filepath.Join(home, ".hmsctl", credentialsFileName), nil
}

// Load implements Store. A missing file means no stored pair.
func (s *FileStore) Load() (*Pair, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "[FileStore.Load] read credentials")
	}

	var pair Pair
	if err := json.Unmarshal(data, &pair); err != nil {
		return nil, errors.Wrap(err, "[FileStore.Load] parse credentials")
	}
	if pair.Access == "" && pair.Refresh == "" {
		return nil, nil
	}
	return &pair, nil
}

// Save implements Store.
func (s *FileStore) Save(pair Pair) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return errors.Wrap(err, "[FileStore.Save] create config directory")
	}

	data, err := json.MarshalIndent(pair, "", "  ")
	if err != nil {
		return errors.Wrap(err, "[FileStore.Save] marshal credentials")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(err, "[FileStore.Save] write credentials")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "[FileStore.Save] replace credentials")
	}
	return nil
}

// Clear implements Store. Clearing an already-empty store is not an error.
func (s *FileStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "[FileStore.Clear] remove credentials")
	}
	return nil
}

var _ Store = (*FileStore)(nil)
