// Package cache provides the content-addressed object store helpers and a
// TTL-bounded JSON response cache.
package cache

import (
	"os"
	"path/filepath"

	"github.com/blocksmiths/launchcore/internal/download"
)

// ObjectStore is a view over the content-addressed asset store. Files are
// named by their SHA-1; existence plus hash is the only index.
type ObjectStore struct {
	root string // assets/objects
}

// NewObjectStore creates a store rooted at dir (typically assets/objects).
func NewObjectStore(dir string) *ObjectStore {
	return &ObjectStore{root: dir}
}

// Path returns the physical location for a hash: <root>/<hh>/<hash>.
func (s *ObjectStore) Path(hash string) string {
	return filepath.Join(s.root, hash[:2], hash)
}

// Has reports whether the object exists and its bytes match the hash.
// A mismatching file is treated as absent and removed.
func (s *ObjectStore) Has(hash string, size int64) bool {
	path := s.Path(hash)
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if size > 0 && info.Size() != size {
		os.Remove(path)
		return false
	}
	actual, err := download.SHA1File(path)
	if err != nil || actual != hash {
		os.Remove(path)
		return false
	}
	return true
}

// Root returns the store's root directory.
func (s *ObjectStore) Root() string { return s.root }
