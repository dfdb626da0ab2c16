// Package store implements the on-disk persistence layer for the
// content-transfer engine. It maps (key, version) pairs to absolute
// file paths under a single root directory, and provides the atomic
// add/rename/kill operations the transfer engine needs to promote a
// pending or scratch file into a final, immutable version.
//
// Keys and versions are opaque byte strings and are never interpreted;
// they are hex-encoded into directory and file names so that any byte
// sequence -- including one containing a path separator or a NUL byte
// -- can be used safely.
package store

import (
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"

	raven "github.com/getsentry/raven-go"
)

var (
	// ErrNoSuchKey means the key has no entries in the store at all.
	ErrNoSuchKey = errors.New("no such key")

	// ErrNoSuchVersion means the key exists but not the given version.
	ErrNoSuchVersion = errors.New("no such version")

	// ErrAlreadyExists means the (key, version) pair is already present.
	ErrAlreadyExists = errors.New("version already exists")
)

// Store owns a root directory holding every (key, version) blob this
// node has accepted, whether final, pending, or scratch.
type Store struct {
	root string
}

// New returns a Store rooted at the given directory. The directory is
// created if it does not already exist.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0775); err != nil {
		return nil, err
	}
	return &Store{root: root}, nil
}

// keyDir returns the directory holding every version of key.
func (s *Store) keyDir(key string) string {
	return filepath.Join(s.root, hex.EncodeToString([]byte(key)))
}

// filePath returns the on-disk path for (key, version), regardless of
// whether it currently exists.
func (s *Store) filePath(key, version string) string {
	return filepath.Join(s.keyDir(key), hex.EncodeToString([]byte(version)))
}

// Exists reports whether key has any entries at all, tagged or not.
func (s *Store) Exists(key string) bool {
	entries, err := os.ReadDir(s.keyDir(key))
	return err == nil && len(entries) > 0
}

// ExistsVersion reports whether (key, version) is present on disk,
// under whatever tag it currently carries.
func (s *Store) ExistsVersion(key, version string) bool {
	_, err := os.Stat(s.filePath(key, version))
	return err == nil
}

// Path returns the absolute path of (key, version). It fails with
// ErrNoSuchKey or ErrNoSuchVersion if the pair is absent.
func (s *Store) Path(key, version string) (string, error) {
	if !s.Exists(key) {
		return "", ErrNoSuchKey
	}
	p := s.filePath(key, version)
	if _, err := os.Stat(p); err != nil {
		return "", ErrNoSuchVersion
	}
	return p, nil
}

// Add creates an empty file for (key, version) and returns its path.
// It fails with ErrAlreadyExists if the pair is already present.
func (s *Store) Add(key, version string) (string, error) {
	dir := s.keyDir(key)
	if err := os.MkdirAll(dir, 0775); err != nil {
		return "", err
	}
	p := s.filePath(key, version)
	f, err := os.OpenFile(p, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0664)
	if err != nil {
		if os.IsExist(err) {
			return "", ErrAlreadyExists
		}
		return "", err
	}
	f.Close()
	return p, nil
}

// Rename atomically moves (k1, v1) to (k2, v2). It fails if the source
// is absent or the destination already present.
//
// Same-directory renames (k1 == k2) are a single atomic rename(2).
// Cross-directory renames additionally fsync the destination
// directory afterward, since POSIX only guarantees the rename itself
// is atomic, not that it is durable across a crash.
func (s *Store) Rename(k1, v1, k2, v2 string) error {
	src := s.filePath(k1, v1)
	if _, err := os.Stat(src); err != nil {
		return ErrNoSuchVersion
	}
	dstDir := s.keyDir(k2)
	if err := os.MkdirAll(dstDir, 0775); err != nil {
		return err
	}
	dst := s.filePath(k2, v2)
	if _, err := os.Stat(dst); err == nil {
		return ErrAlreadyExists
	}
	if err := os.Rename(src, dst); err != nil {
		return err
	}
	if k1 != k2 {
		if err := fsyncDir(dstDir); err != nil {
			logError(err)
		}
	}
	return nil
}

// Kill removes (key, version). It is not an error for the pair to be
// absent.
func (s *Store) Kill(key, version string) error {
	err := os.Remove(s.filePath(key, version))
	if err != nil && os.IsNotExist(err) {
		err = nil
	}
	return err
}

// Versions enumerates every (key, version) pair currently on disk,
// including pending and scratch entries; callers filter by tag.
func (s *Store) Versions() (map[string][]string, error) {
	result := make(map[string][]string)
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, err
	}
	for _, ke := range entries {
		if !ke.IsDir() {
			continue
		}
		keyBytes, err := hex.DecodeString(ke.Name())
		if err != nil {
			continue // not one of ours
		}
		key := string(keyBytes)
		vs, err := os.ReadDir(filepath.Join(s.root, ke.Name()))
		if err != nil {
			logError(err)
			continue
		}
		for _, ve := range vs {
			if ve.IsDir() {
				continue
			}
			verBytes, err := hex.DecodeString(ve.Name())
			if err != nil {
				continue
			}
			result[key] = append(result[key], string(verBytes))
		}
	}
	return result, nil
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

func logError(err error) {
	raven.CaptureError(err, nil)
}
