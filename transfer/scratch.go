package transfer

import (
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/shisoft/changetx/fsfront"
	"github.com/shisoft/changetx/hash"
)

// scratchFile is the concrete fsfront.ScratchFile this Engine hands
// out. It carries the (key, tagged version) it was opened under so
// Close/RenameScratch/KillScratch know where it lives in the store.
type scratchFile struct {
	f       *os.File
	key     string
	version string // carries the ".scratch" tag
}

func (s *scratchFile) Write(p []byte) (int, error) { return s.f.Write(p) }
func (s *scratchFile) Name() string                { return s.version }

// Open begins a blank scratch file under key.
func (e *Engine) Open(key string) (fsfront.ScratchFile, error) {
	path, err := e.store.Add(key, scratchSuffix)
	if err != nil {
		return nil, errors.Wrap(err, "creating scratch file")
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0664)
	if err != nil {
		return nil, errors.Wrap(err, "opening scratch file")
	}
	return &scratchFile{f: f, key: key, version: scratchSuffix}, nil
}

// OpenFrom begins a scratch file under key, seeded with the content of
// an existing version, so edits can start from a known baseline. It
// fails without touching the store if the baseline version doesn't
// exist as a final version.
func (e *Engine) OpenFrom(key, version string) (fsfront.ScratchFile, error) {
	src, err := e.store.Path(key, version)
	if err != nil {
		return nil, errors.Wrap(err, "locating baseline version")
	}

	tag := version + scratchSuffix
	path, err := e.store.Add(key, tag)
	if err != nil {
		return nil, errors.Wrap(err, "creating scratch file")
	}
	if err := copyFileContents(src, path); err != nil {
		e.store.Kill(key, tag)
		return nil, errors.Wrap(err, "seeding scratch file")
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0664)
	if err != nil {
		e.store.Kill(key, tag)
		return nil, errors.Wrap(err, "opening scratch file")
	}
	return &scratchFile{f: f, key: key, version: tag}, nil
}

// Close finishes a scratch file: its content hash becomes the new
// version id, and the scratch is renamed into place under that id.
func (e *Engine) Close(key string, sf fsfront.ScratchFile) (string, error) {
	s, ok := sf.(*scratchFile)
	if !ok || s.key != key {
		return "", ErrBadScratchHandle
	}

	if err := s.f.Sync(); err != nil {
		return "", errors.Wrap(err, "flushing scratch file")
	}
	path, err := e.store.Path(s.key, s.version)
	if err != nil {
		s.f.Close()
		return "", errors.Wrap(err, "locating scratch file")
	}
	s.f.Close()

	newVersion, err := hash.File(path)
	if err != nil {
		return "", errors.Wrap(err, "hashing scratch file")
	}
	if err := e.store.Rename(s.key, s.version, s.key, newVersion); err != nil {
		return "", errors.Wrap(err, "promoting scratch file to a version")
	}
	return newVersion, nil
}

// Add is a convenience for Open, copying all of r into the scratch,
// then Close.
func (e *Engine) Add(key string, r io.Reader) (string, error) {
	sf, err := e.Open(key)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(sf, r); err != nil {
		return "", errors.Wrap(err, "writing scratch content")
	}
	return e.Close(key, sf)
}

// RenameScratch finishes a scratch file under a brand new key instead
// of its originating one. It fails if newKey already has content.
func (e *Engine) RenameScratch(newKey string, sf fsfront.ScratchFile) (string, error) {
	s, ok := sf.(*scratchFile)
	if !ok {
		return "", ErrBadScratchHandle
	}
	if e.store.Exists(newKey) {
		return "", ErrKeyExists
	}

	if err := s.f.Sync(); err != nil {
		return "", errors.Wrap(err, "flushing scratch file")
	}
	path, err := e.store.Path(s.key, s.version)
	if err != nil {
		s.f.Close()
		return "", errors.Wrap(err, "locating scratch file")
	}
	s.f.Close()

	newVersion, err := hash.File(path)
	if err != nil {
		return "", errors.Wrap(err, "hashing scratch file")
	}
	if err := e.store.Rename(s.key, s.version, newKey, newVersion); err != nil {
		return "", errors.Wrap(err, "renaming scratch file to a new key")
	}
	return newVersion, nil
}

// KillScratch discards a scratch file without turning it into a
// version.
func (e *Engine) KillScratch(sf fsfront.ScratchFile) error {
	s, ok := sf.(*scratchFile)
	if !ok {
		return ErrBadScratchHandle
	}
	s.f.Close()
	return e.store.Kill(s.key, s.version)
}

// Kill removes a final version.
func (e *Engine) Kill(key, version string) error {
	return e.store.Kill(key, version)
}

// Rename moves a final version to a new key, keeping its version id.
// It fails if the destination key already has content.
func (e *Engine) Rename(key, version, newKey string) error {
	if e.store.Exists(newKey) {
		return ErrKeyExists
	}
	return e.store.Rename(key, version, newKey, version)
}

func copyFileContents(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_TRUNC, 0664)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
