// Package fsfront defines the surface the replicated filesystem's
// front end uses to drive the transfer engine: enumerating what is
// stored locally, and running the scratch-file workflow for new
// content originating on this node.
package fsfront

import "io"

// Front is the set of operations the filesystem front end calls
// directly on the transfer engine, as opposed to the peer-to-peer
// request/response traffic carried over wire.Sender/wire.Handler.
// Administrative operations on already-final versions (deleting or
// renaming one outright) are not part of this surface -- they're
// reached through the engine directly, from an operator path such as
// cmd/cted's -delete flag.
type Front interface {
	// Exists reports whether key has any final version stored.
	Exists(key string) bool

	// ExistsVersion reports whether key has a final version stored
	// under exactly version, as opposed to only a pending or scratch
	// entry.
	ExistsVersion(key, version string) bool

	// Versions lists the final version tags stored under key.
	Versions(key string) ([]string, error)

	// Scratches lists the scratch files currently open under key.
	Scratches(key string) ([]string, error)

	// Path returns the on-disk path of a final (key, version).
	Path(key, version string) (string, error)

	// Open begins a new, blank scratch file under key, returning a
	// handle the caller writes content into.
	Open(key string) (ScratchFile, error)

	// OpenFrom begins a new scratch file under key, seeded with the
	// content of an existing version.
	OpenFrom(key, version string) (ScratchFile, error)

	// Close finishes a scratch file, computing its content hash and
	// renaming it into a final version under key. The resulting
	// version tag is returned.
	Close(key string, sf ScratchFile) (string, error)

	// Add is a shortcut for Open, write all of r, then Close.
	Add(key string, r io.Reader) (string, error)

	// RenameScratch finishes a scratch file under a brand new key
	// instead of the one it was opened under.
	RenameScratch(newKey string, sf ScratchFile) (string, error)

	// KillScratch discards a scratch file without turning it into a
	// version.
	KillScratch(sf ScratchFile) error
}

// ScratchFile is an open, not-yet-hashed unit of new content. It is
// returned by Open/OpenFrom and consumed by Close/RenameScratch/
// KillScratch.
type ScratchFile interface {
	io.Writer
	Name() string
}
