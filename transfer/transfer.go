// Package transfer implements the content-transfer engine: it serves
// chunks of locally stored versions to peers, reassembles versions
// arriving from peers (tolerating out-of-order and missing chunks),
// and hosts the scratch-file workflow new local content goes through
// before it is given a version id.
//
// An Engine is not safe for unsynchronized concurrent use by its
// callers' intent -- the transfer protocol is meant to be driven by a
// single event loop invoking HandleRequest, HandleResponse, Tick, and
// CommitHandler one at a time. It still guards its pending-transfer
// state with a mutex, since wire.Client delivers each Response to
// HandleResponse on a goroutine of its own.
package transfer

import (
	"errors"
	"strings"
	"sync"

	"github.com/golang/groupcache/singleflight"

	"github.com/shisoft/changetx/consensus"
	"github.com/shisoft/changetx/store"
	"github.com/shisoft/changetx/wire"
)

// Exported errors.
var (
	// ErrInProgress is returned by Path when the requested version is
	// still being reassembled and has no complete, final content yet.
	ErrInProgress = errors.New("version transfer not complete")

	// ErrKeyExists is returned by Rename and RenameScratch when the
	// destination key already has content.
	ErrKeyExists = errors.New("destination key already exists")

	// ErrBadScratchHandle is returned when a fsfront.ScratchFile not
	// obtained from this Engine is passed back into it.
	ErrBadScratchHandle = errors.New("scratch handle not recognized")
)

// pendingKey identifies an in-progress transfer. Version always
// carries the ".pending" tag -- the version string as it actually
// appears in the store, not the eventual final version.
type pendingKey struct {
	Key     string
	Version string
}

// gap is a half-open byte range [Start, Start+Length) not yet
// received for a pending transfer.
type gap struct {
	Start  int64
	Length int64
}

// pendingInfo tracks one in-progress inbound transfer.
type pendingInfo struct {
	From    string // peer believed to hold the complete version
	Version string // the pending-tagged version string in the store
	EOFSeen bool
	Length  int64
	Gaps    []gap
}

// newPendingInfo returns a pendingInfo with EOFSeen and Length at
// their zero values; a freshly started transfer has seen nothing.
func newPendingInfo(from, version string) *pendingInfo {
	return &pendingInfo{From: from, Version: version}
}

// Engine is the content-transfer engine for a single node. The zero
// value is not usable; build one with New.
type Engine struct {
	store    *store.Store
	sender   wire.Sender
	notifier consensus.Notifier

	mu      sync.Mutex
	pending map[pendingKey]*pendingInfo

	commits singleflight.Group // collapses concurrent commit notifications, keyed by "key\x00version"
}

// New returns an Engine backed by s, sending outbound chunk requests
// through sender and notifying notifier once a version is fully
// reassembled and committed locally.
func New(s *store.Store, sender wire.Sender, notifier consensus.Notifier) *Engine {
	if notifier == nil {
		notifier = consensus.NopNotifier{}
	}
	return &Engine{
		store:    s,
		sender:   sender,
		notifier: notifier,
		pending:  make(map[pendingKey]*pendingInfo),
	}
}

// Exists reports whether key has any final version stored.
func (e *Engine) Exists(key string) bool {
	versions, err := e.Versions(key)
	return err == nil && len(versions) > 0
}

// ExistsVersion reports whether key has a final version stored under
// exactly version. It returns false for any version present only as
// pending or scratch, and true only for final versions.
func (e *Engine) ExistsVersion(key, version string) bool {
	if isPending(version) || isScratch(version) {
		return false
	}
	return e.store.ExistsVersion(key, version)
}

// Versions lists the final version tags stored under key, excluding
// any pending or scratch entries.
func (e *Engine) Versions(key string) ([]string, error) {
	all, err := e.store.Versions()
	if err != nil {
		return nil, err
	}
	var result []string
	for _, v := range all[key] {
		if isPending(v) || isScratch(v) {
			continue
		}
		result = append(result, v)
	}
	return result, nil
}

// Scratches lists the scratch files currently open under key.
func (e *Engine) Scratches(key string) ([]string, error) {
	all, err := e.store.Versions()
	if err != nil {
		return nil, err
	}
	var result []string
	for _, v := range all[key] {
		if isScratch(v) {
			result = append(result, v)
		}
	}
	return result, nil
}

// Path returns the on-disk path of a final (key, version). It returns
// ErrInProgress if that version is currently being reassembled.
func (e *Engine) Path(key, version string) (string, error) {
	e.mu.Lock()
	_, inProgress := e.pending[pendingKey{key, version + pendingSuffix}]
	e.mu.Unlock()
	if inProgress {
		return "", ErrInProgress
	}
	return e.store.Path(key, version)
}

const (
	pendingSuffix = ".pending"
	scratchSuffix = ".scratch"
)

func isPending(version string) bool {
	return strings.HasSuffix(version, pendingSuffix)
}

func isScratch(version string) bool {
	return strings.HasSuffix(version, scratchSuffix)
}
