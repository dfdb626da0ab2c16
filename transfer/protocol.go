package transfer

import (
	"io"
	"log"
	"os"

	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"

	"github.com/shisoft/changetx/codec"
	"github.com/shisoft/changetx/wire"
)

// HandleRequest answers a peer's request for a chunk of a locally
// stored version. peer is the name the transport passes along with the
// request (over HTTP, the :peer segment of the route); it is not used.
func (e *Engine) HandleRequest(peer string, req wire.Request) wire.Response {
	resp := wire.Response{Key: req.Key, Version: req.Version, Offset: req.Offset}

	if !e.store.Exists(req.Key) {
		resp.Code = wire.NoKey
		return resp
	}

	path, err := e.store.Path(req.Key, req.Version)
	if err != nil {
		resp.Code = wire.NoVersion
		return resp
	}

	f, err := os.Open(path)
	if err != nil {
		resp.Code = wire.NoVersion
		return resp
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil || req.Offset > fi.Size() {
		resp.Code = wire.EOF
		return resp
	}

	if _, err := f.Seek(req.Offset, io.SeekStart); err != nil {
		resp.Code = wire.EOF
		return resp
	}

	buf := make([]byte, codec.BlockSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		resp.Code = wire.EOF
		return resp
	}

	resp.Data = codec.Encode(buf[:n])
	resp.Length = n
	if req.Offset+int64(n) >= fi.Size() {
		resp.Code = wire.EOF
	} else {
		resp.Code = wire.OK
	}
	return resp
}

// HandleResponse processes a peer's answer to a chunk request we sent
// out, writing any data into the pending file and promoting it to a
// final version once the whole thing has arrived.
func (e *Engine) HandleResponse(from string, resp wire.Response) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	pendingVersion := resp.Version + pendingSuffix
	pk := pendingKey{resp.Key, pendingVersion}

	if resp.Code == wire.NoKey || resp.Code == wire.NoVersion {
		delete(e.pending, pk)
		if err := e.store.Kill(resp.Key, pendingVersion); err != nil {
			return errors.Wrap(err, "cleaning up abandoned pending transfer")
		}
		log.Printf("transfer: failed to retrieve (%s, %s) from %s: %s",
			resp.Key, resp.Version, from, resp.Code)
		return nil
	}

	if e.store.ExistsVersion(resp.Key, resp.Version) {
		// We already have the final version; nothing left to do.
		delete(e.pending, pk)
		return nil
	}

	info, ok := e.pending[pk]
	if !ok {
		info = newPendingInfo(from, pendingVersion)
		e.pending[pk] = info
	}

	if !e.store.ExistsVersion(resp.Key, pendingVersion) {
		if _, err := e.store.Add(resp.Key, pendingVersion); err != nil {
			return errors.Wrap(err, "creating pending file")
		}
	}

	path, err := e.store.Path(resp.Key, pendingVersion)
	if err != nil {
		return errors.Wrap(err, "locating pending file")
	}

	// The offset a peer reports is authoritative: a chunk landing past
	// the known length opens a gap instead of being discarded, and one
	// landing exactly at a previously opened gap's start closes it. A
	// chunk at the known length is a plain append, and one anywhere else
	// below it rewrites bytes already held, which is harmless for a resend.
	if resp.Data != "" {
		data, err := codec.Decode(resp.Data)
		if err != nil {
			return errors.Wrap(err, "decoding chunk payload")
		}

		f, err := os.OpenFile(path, os.O_RDWR, 0664)
		if err != nil {
			return errors.Wrap(err, "opening pending file")
		}

		if resp.Offset > info.Length {
			info.Gaps = append(info.Gaps, gap{Start: info.Length, Length: resp.Offset - info.Length})
		}

		if _, err := f.Seek(resp.Offset, io.SeekStart); err != nil {
			f.Close()
			return errors.Wrap(err, "seeking in pending file")
		}
		n, err := f.Write(data)
		closeErr := f.Close()
		if err != nil {
			return errors.Wrap(err, "writing chunk to pending file")
		}
		if closeErr != nil {
			return errors.Wrap(closeErr, "closing pending file")
		}

		if newEnd := resp.Offset + int64(n); newEnd > info.Length {
			info.Length = newEnd
		}

		filled := info.Gaps[:0]
		for _, g := range info.Gaps {
			if g.Start != resp.Offset {
				filled = append(filled, g)
			}
		}
		info.Gaps = filled
	}

	if resp.Code == wire.EOF {
		info.EOFSeen = true
	}

	if info.EOFSeen && len(info.Gaps) == 0 {
		if err := e.store.Rename(resp.Key, pendingVersion, resp.Key, resp.Version); err != nil {
			return errors.Wrap(err, "promoting pending file to final version")
		}
		delete(e.pending, pk)
		e.notifier.Notify(resp.Key, resp.Version)
	}

	return nil
}

// CommitHandler registers the start of a transfer for a version the
// caller has learned about (typically from the replicated
// filesystem's agreement layer) but does not yet hold locally.
// Concurrent notifications for the same (key, version) collapse into
// a single registration.
func (e *Engine) CommitHandler(from, key, version string) {
	dedupKey := key + "\x00" + version
	_, err := e.commits.Do(dedupKey, func() (interface{}, error) {
		pendingVersion := version + pendingSuffix
		pk := pendingKey{key, pendingVersion}

		e.mu.Lock()
		_, already := e.pending[pk]
		if !already {
			if !e.store.ExistsVersion(key, pendingVersion) {
				if _, err := e.store.Add(key, pendingVersion); err != nil {
					e.mu.Unlock()
					return nil, errors.Wrap(err, "registering commit")
				}
			}
			e.pending[pk] = newPendingInfo(from, pendingVersion)
		}
		e.mu.Unlock()

		// The send only hands the request to the transport; the matching
		// Response, whenever it arrives, comes back into HandleResponse
		// from wherever the transport actually receives it -- this call
		// must not block waiting for it.
		return nil, e.sender.Send(from, wire.Request{Key: key, Version: version, Offset: 0})
	})
	if err != nil {
		logError(err)
		log.Printf("transfer: failed to register commit of (%s, %s): %v", key, version, err)
	}
}

// Tick drives retry of every in-progress inbound transfer, asking each
// one's source peer for the next unreceived byte range. It never waits
// for a peer to answer: each Send either hands the request to the
// transport or fails immediately, and whatever Response eventually
// comes back reaches HandleResponse on its own, out of band, the same
// way a CommitHandler-triggered request's reply does.
func (e *Engine) Tick() {
	type job struct {
		peer string
		req  wire.Request
	}

	e.mu.Lock()
	jobs := make([]job, 0, len(e.pending))
	for pk, info := range e.pending {
		start := info.Length
		if len(info.Gaps) > 0 {
			start = info.Gaps[0].Start
		}
		trueVersion := pk.Version[:len(pk.Version)-len(pendingSuffix)]
		jobs = append(jobs, job{info.From, wire.Request{Key: pk.Key, Version: trueVersion, Offset: start}})
	}
	e.mu.Unlock()

	for _, j := range jobs {
		if err := e.sender.Send(j.peer, j.req); err != nil {
			log.Printf("transfer: tick request to %s failed: %v", j.peer, err)
		}
	}
}

func logError(err error) {
	raven.CaptureError(err, nil)
}
