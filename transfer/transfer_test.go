package transfer

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/shisoft/changetx/codec"
	"github.com/shisoft/changetx/consensus"
	"github.com/shisoft/changetx/store"
	"github.com/shisoft/changetx/wire"
)

// fakeSender routes a Send call to another Engine's HandleRequest,
// simulating a peer connection without any real network transport. It
// delivers the resulting Response straight back to handler, the way a
// real wire.Client would do from its own goroutine -- Send itself never
// returns a Response to its caller.
type fakeSender struct {
	peers   map[string]*Engine
	handler wire.ResponseHandler
}

var errNoSuchPeer = errors.New("no such peer")

func (f *fakeSender) Send(peer string, req wire.Request) error {
	e, ok := f.peers[peer]
	if !ok {
		return errNoSuchPeer
	}
	resp := e.HandleRequest("self", req)
	if f.handler == nil {
		return nil
	}
	return f.handler.HandleResponse(peer, resp)
}

func newEngine(t *testing.T, sender wire.Sender) (*Engine, *store.Store) {
	t.Helper()
	s, err := store.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return New(s, sender, consensus.NopNotifier{}), s
}

func putFinalVersion(t *testing.T, s *store.Store, key, version string, content []byte) {
	t.Helper()
	p, err := s.Add(key, version)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, content, 0664); err != nil {
		t.Fatal(err)
	}
}

func TestCommitHandlerInOrderSmallFile(t *testing.T) {
	source, sourceStore := newEngine(t, nil)
	putFinalVersion(t, sourceStore, "a", "v1", []byte("hello, this fits in one chunk"))

	fs := &fakeSender{peers: map[string]*Engine{"node-a": source}}
	dest, _ := newEngine(t, fs)
	fs.handler = dest

	dest.CommitHandler("node-a", "a", "v1")

	path, err := dest.Path("a", "v1")
	if err != nil {
		t.Fatalf("expected (a, v1) to be complete, got %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello, this fits in one chunk" {
		t.Fatalf("unexpected content: %q", got)
	}

	versions, err := dest.Versions("a")
	if err != nil || len(versions) != 1 || versions[0] != "v1" {
		t.Fatalf("Versions(a) = %v, %v", versions, err)
	}
}

func TestCommitHandlerMultiChunkViaTick(t *testing.T) {
	source, sourceStore := newEngine(t, nil)
	content := bytes.Repeat([]byte("x"), 900) // two 450-byte chunks
	putFinalVersion(t, sourceStore, "a", "v1", content)

	fs := &fakeSender{peers: map[string]*Engine{"node-a": source}}
	dest, _ := newEngine(t, fs)
	fs.handler = dest

	dest.CommitHandler("node-a", "a", "v1")
	// The first fetch only gets the first chunk; Tick drives the rest.
	for i := 0; i < 5; i++ {
		if _, err := dest.Path("a", "v1"); err == nil {
			break
		}
		dest.Tick()
	}

	path, err := dest.Path("a", "v1")
	if err != nil {
		t.Fatalf("expected transfer to complete, got %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("content mismatch: got %d bytes, want %d", len(got), len(content))
	}
}

func TestHandleResponseOutOfOrderOpensAndClosesGap(t *testing.T) {
	dest, _ := newEngine(t, &fakeSender{})

	// Second chunk arrives before the first: this opens a gap
	// covering [0, 450).
	if err := dest.HandleResponse("node-a", wire.Response{
		Code: wire.EOF, Key: "a", Version: "v1", Offset: 450, Length: 450,
		Data: codec.Encode(bytes.Repeat([]byte("y"), 450)),
	}); err != nil {
		t.Fatal(err)
	}

	pk := pendingKey{"a", "v1.pending"}
	info := dest.pending[pk]
	if info == nil {
		t.Fatal("expected a pending entry after partial transfer")
	}
	if len(info.Gaps) != 1 || info.Gaps[0].Start != 0 || info.Gaps[0].Length != 450 {
		t.Fatalf("expected one gap [0,450), got %+v", info.Gaps)
	}
	if _, err := dest.Path("a", "v1"); err != ErrInProgress {
		t.Fatalf("expected ErrInProgress while gap remains, got %v", err)
	}

	// First chunk arrives, exactly at the gap's start: this should
	// close the gap and, since EOF was already seen, promote to final.
	if err := dest.HandleResponse("node-a", wire.Response{
		Code: wire.OK, Key: "a", Version: "v1", Offset: 0, Length: 450,
		Data: codec.Encode(bytes.Repeat([]byte("z"), 450)),
	}); err != nil {
		t.Fatal(err)
	}

	if _, ok := dest.pending[pk]; ok {
		t.Fatal("expected pending entry to be cleared once the gap closed")
	}
	path, err := dest.Path("a", "v1")
	if err != nil {
		t.Fatalf("expected transfer to complete, got %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := append(bytes.Repeat([]byte("z"), 450), bytes.Repeat([]byte("y"), 450)...)
	if !bytes.Equal(got, want) {
		t.Fatalf("content mismatch after gap closed")
	}
}

func TestHandleResponseDuplicateChunkIsHarmless(t *testing.T) {
	dest, _ := newEngine(t, &fakeSender{})

	chunk := codec.Encode([]byte("hello"))
	resp := wire.Response{Code: wire.EOF, Key: "a", Version: "v1", Offset: 0, Length: 5, Data: chunk}

	if err := dest.HandleResponse("node-a", resp); err != nil {
		t.Fatal(err)
	}
	if _, err := dest.Path("a", "v1"); err != nil {
		t.Fatalf("expected transfer to have completed: %v", err)
	}

	// A resend of the very same chunk after completion must not error
	// or resurrect a pending entry.
	if err := dest.HandleResponse("node-a", resp); err != nil {
		t.Fatal(err)
	}
	if _, ok := dest.pending[pendingKey{"a", "v1.pending"}]; ok {
		t.Fatal("duplicate delivery should not re-create a pending entry")
	}
}

func TestHandleResponseNegativeAckAbandonsTransfer(t *testing.T) {
	dest, destStore := newEngine(t, &fakeSender{})

	if err := dest.HandleResponse("node-a", wire.Response{
		Code: wire.OK, Key: "a", Version: "v1", Offset: 0,
		Data: codec.Encode([]byte("partial")),
	}); err != nil {
		t.Fatal(err)
	}
	if !destStore.ExistsVersion("a", "v1.pending") {
		t.Fatal("expected a pending file to exist before the negative ack")
	}

	if err := dest.HandleResponse("node-a", wire.Response{
		Code: wire.NoVersion, Key: "a", Version: "v1",
	}); err != nil {
		t.Fatal(err)
	}

	if _, ok := dest.pending[pendingKey{"a", "v1.pending"}]; ok {
		t.Fatal("expected pending entry to be removed after no_version")
	}
	if destStore.ExistsVersion("a", "v1.pending") {
		t.Fatal("expected pending file to be removed after no_version")
	}
}

func TestScratchRoundTrip(t *testing.T) {
	e, _ := newEngine(t, &fakeSender{})

	sf, err := e.Open("a")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sf.Write([]byte("new content")); err != nil {
		t.Fatal(err)
	}
	version, err := e.Close("a", sf)
	if err != nil {
		t.Fatal(err)
	}
	if len(version) != 40 {
		t.Fatalf("expected a 40-character sha1 hex digest, got %q", version)
	}

	path, err := e.Path("a", version)
	if err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "new content" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestRenameScratchToNewKey(t *testing.T) {
	e, _ := newEngine(t, &fakeSender{})

	sf, err := e.Open("a")
	if err != nil {
		t.Fatal(err)
	}
	sf.Write([]byte("moved content"))

	version, err := e.RenameScratch("b", sf)
	if err != nil {
		t.Fatal(err)
	}
	if e.Exists("a") {
		t.Fatal("expected original key to have no content left behind")
	}
	if !e.Exists("b") {
		t.Fatal("expected the new key to hold the renamed scratch")
	}
	path, err := e.Path("b", version)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "moved content" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestRenameScratchToExistingKeyFails(t *testing.T) {
	e, s := newEngine(t, &fakeSender{})
	putFinalVersion(t, s, "b", "already-here", []byte("x"))

	sf, err := e.Open("a")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.RenameScratch("b", sf); err != ErrKeyExists {
		t.Fatalf("expected ErrKeyExists, got %v", err)
	}
}

func TestKillScratchDiscardsContent(t *testing.T) {
	e, _ := newEngine(t, &fakeSender{})

	sf, err := e.Open("a")
	if err != nil {
		t.Fatal(err)
	}
	if err := e.KillScratch(sf); err != nil {
		t.Fatal(err)
	}
	scratches, err := e.Scratches("a")
	if err != nil {
		t.Fatal(err)
	}
	if len(scratches) != 0 {
		t.Fatalf("expected no scratches left, got %v", scratches)
	}
}
