package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/antonholmquist/jason"
)

// Exported errors
var (
	ErrNoSuchPeer  = errors.New("no such peer")
	ErrServerError = errors.New("server error")
)

// Client is a Sender that carries Requests to peers over HTTP. A
// Request is handed off to its own goroutine and Send returns as soon
// as the peer is resolved; the matching Response, once it arrives, is
// delivered to Handler rather than returned to the caller of Send. The
// zero value is not usable; build one with NewClient.
type Client struct {
	// PeerURL resolves a peer name to the base URL of its wire.Server.
	PeerURL map[string]string

	// Handler receives every Response this Client's sends eventually
	// collect. It may be set after NewClient, before the first Send.
	Handler ResponseHandler

	client *http.Client
}

// NewClient returns a Client dialing the given peer base URLs and
// delivering responses to handler.
func NewClient(peers map[string]string, handler ResponseHandler) *Client {
	return &Client{
		PeerURL: peers,
		Handler: handler,
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

// Send implements Sender. It only validates that peer is known; the
// HTTP round trip and the resulting call to Handler.HandleResponse
// happen on a goroutine after Send has already returned.
func (c *Client) Send(peer string, req Request) error {
	base, ok := c.PeerURL[peer]
	if !ok {
		return ErrNoSuchPeer
	}
	go c.deliver(peer, base, req)
	return nil
}

// deliver performs the actual HTTP round trip for a Send and feeds the
// result back into c.Handler. It runs on its own goroutine so that no
// caller of Send ever blocks on a peer's reply.
func (c *Client) deliver(peer, base string, req Request) {
	resp, err := c.roundTrip(peer, base, req)
	if err != nil {
		log.Printf("wire: send to %s failed: %v", peer, err)
		return
	}
	c.logIfNotOK(peer, resp)
	if c.Handler == nil {
		return
	}
	if err := c.Handler.HandleResponse(peer, resp); err != nil {
		logError(err)
	}
}

func (c *Client) roundTrip(peer, base string, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, err
	}

	httpReq, err := http.NewRequest("POST", base+"/chunk/"+peer, bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("%w: status %d from %s", ErrServerError, resp.StatusCode, peer)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, err
	}
	return out, nil
}

// logIfNotOK inspects a Response ad hoc, the way bclientapi pulls a
// single field out of an unfamiliar server reply without a matching Go
// struct, and logs a peer's negative answer for operator visibility.
func (c *Client) logIfNotOK(peer string, resp Response) {
	obj, err := Inspect(resp)
	if err != nil {
		return
	}
	code, err := obj.GetString("code")
	if err != nil || code == string(OK) {
		return
	}
	log.Printf("wire: %s answered %s for (%s, %s)", peer, code, resp.Key, resp.Version)
}

// Inspect re-reads an already-decoded value as a jason.Object, for
// callers that want ad hoc field access without a matching Go struct --
// the same idiom bclientapi uses for exploring unfamiliar server
// responses.
func Inspect(v interface{}) (*jason.Object, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jason.NewObjectFromBytes(body)
}
