package wire

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	raven "github.com/getsentry/raven-go"
	"github.com/julienschmidt/httprouter"
)

// Handler is the capability the HTTP server needs from the transfer
// engine: turn one Request into one Response.
type Handler interface {
	HandleRequest(peer string, req Request) Response
}

// Server exposes a Handler over HTTP. The wire format is a single
// route, POST /chunk/:peer, with the Request and Response JSON-encoded
// in the body.
type Server struct {
	Handler Handler

	// BytesPerSecond, if non-zero, caps the aggregate rate at which
	// this server hands out chunk data to every peer combined.
	BytesPerSecond float64

	limiterOnce sync.Once
	limiter     *rateLimiter
}

// Routes returns the http.Handler this server answers on.
func (s *Server) Routes() http.Handler {
	r := httprouter.New()
	r.POST("/chunk/:peer", logWrapper(s.chunkHandler))
	return r
}

func (s *Server) chunkHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	resp := s.Handler.HandleRequest(ps.ByName("peer"), req)

	if lim := s.rateLimiter(); lim != nil && len(resp.Data) > 0 {
		lim.wait()
		lim.use(len(resp.Data))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logError(err)
	}
}

func (s *Server) rateLimiter() *rateLimiter {
	if s.BytesPerSecond <= 0 {
		return nil
	}
	s.limiterOnce.Do(func() {
		s.limiter = newRateLimiter(s.BytesPerSecond)
	})
	return s.limiter
}

// logWrapper takes a handler and returns one which does the same
// thing, after first logging the request URL.
func logWrapper(handler httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		log.Println(r.Method, r.URL)
		handler(w, r, ps)
	}
}

func logError(err error) {
	raven.CaptureError(err, nil)
}
