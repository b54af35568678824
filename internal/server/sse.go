package server

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/rendis/nodeflow/internal/streaming"
)

// handleSSEGlobal streams all events to the client via Server-Sent Events.
func (s *Server) handleSSEGlobal(w http.ResponseWriter, r *http.Request) {
	s.serveSSE(w, r, streaming.EventFilter{Kinds: kindsParam(r)})
}

// handleSSEWorkflow streams events for a specific workflow.
func (s *Server) handleSSEWorkflow(w http.ResponseWriter, r *http.Request) {
	s.serveSSE(w, r, streaming.EventFilter{WorkflowID: r.PathValue("id"), Kinds: kindsParam(r)})
}

// handleSSERun streams events for a single run.
func (s *Server) handleSSERun(w http.ResponseWriter, r *http.Request) {
	s.serveSSE(w, r, streaming.EventFilter{SessionID: r.PathValue("session"), Kinds: kindsParam(r)})
}

func kindsParam(r *http.Request) []string {
	raw := r.URL.Query().Get("kinds")
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

// serveSSE relays hub events matching filter until the client leaves.
func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, filter streaming.EventFilter) {
	if s.deps.Hub == nil {
		writeMessage(w, http.StatusServiceUnavailable, "event hub not configured")
		return
	}
	out, ok := newSSEWriter(w)
	if !ok {
		writeMessage(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch, cancel, err := s.deps.Hub.Subscribe(r.Context(), filter)
	if err != nil {
		s.deps.Logger.Error("SSE subscribe failed", "error", err)
		writeMessage(w, http.StatusInternalServerError, "subscribe failed")
		return
	}
	defer cancel()
	out.open()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := out.deliver(r.Context(), event); err != nil {
				return
			}
		}
	}
}

// sseWriter writes SSE frames to one response. Safe for concurrent use.
type sseWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	opened  bool
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &sseWriter{w: w, flusher: flusher}, true
}

// open sends the stream headers. Idempotent.
func (s *sseWriter) open() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openLocked()
}

func (s *sseWriter) openLocked() {
	if s.opened {
		return
	}
	s.opened = true
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()
}

// deliver is a streaming.DeliverFunc writing ev as one frame.
func (s *sseWriter) deliver(_ context.Context, ev streaming.StreamEvent) error {
	frame, err := streaming.EncodeSSE(ev)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openLocked()
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
