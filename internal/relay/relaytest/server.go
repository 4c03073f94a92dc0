// Package relaytest runs an in-process relay for tests.
package relaytest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrSnakeDoc/marksync/internal/nostr"
)

// Server is a minimal relay keeping every accepted event in memory.
type Server struct {
	srv *httptest.Server

	mu       sync.Mutex
	events   []*nostr.Event
	reject   string
	delay    time.Duration
	received int
}

// New starts a relay. Close it with Close.
func New() *Server {
	s := &Server{}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL is the ws:// address of the relay.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *Server) Close() { s.srv.Close() }

// RejectWith makes the relay answer OK false with reason. Empty accepts.
func (s *Server) RejectWith(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = reason
}

// Delay holds every reply for d.
func (s *Server) Delay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Add stores events as if they had been published.
func (s *Server) Add(events ...*nostr.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
}

// Events returns a copy of the stored events.
func (s *Server) Events() []*nostr.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events)
}

// Received counts EVENT messages, accepted or not.
func (s *Server) Received() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
	conn.SetReadLimit(4 << 20)
	ctx := r.Context()

	for {
		var msg []json.RawMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return
		}
		if len(msg) < 2 {
			continue
		}
		var label string
		_ = json.Unmarshal(msg[0], &label)

		s.mu.Lock()
		delay := s.delay
		s.mu.Unlock()
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}

		switch label {
		case "REQ":
			var subID string
			_ = json.Unmarshal(msg[1], &subID)
			var f nostr.Filter
			if len(msg) > 2 {
				_ = json.Unmarshal(msg[2], &f)
			}
			for _, ev := range s.match(f) {
				if err := wsjson.Write(ctx, conn, []any{"EVENT", subID, ev}); err != nil {
					return
				}
			}
			if err := wsjson.Write(ctx, conn, []any{"EOSE", subID}); err != nil {
				return
			}
		case "EVENT":
			var ev nostr.Event
			if err := json.Unmarshal(msg[1], &ev); err != nil {
				continue
			}
			ok, reason := s.accept(&ev)
			if err := wsjson.Write(ctx, conn, []any{"OK", ev.ID, ok, reason}); err != nil {
				return
			}
		}
	}
}

func (s *Server) accept(ev *nostr.Event) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received++
	if s.reject != "" {
		return false, s.reject
	}
	if err := nostr.Verify(ev); err != nil {
		return false, "invalid: " + err.Error()
	}
	s.events = append(s.events, ev)
	return true, ""
}

func (s *Server) match(f nostr.Filter) []*nostr.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*nostr.Event
	for i := len(s.events) - 1; i >= 0; i-- {
		ev := s.events[i]
		if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, ev.Kind) {
			continue
		}
		if len(f.Authors) > 0 && !slices.Contains(f.Authors, ev.PubKey) {
			continue
		}
		if len(f.D) > 0 && !slices.Contains(f.D, ev.TagValue("d")) {
			continue
		}
		out = append(out, ev)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// Shutdown is a helper for tests that need the relay gone mid-test.
func (s *Server) Shutdown(ctx context.Context) {
	s.srv.CloseClientConnections()
	s.srv.Close()
	<-ctx.Done()
}
