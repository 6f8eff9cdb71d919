package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/ophirlabs/ophir/internal/optimizer"
)

// progressEvent is one message on the progress stream.
type progressEvent struct {
	Type  string          `json:"type"` // "progress", "done", "error"
	Phase optimizer.Phase `json:"phase,omitempty"`
	Done  int             `json:"done,omitempty"`
	Total int             `json:"total,omitempty"`
	RunID string          `json:"run_id,omitempty"`
	Error string          `json:"error,omitempty"`
}

// progressHub fans optimizer progress events out to websocket subscribers.
type progressHub struct {
	mu   sync.Mutex
	subs map[*websocket.Conn]struct{}
	log  zerolog.Logger
}

func newProgressHub(logger zerolog.Logger) *progressHub {
	return &progressHub{
		subs: make(map[*websocket.Conn]struct{}),
		log:  logger.With().Str("component", "progress_hub").Logger(),
	}
}

func (h *progressHub) add(c *websocket.Conn) {
	h.mu.Lock()
	h.subs[c] = struct{}{}
	h.mu.Unlock()
}

func (h *progressHub) remove(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.subs, c)
	h.mu.Unlock()
}

func (h *progressHub) broadcastProgress(phase optimizer.Phase, done, total int) {
	h.broadcast(progressEvent{Type: "progress", Phase: phase, Done: done, Total: total})
}

func (h *progressHub) broadcastDone(runID string) {
	h.broadcast(progressEvent{Type: "done", RunID: runID})
}

func (h *progressHub) broadcastError(err error) {
	h.broadcast(progressEvent{Type: "error", Error: err.Error()})
}

// broadcast sends to every subscriber; slow or broken connections are
// dropped rather than blocking the optimizer.
func (h *progressHub) broadcast(ev progressEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.subs))
	for c := range h.subs {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := c.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			h.remove(c)
			_ = c.Close(websocket.StatusNormalClosure, "write failed")
		}
	}
}

// handleProgress upgrades the connection and streams events until the client
// disconnects.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}
	s.hub.add(c)
	defer func() {
		s.hub.remove(c)
		_ = c.Close(websocket.StatusNormalClosure, "")
	}()

	// Reads are discarded; the loop exits when the client goes away.
	for {
		if _, _, err := c.Read(r.Context()); err != nil {
			return
		}
	}
}
