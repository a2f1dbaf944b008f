package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"plantdash/internal/broadcast"
)

const (
	clientBuffer      = 64
	heartbeatInterval = 30 * time.Second
)

type event struct {
	Type string
	Data []byte
}

type client struct {
	id     string
	user   string
	events chan event
}

// hub fans bus messages out to connected event-stream clients. Slow clients
// miss events instead of blocking the bus.
type hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	stop    func()
	log     *zap.Logger
}

func newHub(bus *broadcast.Bus, log *zap.Logger) *hub {
	h := &hub{clients: make(map[string]*client), log: log}
	h.stop = bus.Watch(h.relay)
	return h
}

func (h *hub) relay(msg broadcast.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Warn("encode event", zap.Error(err))
		return
	}
	h.broadcast(event{Type: string(msg.Type), Data: data})
}

func (h *hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
	h.log.Debug("client registered", zap.String("client", c.id), zap.String("user", c.user), zap.Int("total", len(h.clients)))
}

func (h *hub) unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[id]; ok {
		close(c.events)
		delete(h.clients, id)
		h.log.Debug("client unregistered", zap.String("client", id), zap.Int("total", len(h.clients)))
	}
}

func (h *hub) broadcast(e event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.events <- e:
		default:
			h.log.Warn("client buffer full, dropping event", zap.String("client", c.id), zap.String("event", e.Type))
		}
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// close detaches from the bus and ends every open stream.
func (h *hub) close() {
	h.stop()
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		close(c.events)
		delete(h.clients, id)
	}
}

func (h *hub) serve(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", "streaming unsupported", nil))
		return
	}
	c := &client{
		id:     uuid.NewString(),
		user:   userFromContext(r.Context()),
		events: make(chan event, clientBuffer),
	}
	h.register(c)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "event: connected\ndata: {\"client_id\":%q}\n\n", c.id)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.unregister(c.id)
			return
		case e, ok := <-c.events:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, e.Data)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
