// Package fanout re-publishes delivered watch events to websocket
// subscribers.
package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/tonimelisma/kubewatch/internal/watching"
)

// Defaults for NewHub and the websocket handler.
const (
	DefaultBuffer = 256
	pingPeriod    = 30 * time.Second
	writeTimeout  = 10 * time.Second
)

// Message is the JSON document sent to subscribers for each event.
type Message struct {
	Resource string          `json:"resource"`
	Type     string          `json:"type"`
	Object   json.RawMessage `json:"object"`
}

// Subscription receives messages on C until Cancel is called or the hub
// is closed, after which C is closed.
type Subscription struct {
	ID       uuid.UUID
	Resource string
	C        <-chan Message

	ch      chan Message
	hub     *Hub
	dropped atomic.Int64
}

// Dropped reports how many messages were discarded because C was full.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Cancel unsubscribes. It is safe to call more than once.
func (s *Subscription) Cancel() {
	s.hub.remove(s.ID)
}

// Hub broadcasts events to subscribers. Publish never blocks: a
// subscriber whose buffer is full misses the message.
type Hub struct {
	mu     sync.Mutex
	subs   map[uuid.UUID]*Subscription
	closed bool
	buffer int
	logger *slog.Logger
}

// NewHub creates a hub whose subscriptions buffer up to buffer messages.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Hub{
		subs:   make(map[uuid.UUID]*Subscription),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers a subscriber for resource; an empty resource
// receives everything. On a closed hub the returned channel is already
// closed.
func (h *Hub) Subscribe(resource string) *Subscription {
	ch := make(chan Message, h.buffer)
	sub := &Subscription{
		ID:       uuid.New(),
		Resource: resource,
		C:        ch,
		ch:       ch,
		hub:      h,
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(ch)
		return sub
	}

	h.subs[sub.ID] = sub

	h.logger.Debug("fanout: subscribed",
		slog.String("id", sub.ID.String()),
		slog.String("resource", resource),
	)

	return sub
}

func (h *Hub) remove(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subs[id]
	if !ok {
		return
	}

	delete(h.subs, id)
	close(sub.ch)

	h.logger.Debug("fanout: unsubscribed",
		slog.String("id", id.String()),
		slog.Int64("dropped", sub.dropped.Load()),
	)
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subs)
}

// Publish delivers ev to every subscriber interested in resource.
func (h *Hub) Publish(resource string, ev watching.Event) {
	msg := Message{Resource: resource, Type: ev.Type.String(), Object: ev.Object}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs {
		if sub.Resource != "" && sub.Resource != resource {
			continue
		}

		select {
		case sub.ch <- msg:
		default:
			if sub.dropped.Add(1) == 1 {
				h.logger.Warn("fanout: subscriber too slow, dropping messages",
					slog.String("id", sub.ID.String()),
				)
			}
		}
	}
}

// Close ends every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	h.closed = true

	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// ServeHTTP upgrades the request to a websocket and streams messages as
// JSON text frames. The "resource" query parameter narrows the feed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("fanout: websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()

	sub := h.Subscribe(r.URL.Query().Get("resource"))
	defer sub.Cancel()

	// Subscribers never send; CloseRead handles control frames and
	// cancels ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-sub.C:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}

			if err := h.write(ctx, conn, msg); err != nil {
				h.logDisconnect(sub, err)
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pingCtx)
			cancel()

			if err != nil {
				h.logDisconnect(sub, err)
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	return wsjson.Write(ctx, conn, msg)
}

func (h *Hub) logDisconnect(sub *Subscription, err error) {
	if errors.Is(err, context.Canceled) || websocket.CloseStatus(err) != -1 {
		return
	}

	h.logger.Debug("fanout: subscriber gone",
		slog.String("id", sub.ID.String()),
		slog.String("error", err.Error()),
	)
}
