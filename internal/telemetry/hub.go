package telemetry

import (
	"sync"
	"time"
)

// Update is one hub message: a typed telemetry record ready for JSON
// encoding on a websocket.
type Update struct {
	Type    string      `json:"type"`
	Data    interface{} `json:"data"`
	TimeUTC string      `json:"time_utc"`
}

// Hub fans out telemetry updates to any listeners (websocket clients).
// It keeps the most recent update per type so new subscribers get an
// immediate picture without waiting for the next frame. Slow subscribers
// lose updates rather than stalling the publisher.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]chan Update
	nextID int
	last   map[string]Update
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[int]chan Update),
		last: make(map[string]Update),
	}
}

func (h *Hub) Subscribe(buffer int) (int, <-chan Update) {
	if h == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Update, buffer)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	replay := make([]Update, 0, len(h.last))
	for _, u := range h.last {
		replay = append(replay, u)
	}
	h.mu.Unlock()
	for _, u := range replay {
		select {
		case ch <- u:
		default:
		}
	}
	return id, ch
}

func (h *Hub) Unsubscribe(id int) {
	if h == nil {
		return
	}
	h.mu.Lock()
	ch, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
		close(ch)
	}
	h.mu.Unlock()
}

func (h *Hub) Publish(typ string, data interface{}) {
	if h == nil {
		return
	}
	u := Update{Type: typ, Data: data, TimeUTC: time.Now().UTC().Format(time.RFC3339Nano)}

	// Sends stay under the read lock: they never block, and Unsubscribe
	// holds the write lock while closing, so a send cannot race a close.
	h.mu.RLock()
	for _, ch := range h.subs {
		select {
		case ch <- u:
		default:
		}
	}
	h.mu.RUnlock()

	h.mu.Lock()
	h.last[typ] = u
	h.mu.Unlock()
}

// Subscribers reports the current listener count.
func (h *Hub) Subscribers() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
