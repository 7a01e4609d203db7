package inproc

import (
	"sync"
)

// Hub fans out "task changed" signals to every subscriber of a task.
// Signals coalesce: a subscriber that has not drained its channel yet
// receives at most one pending wake-up.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[int]chan struct{}
	nextID int
}

func New() *Hub {
	return &Hub{
		subs: make(map[string]map[int]chan struct{}),
	}
}

// Subscribe registers interest in taskID. The returned cancel func must be
// called once the subscriber is done; it closes the channel.
func (h *Hub) Subscribe(taskID string) (<-chan struct{}, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan struct{}, 1)
	byTask, ok := h.subs[taskID]
	if !ok {
		byTask = make(map[int]chan struct{})
		h.subs[taskID] = byTask
	}
	byTask[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.unsubscribe(taskID, id)
		})
	}
}

func (h *Hub) unsubscribe(taskID string, id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	byTask, ok := h.subs[taskID]
	if !ok {
		return
	}
	ch, ok := byTask[id]
	if !ok {
		return
	}
	delete(byTask, id)
	close(ch)
	if len(byTask) == 0 {
		delete(h.subs, taskID)
	}
}

// Publish wakes every subscriber of taskID without blocking.
func (h *Hub) Publish(taskID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs[taskID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribers returns the number of live subscriptions for taskID.
func (h *Hub) Subscribers(taskID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[taskID])
}
