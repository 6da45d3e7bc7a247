package pointer

import (
	"context"
	"sync"
)

// Hub fans pointer values out to watchers. Each watcher holds at most one
// pending value; a newer value replaces an unread one.
type Hub struct {
	mu   sync.Mutex
	subs map[chan int64]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan int64]struct{})}
}

// Subscribe registers a watcher and seeds it with the value returned by
// current. Registration happens before current is called so no write
// between the two is lost.
func (h *Hub) Subscribe(ctx context.Context, current func() (int64, error)) (<-chan int64, error) {
	ch := make(chan int64, 1)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	v, err := current()
	if err != nil {
		h.remove(ch)
		return nil, err
	}

	h.mu.Lock()
	if _, ok := h.subs[ch]; ok && len(ch) == 0 {
		ch <- v
	}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.remove(ch)
	}()
	return ch, nil
}

// Publish delivers v to every watcher without blocking.
func (h *Hub) Publish(v int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- v
		}
	}
}

// Len reports the number of live watchers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) remove(ch chan int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}
