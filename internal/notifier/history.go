package notifier

import "sync"

const historyCap = 300

// history keeps the newest max delivered messages.
type history struct {
	mu    sync.Mutex
	max   int
	items []HistoryItem
}

func (h *history) add(it HistoryItem) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = append(h.items, it)
	if over := len(h.items) - h.max; over > 0 {
		h.items = append(h.items[:0:0], h.items[over:]...)
	}
}

func (h *history) list() []HistoryItem {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]HistoryItem(nil), h.items...)
}
