package main

import (
	"sync"
	"time"
)

// refreshErrorHistoryLen is how many failed global refreshes are kept.
const refreshErrorHistoryLen = 16

// RefreshError is one failed global refresh as reported in /status.
type RefreshError struct {
	At      string `json:"at"`
	Message string `json:"message"`
}

type refreshErrorEvent struct {
	at  time.Time
	msg string
}

// refreshErrorHistory is a fixed-size ring of recent refresh failures.
type refreshErrorHistory struct {
	mu     sync.Mutex
	events [refreshErrorHistoryLen]refreshErrorEvent
	next   int
	count  int
}

func (h *refreshErrorHistory) record(at time.Time, err error) {
	if err == nil {
		return
	}
	h.mu.Lock()
	h.events[h.next] = refreshErrorEvent{at: at, msg: err.Error()}
	h.next = (h.next + 1) % refreshErrorHistoryLen
	if h.count < refreshErrorHistoryLen {
		h.count++
	}
	h.mu.Unlock()
}

// recent returns failures newer than maxAge, newest first. A zero maxAge
// keeps everything still in the ring.
func (h *refreshErrorHistory) recent(now time.Time, maxAge time.Duration) []RefreshError {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return nil
	}
	out := make([]RefreshError, 0, h.count)
	for i := 0; i < h.count; i++ {
		idx := (h.next - 1 - i + refreshErrorHistoryLen) % refreshErrorHistoryLen
		ev := h.events[idx]
		if ev.at.IsZero() {
			continue
		}
		if maxAge > 0 && now.Sub(ev.at) > maxAge {
			continue
		}
		out = append(out, RefreshError{
			At:      ev.at.UTC().Format(time.RFC3339),
			Message: ev.msg,
		})
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
