package services

import (
	"sync"
	"time"

	"github.com/lyallcooper/cvsubmit/internal/types"
)

// finishedRetention is how long a finished session's last state can still be replayed
const finishedRetention = 10 * time.Minute

// stream holds the subscribers and replay state of one session
type stream struct {
	subs       []chan types.Event
	progress   *types.Event
	submit     *types.Event
	navigate   *types.Event
	done       bool
	finishedAt time.Time
}

// replay returns the events a late subscriber needs to catch up
func (st *stream) replay() []types.Event {
	var events []types.Event
	for _, ev := range []*types.Event{st.progress, st.navigate, st.submit} {
		if ev != nil {
			events = append(events, *ev)
		}
	}
	return events
}

// hub fans session events out to subscribers. Sends never block; a slow
// subscriber misses intermediate updates.
type hub struct {
	mu      sync.Mutex
	streams map[string]*stream
}

func newHub() *hub {
	return &hub{streams: make(map[string]*stream)}
}

func (h *hub) open(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.streams[sessionID] = &stream{}
}

func (h *hub) publish(sessionID string, ev types.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.streams[sessionID]
	if !ok || st.done {
		return
	}

	saved := ev
	switch ev.Kind {
	case types.EventProgress:
		st.progress = &saved
	case types.EventSubmit:
		st.submit = &saved
	case types.EventNavigate:
		st.navigate = &saved
	}

	for _, ch := range st.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// finish closes all subscribers and keeps the final state for replay
func (h *hub) finish(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	for id, st := range h.streams {
		if st.done && now.Sub(st.finishedAt) > finishedRetention {
			delete(h.streams, id)
		}
	}

	st, ok := h.streams[sessionID]
	if !ok {
		return
	}
	for _, ch := range st.subs {
		close(ch)
	}
	st.subs = nil
	st.done = true
	st.finishedAt = now
}

// Subscribe returns a channel of events for a session, starting with the
// latest known state. The channel is closed when the session finishes; for
// finished or unknown sessions it is returned already closed.
func (h *hub) Subscribe(sessionID string) <-chan types.Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan types.Event, 32)

	st, ok := h.streams[sessionID]
	if !ok {
		close(ch)
		return ch
	}

	for _, ev := range st.replay() {
		ch <- ev
	}
	if st.done {
		close(ch)
		return ch
	}

	st.subs = append(st.subs, ch)
	return ch
}

// Unsubscribe removes a subscriber and closes its channel
func (h *hub) Unsubscribe(sessionID string, ch <-chan types.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.streams[sessionID]
	if !ok {
		return
	}
	for i, sub := range st.subs {
		if sub == ch {
			st.subs = append(st.subs[:i], st.subs[i+1:]...)
			close(sub)
			return
		}
	}
}
