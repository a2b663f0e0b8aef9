package quizclient

import (
	"sync"

	"github.com/quizline/quizline-backend/internal/ws"
)

// Event is a server-to-client frame delivered to subscribers.
type Event struct {
	Name    ws.Event
	Payload []byte
}

// Subscription receives events until Unsubscribe is called. The
// channel is bounded; a subscriber that stops draining loses frames
// rather than wedging the read loop.
type Subscription struct {
	C chan Event

	once sync.Once
	hub  *eventHub
	id   int
	name ws.Event
}

// Unsubscribe detaches the subscription and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() { s.hub.remove(s) })
}

// eventHub fans inbound frames out to per-event subscribers.
type eventHub struct {
	mu     sync.Mutex
	nextID int
	subs   map[ws.Event]map[int]*Subscription
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[ws.Event]map[int]*Subscription)}
}

// eventAny subscribes to every event.
const eventAny ws.Event = "*"

func (h *eventHub) subscribe(name ws.Event) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	sub := &Subscription{
		C:    make(chan Event, 32),
		hub:  h,
		id:   h.nextID,
		name: name,
	}
	if h.subs[name] == nil {
		h.subs[name] = make(map[int]*Subscription)
	}
	h.subs[name][sub.id] = sub
	return sub
}

func (h *eventHub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m := h.subs[s.name]; m != nil {
		delete(m, s.id)
	}
	close(s.C)
}

func (h *eventHub) dispatch(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, name := range []ws.Event{ev.Name, eventAny} {
		for _, sub := range h.subs[name] {
			select {
			case sub.C <- ev:
			default:
			}
		}
	}
}

func (h *eventHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range h.subs {
		for id, sub := range m {
			close(sub.C)
			delete(m, id)
		}
	}
}
