package adminhttp

import "sync"

// Event is one admin-visible occurrence. The server publishes one for each
// rebind or refresh it performs; the approval queue publishes none. The
// admin dashboard (out of scope) renders these as they arrive over the
// /admin/events WebSocket stream.
type Event struct {
	Kind    string `json:"kind"`
	Subject string `json:"subject"`
	Detail  string `json:"detail,omitempty"`
}

// broadcaster fans out Events to every currently-connected subscriber. A
// slow or absent subscriber never blocks publication: each subscriber has
// its own small buffered channel, and a full channel just drops the event
// for that subscriber.
type broadcaster struct {
	mu          sync.Mutex
	subscribers map[chan Event]struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subscribers: make(map[chan Event]struct{})}
}

func (b *broadcaster) subscribe() chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *broadcaster) unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	b.mu.Unlock()
	close(ch)
}

func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}
