package backend

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// StatusEvent is a server-initiated state change pushed over the optional
// event channel. Events are a lower-latency substitute for polling; the
// worker state machine and retry semantics are identical either way.
type StatusEvent struct {
	RemoteHandle string `json:"remoteHandle"`
	State        State  `json:"state"`
	Reason       string `json:"reason,omitempty"`
}

// EventStream consumes push events from the backend's /events websocket and
// fans them out to per-handle subscribers.
//
// The stream is best-effort: if the socket drops, subscribers simply stop
// receiving events and callers fall back to timer-driven polling. Subscribe
// channels are buffered and never block the read loop; an event for a
// saturated subscriber is dropped (the next poll picks the state up).
type EventStream struct {
	conn *websocket.Conn

	mu     sync.Mutex
	subs   map[string]chan StatusEvent
	closed bool
}

// DialEvents connects to the backend's push channel. The endpoint is the
// same base URL used by the Client; the scheme is rewritten for websocket.
//
// Returns a TransportError (retryable) if the backend does not expose the
// channel; callers should treat that as "polling only", not a failure.
func DialEvents(ctx context.Context, endpoint string) (*EventStream, error) {
	u, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil {
		return nil, &TransportError{Op: "events", Retryable: false, Err: err}
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path += "/events"

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, &TransportError{Op: "events", StatusCode: status, Retryable: true, Err: err}
	}

	es := &EventStream{
		conn: conn,
		subs: make(map[string]chan StatusEvent),
	}
	go es.readLoop()
	return es, nil
}

// Subscribe returns a channel delivering events for one remote handle.
// The channel is closed when the stream shuts down.
func (es *EventStream) Subscribe(handle string) <-chan StatusEvent {
	es.mu.Lock()
	defer es.mu.Unlock()

	ch := make(chan StatusEvent, 8)
	if es.closed {
		close(ch)
		return ch
	}
	es.subs[handle] = ch
	return ch
}

// Unsubscribe removes the subscription for a handle. Safe to call after
// the stream has closed.
func (es *EventStream) Unsubscribe(handle string) {
	es.mu.Lock()
	defer es.mu.Unlock()

	if ch, ok := es.subs[handle]; ok {
		delete(es.subs, handle)
		close(ch)
	}
}

// Close tears down the socket and closes all subscriber channels.
func (es *EventStream) Close() error {
	es.mu.Lock()
	if es.closed {
		es.mu.Unlock()
		return nil
	}
	es.closed = true
	for h, ch := range es.subs {
		delete(es.subs, h)
		close(ch)
	}
	es.mu.Unlock()

	return es.conn.Close()
}

// readLoop pumps events from the socket until it fails or Close is called.
func (es *EventStream) readLoop() {
	defer func() { _ = es.Close() }()

	for {
		var ev StatusEvent
		if err := es.conn.ReadJSON(&ev); err != nil {
			return
		}
		if ev.RemoteHandle == "" {
			continue
		}

		es.mu.Lock()
		ch, ok := es.subs[ev.RemoteHandle]
		if ok {
			select {
			case ch <- ev:
			default:
				// Subscriber is saturated; drop and let polling catch up.
			}
		}
		es.mu.Unlock()
	}
}
