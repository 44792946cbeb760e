package broadcast

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// sessionBuffer is how many undelivered notices a session may hold before
// further notices to it are dropped. Dropping is fine: any single surviving
// notice triggers the same full reload.
const sessionBuffer = 16

// =============================================================================
// HUB - In-process fan-out between sessions
// =============================================================================

// Hub connects sessions over a shared channel. It is the in-process stand-in
// for a browser BroadcastChannel: publish on one session, every other
// attached session hears it.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewHub() *Hub {
	return &Hub{sessions: make(map[string]*Session)}
}

// Attach creates a new session with a random origin id and starts its
// delivery loop. Callers must Close the session when done.
func (h *Hub) Attach() *Session {
	s := &Session{
		id:       uuid.New().String(),
		hub:      h,
		registry: NewRegistry(),
		inbox:    make(chan Message, sessionBuffer),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()

	go s.deliver()
	return s
}

// publish fans msg out to every session except its origin. Sends are
// non-blocking: a full inbox drops the notice (best-effort delivery).
func (h *Hub) publish(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, s := range h.sessions {
		if id == msg.Origin {
			continue
		}
		select {
		case s.inbox <- msg:
		default:
		}
	}
}

func (h *Hub) detach(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
}

// =============================================================================
// SESSION
// =============================================================================

// Session is one attached participant: it publishes notices stamped with its
// origin id and dispatches received notices to its listener registry.
type Session struct {
	id       string
	hub      *Hub
	registry *Registry
	inbox    chan Message
	done     chan struct{}
	once     sync.Once
}

// ID returns the session's random origin id.
func (s *Session) ID() string { return s.id }

// On registers a listener for an exact type or Wildcard.
func (s *Session) On(t Type, fn ListenerFunc) int {
	return s.registry.Subscribe(t, fn)
}

// Off removes a listener registered with On.
func (s *Session) Off(id int) {
	s.registry.Unsubscribe(id)
}

// Publish broadcasts a change notice to every other session. Fire-and-forget:
// delivery failures are invisible to the sender.
func (s *Session) Publish(t Type, payload map[string]any) {
	s.hub.publish(Message{
		Type:      t,
		Timestamp: time.Now(),
		Origin:    s.id,
		Payload:   payload,
	})
}

// Close detaches the session and drops its listeners. Idempotent.
func (s *Session) Close() {
	s.once.Do(func() {
		s.hub.detach(s.id)
		close(s.done)
		s.registry.Close()
	})
}

func (s *Session) deliver() {
	for {
		select {
		case msg := <-s.inbox:
			s.registry.Dispatch(msg)
		case <-s.done:
			return
		}
	}
}
