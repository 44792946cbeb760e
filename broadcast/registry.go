package broadcast

import "sync"

// =============================================================================
// REGISTRY - Listener map with an explicit lifecycle
// =============================================================================

// ListenerFunc handles one delivered message.
type ListenerFunc func(Message)

// Registry maps message types to listener sets. It is an explicit object
// with a construct/dispose lifecycle rather than package-global state:
// construct it at session startup, Close it at teardown, and dangling
// listeners go with it.
type Registry struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[Type]map[int]ListenerFunc
	closed    bool
}

func NewRegistry() *Registry {
	return &Registry{listeners: make(map[Type]map[int]ListenerFunc)}
}

// Subscribe registers fn for an exact type, or for every type with Wildcard.
// The returned id unsubscribes.
func (r *Registry) Subscribe(t Type, fn ListenerFunc) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0
	}

	r.nextID++
	id := r.nextID
	set, ok := r.listeners[t]
	if !ok {
		set = make(map[int]ListenerFunc)
		r.listeners[t] = set
	}
	set[id] = fn
	return id
}

// Unsubscribe removes a listener by id. Unknown ids are ignored.
func (r *Registry) Unsubscribe(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, set := range r.listeners {
		delete(set, id)
	}
}

// Dispatch delivers msg to exact-type listeners and wildcard listeners.
// Listeners run synchronously on the caller's goroutine.
func (r *Registry) Dispatch(msg Message) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return
	}
	var fns []ListenerFunc
	for _, fn := range r.listeners[msg.Type] {
		fns = append(fns, fn)
	}
	for _, fn := range r.listeners[Wildcard] {
		fns = append(fns, fn)
	}
	r.mu.RUnlock()

	for _, fn := range fns {
		fn(msg)
	}
}

// Close drops every listener. Subsequent Subscribe and Dispatch calls are
// no-ops.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.listeners = make(map[Type]map[int]ListenerFunc)
}
