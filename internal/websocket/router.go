package websocket

import (
	"sort"
	"sync"
)

// Router maps event names to handlers
type Router struct {
	mu       sync.RWMutex
	handlers map[string]MessageHandler
}

// NewRouter creates an empty router
func NewRouter() *Router {
	return &Router{handlers: make(map[string]MessageHandler)}
}

// On binds h to event, replacing any earlier binding
func (r *Router) On(event string, h MessageHandler) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[event] = h
	return r
}

// Events returns the bound event names in sorted order
func (r *Router) Events() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events := make([]string, 0, len(r.handlers))
	for event := range r.handlers {
		events = append(events, event)
	}
	sort.Strings(events)
	return events
}

func (r *Router) lookup(event string) (MessageHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[event]
	return h, ok
}
