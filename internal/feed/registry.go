package feed

import (
	"sync"
)

// handlerRegistry maps message type tags to handler callbacks.
// At most one handler holds each tag; registering again replaces it.
type handlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func newHandlerRegistry() *handlerRegistry {
	return &handlerRegistry{
		handlers: make(map[string]HandlerFunc),
	}
}

// set installs fn for msgType, replacing any prior handler.
func (r *handlerRegistry) set(msgType string, fn HandlerFunc) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.handlers[msgType] = fn
	r.mu.Unlock()
}

// remove drops the handler for msgType. Unknown tags are a no-op.
// A dispatch already holding the handler still completes.
func (r *handlerRegistry) remove(msgType string) {
	r.mu.Lock()
	delete(r.handlers, msgType)
	r.mu.Unlock()
}

// lookup returns the handler registered for msgType.
func (r *handlerRegistry) lookup(msgType string) (HandlerFunc, bool) {
	r.mu.RLock()
	fn, ok := r.handlers[msgType]
	r.mu.RUnlock()
	return fn, ok
}

// clear removes every handler.
func (r *handlerRegistry) clear() {
	r.mu.Lock()
	r.handlers = make(map[string]HandlerFunc)
	r.mu.Unlock()
}

// size returns the number of registered handlers.
func (r *handlerRegistry) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}
