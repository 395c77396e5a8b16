package client

import (
	"reflect"
	"sync"
)

// Handler receives the raw JSON payload of one event.
type Handler func(data []byte)

// bus is an idempotent pub/sub surface for the view layer. Registering the
// same function twice for one event is a no-op and Off removes the
// registration entirely, so listener sets cannot grow across UI re-renders.
// Identity is the function's code pointer.
type bus struct {
	mu        sync.Mutex
	listeners map[string]map[uintptr]Handler
}

func newBus() *bus {
	return &bus{listeners: make(map[string]map[uintptr]Handler)}
}

func (b *bus) on(event string, h Handler) {
	if h == nil {
		return
	}
	key := reflect.ValueOf(h).Pointer()

	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.listeners[event]
	if !ok {
		m = make(map[uintptr]Handler)
		b.listeners[event] = m
	}
	if _, registered := m[key]; registered {
		return
	}
	m[key] = h
}

func (b *bus) off(event string, h Handler) {
	if h == nil {
		return
	}
	key := reflect.ValueOf(h).Pointer()

	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.listeners[event]; ok {
		delete(m, key)
		if len(m) == 0 {
			delete(b.listeners, event)
		}
	}
}

func (b *bus) emit(event string, data []byte) {
	b.mu.Lock()
	handlers := make([]Handler, 0, len(b.listeners[event]))
	for _, h := range b.listeners[event] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(data)
	}
}
