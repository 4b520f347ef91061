package service

import (
	"sync"

	"github.com/Go-routine-4595/vehicle-diag/model"
)

type eventKey struct {
	service  uint16
	instance uint16
	event    uint16
}

// registry maps an event identity to its current subscribers. Handles are
// opaque subscriber identities assigned by the transport; a disconnect
// drops every subscription held under the handle.
type registry struct {
	mu   sync.RWMutex
	subs map[eventKey]map[string]model.IEventSink
}

func newRegistry() *registry {
	return &registry{subs: make(map[eventKey]map[string]model.IEventSink)}
}

func (r *registry) subscribe(service, instance, event uint16, handle string, sink model.IEventSink) {
	k := eventKey{service, instance, event}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.subs[k]
	if !ok {
		m = make(map[string]model.IEventSink)
		r.subs[k] = m
	}
	m[handle] = sink
}

func (r *registry) unsubscribe(service, instance, event uint16, handle string) {
	k := eventKey{service, instance, event}
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.subs[k]; ok {
		delete(m, handle)
		if len(m) == 0 {
			delete(r.subs, k)
		}
	}
}

func (r *registry) dropSubscriber(handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, m := range r.subs {
		delete(m, handle)
		if len(m) == 0 {
			delete(r.subs, k)
		}
	}
}

// snapshotSubscribers returns the current subscriber set for an event so
// delivery happens outside the lock.
func (r *registry) snapshotSubscribers(service, instance, event uint16) map[string]model.IEventSink {
	k := eventKey{service, instance, event}
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.subs[k]
	if !ok {
		return nil
	}
	out := make(map[string]model.IEventSink, len(m))
	for h, s := range m {
		out[h] = s
	}
	return out
}
