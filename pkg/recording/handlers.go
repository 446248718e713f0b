package recording

import (
	"reflect"
	"sync/atomic"

	"github.com/Sumatoshi-tech/flightrec/pkg/metadata"
	"github.com/Sumatoshi-tech/flightrec/pkg/value"
)

// Event is one generically decoded event.
type Event struct {
	Type   *metadata.Type
	Fields *value.Object
}

// Name returns the event type name.
func (e Event) Name() string { return e.Type.Name }

// HandlerFunc receives generically decoded events.
type HandlerFunc func(ev Event, ctl *Control) error

type handler struct {
	id       uint64
	typeName string
	generic  HandlerFunc
	goType   reflect.Type
	typed    func(ptr reflect.Value, ctl *Control) error
	active   atomic.Bool
}

func (h *handler) matches(t *metadata.Type) bool {
	return h.typeName == "" || h.typeName == t.Name
}

// Registration is the handle of a registered handler or listener.
type Registration struct {
	s  *Session
	id uint64
	// active is shared with the registered handler or listener.
	active *atomic.Bool
}

// Destroy deregisters. Chunks starting afterwards never see the handler and
// running chunks stop calling it from their next event.
func (r *Registration) Destroy() {
	r.active.Store(false)
	r.s.remove(r.id)
}

func (s *Session) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, h := range s.handlers {
		if h.id == id {
			s.handlers = append(s.handlers[:i:i], s.handlers[i+1:]...)

			return
		}
	}

	for i, l := range s.listeners {
		if l.id == id {
			s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)

			return
		}
	}
}

func (s *Session) add(h *handler) *Registration {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	h.id = s.nextID
	h.active.Store(true)
	s.handlers = append(s.handlers, h)

	return &Registration{s: s, id: h.id, active: &h.active}
}

// HandleAll registers fn for every event type.
func (s *Session) HandleAll(fn HandlerFunc) *Registration {
	return s.add(&handler{generic: fn})
}

// HandleType registers fn for events of the named type.
func (s *Session) HandleType(name string, fn HandlerFunc) *Registration {
	return s.add(&handler{typeName: name, generic: fn})
}

// Handle registers fn for events of the named type, decoded into a fresh
// *T per event. Fields of T bind to event fields by `jfr` tag or by
// case-insensitive name; unmatched event fields are skipped. An empty name
// matches every event type.
func Handle[T any](s *Session, name string, fn func(ev *T, ctl *Control) error) *Registration {
	return s.add(&handler{
		typeName: name,
		goType:   reflect.TypeFor[T](),
		typed: func(ptr reflect.Value, ctl *Control) error {
			return fn(ptr.Interface().(*T), ctl) //nolint:forcetypeassert // ptr is a *T by construction.
		},
	})
}

// snapshot returns the active handlers and listeners for a starting chunk.
func (s *Session) snapshot() ([]*handler, []*listenerReg) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hs := make([]*handler, 0, len(s.handlers))
	for _, h := range s.handlers {
		if h.active.Load() {
			hs = append(hs, h)
		}
	}

	ls := make([]*listenerReg, 0, len(s.listeners))
	for _, l := range s.listeners {
		if l.active.Load() {
			ls = append(ls, l)
		}
	}

	return hs, ls
}
