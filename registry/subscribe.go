package registry

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Change is published to subscribers each time a variable is set.
// Value is shared between subscribers and must not be modified.
type Change struct {
	ID ID
	Snapshot

	// Replay is true for the current state queued by Subscription.Notify
	Replay bool `json:"-"`
}

// Subscription receives changes from a registry.  A subscriber that falls
// behind loses changes rather than slowing down the writer.
type Subscription struct {
	// C delivers changes
	C <-chan Change

	c       chan Change
	names   map[string]struct{}
	reg     *Registry
	dropped uint64
	once    sync.Once
}

// Subscribe returns a subscription with a buffer of the given size.  If names
// are given, only changes to those variables are delivered.
func (r *Registry) Subscribe(buffer int, names ...string) *Subscription {
	c := make(chan Change, buffer)
	s := &Subscription{C: c, c: c, reg: r}
	if len(names) > 0 {
		s.names = make(map[string]struct{}, len(names))
		for _, n := range names {
			s.names[n] = struct{}{}
		}
	}
	r.smu.Lock()
	r.subs[s] = struct{}{}
	r.smu.Unlock()
	return s
}

// Close stops delivery and closes C.  It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.reg.smu.Lock()
		delete(s.reg.subs, s)
		close(s.c)
		s.reg.smu.Unlock()
	})
}

// Notify queues the current state of the named variables on this
// subscription only, in the given order; with no names, every variable the
// subscription receives, in registration order.  Changes stored afterwards
// are queued after them.
func (s *Subscription) Notify(names ...string) error {
	r := s.reg
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]ID, 0, len(names))
	for _, n := range names {
		id, ok := r.index[n]
		if !ok {
			return errors.Wrap(ErrUnknownVariable, n)
		}
		ids = append(ids, id)
	}
	if len(names) == 0 {
		for i, e := range r.entries {
			if s.wants(e.def.Name) {
				ids = append(ids, ID(i))
			}
		}
	}
	r.smu.RLock()
	defer r.smu.RUnlock()
	if _, open := r.subs[s]; !open {
		return nil
	}
	for _, id := range ids {
		s.send(Change{ID: id, Snapshot: r.entries[id].snapshot(), Replay: true})
	}
	return nil
}

// Dropped is the number of changes lost because the buffer was full
func (s *Subscription) Dropped() uint64 {
	return atomic.LoadUint64(&s.dropped)
}

func (s *Subscription) wants(name string) bool {
	if s.names == nil {
		return true
	}
	_, ok := s.names[name]
	return ok
}

func (r *Registry) publish(ch Change) {
	r.smu.RLock()
	defer r.smu.RUnlock()
	for s := range r.subs {
		if s.wants(ch.Name) {
			s.send(ch)
		}
	}
}

func (s *Subscription) send(ch Change) {
	select {
	case s.c <- ch:
	default:
		atomic.AddUint64(&s.dropped, 1)
	}
}
