// Package event provides typed emitters and scoped ownership of subscriptions.
//
// Emitters are not safe for concurrent use. Owners serialize all access
// through the preview loop.
package event

// Subscription is released exactly once; further calls are no-ops.
type Subscription interface {
	Release()
}

// Emitter fans a value out to every subscribed handler in subscription order.
type Emitter[T any] struct {
	next     uint64
	handlers []entry[T]
	disposed bool
}

type entry[T any] struct {
	id uint64
	fn func(T)
}

type subscription[T any] struct {
	emitter *Emitter[T]
	id      uint64
}

// Subscribe registers fn and returns the token that removes it.
func (e *Emitter[T]) Subscribe(fn func(T)) Subscription {
	if e.disposed || fn == nil {
		return noop{}
	}
	e.next++
	e.handlers = append(e.handlers, entry[T]{id: e.next, fn: fn})
	return &subscription[T]{emitter: e, id: e.next}
}

// Fire delivers v to the handlers registered when Fire was called.
// Handlers released during delivery are skipped.
func (e *Emitter[T]) Fire(v T) {
	if e.disposed {
		return
	}
	snapshot := make([]entry[T], len(e.handlers))
	copy(snapshot, e.handlers)
	for _, h := range snapshot {
		if !e.has(h.id) {
			continue
		}
		h.fn(v)
	}
}

// Len reports the number of live handlers.
func (e *Emitter[T]) Len() int {
	return len(e.handlers)
}

// Dispose drops every handler; later subscriptions are ignored.
func (e *Emitter[T]) Dispose() {
	e.disposed = true
	e.handlers = nil
}

func (e *Emitter[T]) has(id uint64) bool {
	for _, h := range e.handlers {
		if h.id == id {
			return true
		}
	}
	return false
}

func (e *Emitter[T]) remove(id uint64) {
	for i, h := range e.handlers {
		if h.id == id {
			e.handlers = append(e.handlers[:i], e.handlers[i+1:]...)
			return
		}
	}
}

func (s *subscription[T]) Release() {
	if s.emitter == nil {
		return
	}
	s.emitter.remove(s.id)
	s.emitter = nil
}

type noop struct{}

func (noop) Release() {}

// Func adapts a plain function to Subscription. The function runs once.
func Func(fn func()) Subscription {
	return &funcSubscription{fn: fn}
}

type funcSubscription struct {
	fn func()
}

func (f *funcSubscription) Release() {
	if f.fn == nil {
		return
	}
	fn := f.fn
	f.fn = nil
	fn()
}

// Disposables owns a set of subscriptions and releases them together.
type Disposables struct {
	items    []Subscription
	released bool
}

// Add takes ownership of subs. Adding after Release releases them at once.
func (d *Disposables) Add(subs ...Subscription) {
	if d.released {
		for _, s := range subs {
			s.Release()
		}
		return
	}
	d.items = append(d.items, subs...)
}

// Release releases every owned subscription in reverse order, exactly once.
func (d *Disposables) Release() {
	if d.released {
		return
	}
	d.released = true
	items := d.items
	d.items = nil
	for i := len(items) - 1; i >= 0; i-- {
		items[i].Release()
	}
}

// Released reports whether Release has run.
func (d *Disposables) Released() bool {
	return d.released
}
