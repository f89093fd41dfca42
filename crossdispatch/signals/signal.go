package signals

import (
	"reflect"
	"sync"

	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/disposable"
)

type entry[E any] struct {
	id       any
	observer Observer[E]
}

type SignalImp[E any] struct {
	mu        sync.RWMutex
	observers []entry[E]
}

func NewSignal[E any]() *SignalImp[E] {
	return &SignalImp[E]{}
}

func (s *SignalImp[E]) Attach(observer Observer[E], observerID ...any) disposable.Disposable {
	id := resolveID(observer, observerID)
	release := disposable.NewDisposable(func() {
		s.Detach(observer, id)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.observers {
		if e.id == id {
			return release
		}
	}
	s.observers = append(s.observers, entry[E]{id: id, observer: observer})
	return release
}

func (s *SignalImp[E]) Detach(observer Observer[E], observerID ...any) {
	id := resolveID(observer, observerID)

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.observers {
		if e.id == id {
			s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
			return
		}
	}
}

// Notify calls observers outside the lock so an observer may detach itself.
func (s *SignalImp[E]) Notify(event E) {
	s.mu.RLock()
	snapshot := make([]entry[E], len(s.observers))
	copy(snapshot, s.observers)
	s.mu.RUnlock()

	for _, e := range snapshot {
		e.observer(event)
	}
}

func (s *SignalImp[E]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.observers)
}

func resolveID[E any](observer Observer[E], observerID []any) any {
	if len(observerID) > 0 {
		return observerID[0]
	}
	return reflect.ValueOf(observer).Pointer()
}
