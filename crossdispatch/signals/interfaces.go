package signals

import (
	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/disposable"
)

type Observer[E any] func(E)

// Signal fans an event out to attached observers in attachment order.
// Implementations are safe for concurrent use.
type Signal[E any] interface {
	Attach(observer Observer[E], observerID ...any) disposable.Disposable
	Detach(observer Observer[E], observerID ...any)
	Notify(event E)
}
