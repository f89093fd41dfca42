package disposable

import "sync"

// Disposable releases a subscription or other resource exactly once.
type Disposable interface {
	Dispose()
}

type DisposableImp struct {
	once     sync.Once
	callback func()
}

func NewDisposable(callback func()) *DisposableImp {
	return &DisposableImp{callback: callback}
}

func (d *DisposableImp) Dispose() {
	d.once.Do(func() {
		if d.callback != nil {
			d.callback()
		}
	})
}

// Composite disposes all its members in reverse order of addition.
type Composite struct {
	mu    sync.Mutex
	items []Disposable
}

func (c *Composite) Add(items ...Disposable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, items...)
}

func (c *Composite) Dispose() {
	c.mu.Lock()
	items := c.items
	c.items = nil
	c.mu.Unlock()

	for i := len(items) - 1; i >= 0; i-- {
		items[i].Dispose()
	}
}
