package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/session"
	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/signals"
)

type SessionPoolOption func(*SessionPool)

// WithHeader adds a header to every request sent through the pool.
func WithHeader(key, value string) SessionPoolOption {
	return func(p *SessionPool) {
		p.headers.Set(key, value)
	}
}

// WithTimeout bounds every request; zero leaves the bound to the caller's context.
func WithTimeout(timeout time.Duration) SessionPoolOption {
	return func(p *SessionPool) {
		p.timeout = timeout
	}
}

type SessionPool struct {
	transport        http.RoundTripper
	headers          http.Header
	timeout          time.Duration
	onSessionStarted signals.Signal[session.SessionScopeStartedEvent]
	onSessionEnded   signals.Signal[session.SessionScopeEndedEvent]
	onRequestStarted signals.Signal[session.RequestStartedEvent]
	onRequestEnded   signals.Signal[session.RequestEndedEvent]
}

func NewSessionPool(transport http.RoundTripper, opts ...SessionPoolOption) *SessionPool {
	if transport == nil {
		transport = http.DefaultTransport
	}
	p := &SessionPool{
		transport:        transport,
		headers:          http.Header{},
		onSessionStarted: signals.NewSignal[session.SessionScopeStartedEvent](),
		onSessionEnded:   signals.NewSignal[session.SessionScopeEndedEvent](),
		onRequestStarted: signals.NewSignal[session.RequestStartedEvent](),
		onRequestEnded:   signals.NewSignal[session.RequestEndedEvent](),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *SessionPool) OnSessionStarted() signals.Signal[session.SessionScopeStartedEvent] {
	return p.onSessionStarted
}

func (p *SessionPool) OnSessionEnded() signals.Signal[session.SessionScopeEndedEvent] {
	return p.onSessionEnded
}

func (p *SessionPool) OnRequestStarted() signals.Signal[session.RequestStartedEvent] {
	return p.onRequestStarted
}

func (p *SessionPool) OnRequestEnded() signals.Signal[session.RequestEndedEvent] {
	return p.onRequestEnded
}

func (p *SessionPool) Session(ctx context.Context, callback session.SessionPoolCallback) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sess := newSession(ctx, p)

	p.onSessionStarted.Notify(session.SessionScopeStartedEvent{Session: sess})
	err := callback(sess)
	p.onSessionEnded.Notify(session.SessionScopeEndedEvent{Session: sess})

	return err
}
