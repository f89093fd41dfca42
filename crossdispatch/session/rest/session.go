package rest

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/session"
)

var hostname string

func init() {
	hostname, _ = os.Hostname()
}

func ExtractHttpClient(s session.Session) *http.Client {
	return s.(session.RestSession).HttpClient()
}

type observableTransport struct {
	base    http.RoundTripper
	headers http.Header
	pool    *SessionPool
	session *Session
}

func (t *observableTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(t.headers) > 0 {
		req = req.Clone(req.Context())
		for key, values := range t.headers {
			req.Header[key] = values
		}
	}

	requestView := &session.RequestViewModel{
		TimeStart: time.Now(),
		Label: fmt.Sprintf(
			"crossdispatch.%s.%s.%s.%s",
			hostname, req.Method, req.URL.Host, req.URL.Path,
		),
	}

	t.pool.onRequestStarted.Notify(session.RequestStartedEvent{
		Session:     t.session,
		Sender:      t.pool,
		RequestView: requestView,
	})

	resp, err := t.base.RoundTrip(req)

	responseTime := time.Since(requestView.TimeStart)
	requestView.ResponseTime = &responseTime
	requestView.Err = err
	if resp != nil {
		status := resp.StatusCode
		requestView.Status = &status
	}

	t.pool.onRequestEnded.Notify(session.RequestEndedEvent{
		Session:     t.session,
		Sender:      t.pool,
		RequestView: requestView,
	})

	return resp, err
}

// Session carries an http.Client whose round trips are reported to the
// owning pool's request signals. REST calls have no transactional scope, so
// Atomic only brackets the callback with scope signals.
type Session struct {
	ctx        context.Context
	httpClient *http.Client
	pool       *SessionPool
}

func newSession(ctx context.Context, pool *SessionPool) *Session {
	s := &Session{ctx: ctx, pool: pool}
	s.httpClient = &http.Client{
		Transport: &observableTransport{
			base:    pool.transport,
			headers: pool.headers,
			pool:    pool,
			session: s,
		},
		Timeout: pool.timeout,
	}
	return s
}

func (s *Session) Context() context.Context {
	return s.ctx
}

func (s *Session) HttpClient() *http.Client {
	return s.httpClient
}

func (s *Session) Atomic(callback session.SessionCallback) error {
	s.pool.onSessionStarted.Notify(session.SessionScopeStartedEvent{Session: s})
	err := callback(s)
	s.pool.onSessionEnded.Notify(session.SessionScopeEndedEvent{Session: s})
	return err
}

var _ session.RestSession = (*Session)(nil)

