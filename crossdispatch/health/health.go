package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/workflow"
)

const DefaultTimeout = 3 * time.Second

type Status string

const (
	StatusHealthy       Status = "healthy"
	StatusNotConfigured Status = "not_configured"
	StatusUnreachable   Status = "unreachable"
)

// Probe is implemented by the remote workflow client.
type Probe interface {
	Configured() bool
	Ping(ctx context.Context) error
}

// failFaster is implemented by probes that can refuse calls without trying.
type failFaster interface {
	Unavailable() bool
}

type Report struct {
	Status Status `json:"status"`
	// FailFast is set while the client refuses calls without contacting
	// the service.
	FailFast  bool      `json:"failFast"`
	Error     string    `json:"error,omitempty"`
	LatencyMs int64     `json:"latencyMs"`
	CheckedAt time.Time `json:"checkedAt"`
}

type Checker struct {
	probe   Probe
	timeout time.Duration
	now     func() time.Time
}

func NewChecker(probe Probe, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Checker{probe: probe, timeout: timeout, now: time.Now}
}

// Check distinguishes a service without credentials from one that is
// configured but does not answer within the timeout.
func (c *Checker) Check(ctx context.Context) Report {
	started := c.now()
	report := Report{CheckedAt: started.UTC()}

	if c.probe == nil || !c.probe.Configured() {
		report.Status = StatusNotConfigured
		return report
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.probe.Ping(ctx)
	report.LatencyMs = c.now().Sub(started).Milliseconds()
	switch {
	case errors.Is(err, workflow.ErrNotConfigured):
		report.Status = StatusNotConfigured
	case err != nil:
		report.Status = StatusUnreachable
		report.Error = err.Error()
	default:
		report.Status = StatusHealthy
	}
	if ff, ok := c.probe.(failFaster); ok {
		report.FailFast = ff.Unavailable()
	}
	return report
}

// Mount registers GET /healthz/workflow on r.
func (c *Checker) Mount(r chi.Router) {
	r.Get("/healthz/workflow", c.ServeHTTP)
}

func (c *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := c.Check(r.Context())

	status := http.StatusOK
	if report.Status == StatusUnreachable {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(report)
}
