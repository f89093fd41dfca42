package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	pkgerrors "github.com/pkg/errors"
	"github.com/sony/gobreaker"

	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/session"
	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/session/rest"
	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/workflow"
)

const maxErrorBody = 64 << 10

// StatusError is a non-2xx answer of the service.
type StatusError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("workflow service: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("workflow service: %d %s", e.Status, http.StatusText(e.Status))
}

type unavailableError struct {
	cause error
}

func (e *unavailableError) Error() string {
	return workflow.ErrUnavailable.Error() + ": " + e.cause.Error()
}

func (e *unavailableError) Is(target error) bool {
	return target == workflow.ErrUnavailable
}

func (e *unavailableError) Unwrap() error {
	return e.cause
}

// do sends one request under the per-call timeout and the circuit breaker and
// decodes a 2xx JSON body into out when out is not nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return pkgerrors.Wrap(err, "encode request")
		}
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.pool.Session(ctx, func(s session.Session) error {
			return c.roundTrip(s, method, path, payload, out)
		})
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &unavailableError{cause: err}
	}
	return err
}

func (c *Client) roundTrip(s session.Session, method, path string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(s.Context(), method, c.base+path, reader)
	if err != nil {
		return pkgerrors.Wrap(err, "build request")
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := rest.ExtractHttpClient(s).Do(req)
	if err != nil {
		return pkgerrors.Wrapf(err, "%s %s", method, req.URL.Path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{Status: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = json.Unmarshal(raw, statusErr)
		statusErr.Status = resp.StatusCode
		return statusErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(err, "decode response")
	}
	return nil
}

// isBreakerSuccess counts client-side answers (4xx) as successes; only
// transport failures and 5xx move the breaker towards open.
func isBreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status < 500 || statusErr.Status == http.StatusNotImplemented
	}
	return false
}

func hasStatus(err error, statuses ...int) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	for _, status := range statuses {
		if statusErr.Status == status {
			return true
		}
	}
	return false
}

func isQueryNotSupported(err error) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	switch statusErr.Status {
	case http.StatusNotImplemented:
		return true
	case http.StatusBadRequest, http.StatusNotFound:
		return statusErr.Code == "query_not_supported"
	}
	return false
}
