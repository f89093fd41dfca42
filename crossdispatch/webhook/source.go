package webhook

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

const (
	DefaultSignatureHeader = "X-Webhook-Signature"
	DefaultTypeField       = "type"
)

// Source is a named external system allowed to post events.
type Source struct {
	Name            string
	SignatureHeader string
	// Secret is the shared HMAC key; empty disables verification.
	Secret    string
	TypeField string
	// Events maps the source's event names to registered event types.
	Events map[string]string
}

// Translate maps the payload's type field to a domain event type.
func (s Source) Translate(payload map[string]any) (string, bool) {
	external, ok := payload[s.typeField()].(string)
	if !ok || external == "" {
		return "", false
	}
	eventType, ok := s.Events[external]
	return eventType, ok
}

func (s Source) signatureHeader() string {
	if s.SignatureHeader == "" {
		return DefaultSignatureHeader
	}
	return s.SignatureHeader
}

func (s Source) typeField() string {
	if s.TypeField == "" {
		return DefaultTypeField
	}
	return s.TypeField
}

var ErrInvalidSource = errors.New("webhook: invalid source")

// ValidateSources checks names are present, unique and URL-safe and that
// every translation targets a known event type.
func ValidateSources(sources []Source, known func(eventType string) bool) error {
	var result *multierror.Error
	seen := map[string]bool{}
	for i, src := range sources {
		switch {
		case src.Name == "":
			result = multierror.Append(result, fmt.Errorf("%w: source #%d has no name", ErrInvalidSource, i))
			continue
		case strings.ContainsAny(src.Name, "/ ?#"):
			result = multierror.Append(result, fmt.Errorf("%w: source name %q is not a path segment", ErrInvalidSource, src.Name))
		case seen[src.Name]:
			result = multierror.Append(result, fmt.Errorf("%w: duplicate source %q", ErrInvalidSource, src.Name))
		}
		seen[src.Name] = true
		for external, eventType := range src.Events {
			if known != nil && !known(eventType) {
				result = multierror.Append(result, fmt.Errorf(
					"%w: source %q maps %q to unknown event type %q", ErrInvalidSource, src.Name, external, eventType,
				))
			}
		}
	}
	return result.ErrorOrNil()
}
