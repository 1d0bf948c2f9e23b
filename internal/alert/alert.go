// Package alert delivers operator notifications for alert-worthy dispatch
// conditions: degraded channels, exhausted delivery retries.
package alert

import "context"

// Severities.
const (
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Event is one operator-facing notification.
type Event struct {
	Title    string
	Body     string
	Severity string
}

// Notifier is the interface platform sinks implement. Delivery is
// best-effort: callers log failures and move on.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Nop discards all events. Used when no alert platform is configured.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Event) error { return nil }

// Color returns the sidebar color hint for a severity.
func Color(severity string) string {
	switch severity {
	case SeverityError:
		return "#d00000"
	case SeverityWarning:
		return "#e8a317"
	default:
		return "#36a64f"
	}
}
