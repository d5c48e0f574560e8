// Package dispatcher routes incoming chat-platform events to the correct
// service route, assembles the sandbox execution payload, invokes the
// sandbox host, and applies any state directive the service returns.
package dispatcher

// EventKind discriminates the three event shapes the dispatcher accepts.
type EventKind string

const (
	EventCommand  EventKind = "command"
	EventCallback EventKind = "callback"
	EventMessage  EventKind = "message"
)

// Event is one incoming chat-platform occurrence. Exactly the fields
// relevant to Kind are populated; the others are ignored.
type Event struct {
	Kind   EventKind
	ChatID string
	UserID string

	// Token is the raw (un-normalized) command token for EventCommand.
	Token string
	// Data is the raw callback payload (e.g. "svc:hello|a") for
	// EventCallback.
	Data string
	// Body is the opaque message payload for EventMessage.
	Body any
}
