package loop

// EventKind tags an Event so a UI layer can dispatch on it without
// inspecting Payload.
type EventKind string

const (
	EventStatus       EventKind = "status"
	EventContent      EventKind = "content"
	EventToolStarted  EventKind = "tool_started"
	EventToolFinished EventKind = "tool_finished"
	EventFinal        EventKind = "final"
)

// Event is one record on the loop's outbound event stream.
type Event struct {
	Kind    EventKind
	Payload any
}

// ToolStartedPayload is the payload of an EventToolStarted event.
type ToolStartedPayload struct {
	CallID string
	Name   string
}

// ToolFinishedPayload is the payload of an EventToolFinished event.
type ToolFinishedPayload struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

func (l *Loop) emit(evt Event) {
	if l.events == nil {
		return
	}
	select {
	case l.events <- evt:
	default:
		// A full, unconsumed event channel must never block the loop; the
		// UI layer is a secondary observer, not a backpressure source.
	}
}

// Events returns the loop's outbound event channel. Nil until WithEvents
// is used to configure one.
func (l *Loop) Events() <-chan Event {
	return l.events
}
