package inbox

// EventKind tells what changed in the controller.
type EventKind int

const (
	// EventConversations means the conversation list was replaced.
	EventConversations EventKind = iota + 1
	// EventMessages means the selected conversation's messages were replaced
	// or the selection changed.
	EventMessages
	// EventError carries a poll failure; polling continues.
	EventError
	// EventSessionEnded means polling stopped because the session is gone.
	EventSessionEnded
)

func (k EventKind) String() string {
	switch k {
	case EventConversations:
		return "conversations"
	case EventMessages:
		return "messages"
	case EventError:
		return "error"
	case EventSessionEnded:
		return "session-ended"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind           EventKind
	ConversationID string
	Err            error
}
