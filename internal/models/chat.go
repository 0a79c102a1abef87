package models

import (
	"errors"
	"time"
)

// ErrChatNotFound is returned by stores when a chat id does not name a stored chat.
var ErrChatNotFound = errors.New("chat not found")

// Chat represents a conversation held in one chat widget. ThreadID is the conversation id of the
// vendor that answers the chat, empty until the first reply or for stateless vendors.
type Chat struct {
	ID       string
	Title    string
	ThreadID string
}

// Message represents an individual entry within a chat: who wrote it, its full text and when it
// was created.
type Message struct {
	ID        string
	Role      Role
	Content   string
	Timestamp time.Time
}

// Reply is the complete answer of a vendor to the latest user message, together with the vendor
// conversation it belongs to.
type Reply struct {
	Text     string
	ThreadID string
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a message typed in the widget.
	RoleUser Role = "user"
	// RoleAssistant represents a reply of the vendor agent.
	RoleAssistant Role = "assistant"
)

// Streaming states of a message as rendered in the widget.
const (
	StreamingStateLoading   = "loading"
	StreamingStateStreaming = "streaming"
	StreamingStateEnded     = "ended"
)
