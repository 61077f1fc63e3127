package session

import "time"

// Role identifies the author of a message.
type Role string

// Valid message roles.
const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// MediaType identifies the kind of content a message carries.
type MediaType string

// Valid media types.
const (
	TypeText  MediaType = "text"
	TypeImage MediaType = "image"
	TypeVideo MediaType = "video"
)

// Title sentinels. RestrictedTitle marks sessions created in the
// alternate unlocked mode: they are kept in memory while that mode is
// active but never written to durable storage and never hydrated.
const (
	DefaultTitle    = "Yangi suhbat"
	RestrictedTitle = "SECRET_SESSION"
)

// Message is a single conversation entry. ID, Role, Type and Timestamp
// are fixed at creation. Content of user messages is immutable; content
// of model messages grows by full-replace updates while a response
// streams in. MediaURL is set at most once, when media generation
// completes.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Type      MediaType `json:"type"`
	MediaURL  string    `json:"mediaUrl,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatSession is a named conversation thread. Messages is append-only
// during the session's lifetime; UpdatedAt is bumped on every append.
type ChatSession struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Restricted reports whether the session carries the restricted
// sentinel title.
func (s ChatSession) Restricted() bool {
	return s.Title == RestrictedTitle
}

// clone returns a deep copy of the session.
func (s ChatSession) clone() ChatSession {
	out := s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	return out
}

// MessageUpdate describes a partial in-place update of a message.
// Nil fields are left untouched.
type MessageUpdate struct {
	Content  *string
	MediaURL *string
}
