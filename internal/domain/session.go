package domain

import "context"

// RawMessage is the narrow view of an incoming message that the relay consumes.
// Implementations wrap the session client's own message object.
type RawMessage interface {
	// From is the chat identifier (the group id for group messages).
	From() string
	// Author is the participant who wrote a group message, empty otherwise.
	Author() string
	// Timestamp is seconds since epoch as reported by the session.
	Timestamp() int64
	// Body returns the text body; ok is false when the message has none.
	Body() (body string, ok bool)
	HasMedia() bool
	// IsGroup is the message's own group flag, used when the chat lookup fails.
	IsGroup() bool

	Chat(ctx context.Context) (Chat, error)
	Contact(ctx context.Context) (Contact, error)
	ContactByID(ctx context.Context, id string) (Contact, error)
	DownloadMedia(ctx context.Context) (*Media, error)
}

// Chat describes the conversation a message belongs to.
type Chat struct {
	IsGroup bool
	Name    string
}

// Contact holds the names a session knows for a participant.
type Contact struct {
	PushName     string
	Name         string
	ShortName    string
	VerifiedName string
}

// DisplayName returns the first non-empty name, preferring what the sender chose.
func (c Contact) DisplayName() string {
	for _, n := range []string{c.PushName, c.Name, c.ShortName, c.VerifiedName} {
		if n != "" {
			return n
		}
	}
	return ""
}

// Media is a downloaded attachment.
type Media struct {
	MimeType string
	Filename string
	Data     []byte
}
