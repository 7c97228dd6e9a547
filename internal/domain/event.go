package domain

import "context"

// SessionEvent is one lifecycle or message notification from a chat session.
// The concrete types are QrIssued, SessionReady and MessageReceived.
type SessionEvent interface {
	sessionEvent()
}

// QrIssued carries a pairing code the operator has to scan.
type QrIssued struct {
	Code string
}

// SessionReady signals that the session is authenticated and connected.
type SessionReady struct{}

// MessageReceived carries an incoming message as the session exposes it.
type MessageReceived struct {
	Raw RawMessage
}

func (QrIssued) sessionEvent()        {}
func (SessionReady) sessionEvent()    {}
func (MessageReceived) sessionEvent() {}

// EventSource is a chat session that reports its events to a single handler.
type EventSource interface {
	Start(ctx context.Context, handle func(SessionEvent)) error
	Stop() error
}

// Event kinds, as used for subscriptions and metrics labels.
const (
	KindQr      = "qr"
	KindReady   = "ready"
	KindMessage = "message"
)

// Kind names the concrete type of ev.
func Kind(ev SessionEvent) string {
	switch ev.(type) {
	case QrIssued:
		return KindQr
	case SessionReady:
		return KindReady
	case MessageReceived:
		return KindMessage
	default:
		return "unknown"
	}
}
