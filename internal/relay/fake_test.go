package relay

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"warelay/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

var errLookup = errors.New("lookup failed")

// fakeMessage is an in-memory domain.RawMessage.
type fakeMessage struct {
	from      string
	author    string
	timestamp int64
	body      *string
	isGroup   bool

	chat    domain.Chat
	chatErr error

	contact     domain.Contact
	contactErr  error
	contactByID map[string]domain.Contact

	media    *domain.Media
	mediaErr error

	lookedUp  []string
	downloads int
}

func (m *fakeMessage) From() string     { return m.from }
func (m *fakeMessage) Author() string   { return m.author }
func (m *fakeMessage) Timestamp() int64 { return m.timestamp }
func (m *fakeMessage) HasMedia() bool   { return m.media != nil || m.mediaErr != nil }
func (m *fakeMessage) IsGroup() bool    { return m.isGroup }

func (m *fakeMessage) Body() (string, bool) {
	if m.body == nil {
		return "", false
	}
	return *m.body, true
}

func (m *fakeMessage) Chat(context.Context) (domain.Chat, error) {
	return m.chat, m.chatErr
}

func (m *fakeMessage) Contact(context.Context) (domain.Contact, error) {
	m.lookedUp = append(m.lookedUp, "self")
	return m.contact, m.contactErr
}

func (m *fakeMessage) ContactByID(_ context.Context, id string) (domain.Contact, error) {
	m.lookedUp = append(m.lookedUp, id)
	if m.contactErr != nil {
		return domain.Contact{}, m.contactErr
	}
	c, ok := m.contactByID[id]
	if !ok {
		return domain.Contact{}, errLookup
	}
	return c, nil
}

func (m *fakeMessage) DownloadMedia(context.Context) (*domain.Media, error) {
	m.downloads++
	if m.mediaErr != nil {
		return nil, m.mediaErr
	}
	return m.media, nil
}

func strPtr(s string) *string { return &s }

func directText(body string) *fakeMessage {
	return &fakeMessage{
		from:      "5491122334455@c.us",
		timestamp: 1700000000,
		body:      strPtr(body),
		chat:      domain.Chat{IsGroup: false, Name: "Juan"},
		contact:   domain.Contact{PushName: "Juan"},
	}
}

func groupText(group, body string) *fakeMessage {
	return &fakeMessage{
		from:      "120363040000000000@g.us",
		author:    "5491199887766@c.us",
		timestamp: 1700000100,
		body:      strPtr(body),
		isGroup:   true,
		chat:      domain.Chat{IsGroup: true, Name: group},
		contactByID: map[string]domain.Contact{
			"5491199887766@c.us": {Name: "Ana"},
		},
	}
}
