package session

import (
	"context"
	"errors"
	"fmt"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"warelay/internal/domain"
)

// lookups is the part of the whatsmeow client a message needs after receipt.
type lookups interface {
	Download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error)
	GetGroupInfo(ctx context.Context, jid types.JID) (*types.GroupInfo, error)
	GetContact(ctx context.Context, jid types.JID) (types.ContactInfo, error)
	// PNForLID maps a hidden (LID) user to their phone-number JID. It returns
	// an empty JID when the mapping is unknown.
	PNForLID(ctx context.Context, lid types.JID) (types.JID, error)
}

var errNoMedia = errors.New("message has no media")

// media is a downloadable attachment and the metadata the envelope carries.
type media struct {
	msg      whatsmeow.DownloadableMessage
	mimeType string
	filename string
}

// message is a received whatsmeow message exposed as a domain.RawMessage.
type message struct {
	info types.MessageInfo

	// chat and sender are info.Chat and info.Sender with LIDs replaced by
	// phone-number JIDs where the mapping is known.
	chat   types.JID
	sender types.JID
	body   *string
	media  *media
	wa     lookups
}

var _ domain.RawMessage = (*message)(nil)

// newMessage extracts the relayable content of evt. It returns false for
// messages without text or media (reactions, receipts, edits and the like).
func newMessage(ctx context.Context, evt *events.Message, wa lookups) (*message, bool) {
	msg := evt.Message
	if msg == nil {
		return nil, false
	}
	m := &message{info: evt.Info, wa: wa}
	m.media = extractMedia(msg)
	if m.media == nil {
		m.body = extractText(msg)
	}
	if m.body == nil && m.media == nil {
		return nil, false
	}

	m.sender = m.phoneJID(ctx, evt.Info.Sender, evt.Info.SenderAlt)
	m.chat = evt.Info.Chat.ToNonAD()
	if !evt.Info.IsGroup && m.chat.Server == types.HiddenUserServer {
		// Incoming direct chats are keyed by the sender.
		m.chat = m.phoneJID(ctx, evt.Info.Chat, evt.Info.SenderAlt)
	}
	return m, true
}

// phoneJID returns jid without its device part, swapping a LID for alt or the
// stored phone-number mapping when one is available.
func (m *message) phoneJID(ctx context.Context, jid, alt types.JID) types.JID {
	jid = jid.ToNonAD()
	if jid.Server != types.HiddenUserServer {
		return jid
	}
	if alt.Server == types.DefaultUserServer {
		return alt.ToNonAD()
	}
	pn, err := m.wa.PNForLID(ctx, jid)
	if err != nil || pn.IsEmpty() {
		return jid
	}
	return pn.ToNonAD()
}

func extractText(msg *waE2E.Message) *string {
	if msg.Conversation != nil {
		text := msg.GetConversation()
		return &text
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		text := ext.GetText()
		return &text
	}
	return nil
}

func extractMedia(msg *waE2E.Message) *media {
	switch {
	case msg.GetImageMessage() != nil:
		img := msg.GetImageMessage()
		return &media{msg: img, mimeType: img.GetMimetype()}
	case msg.GetVideoMessage() != nil:
		vid := msg.GetVideoMessage()
		return &media{msg: vid, mimeType: vid.GetMimetype()}
	case msg.GetAudioMessage() != nil:
		aud := msg.GetAudioMessage()
		return &media{msg: aud, mimeType: aud.GetMimetype()}
	case msg.GetDocumentMessage() != nil:
		doc := msg.GetDocumentMessage()
		return &media{msg: doc, mimeType: doc.GetMimetype(), filename: doc.GetFileName()}
	case msg.GetStickerMessage() != nil:
		st := msg.GetStickerMessage()
		return &media{msg: st, mimeType: st.GetMimetype()}
	}
	return nil
}

func (m *message) From() string { return m.chat.String() }

// Author is the group participant who sent the message; empty outside groups.
func (m *message) Author() string {
	if !m.info.IsGroup {
		return ""
	}
	return m.sender.String()
}

func (m *message) Timestamp() int64 { return m.info.Timestamp.Unix() }

func (m *message) Body() (string, bool) {
	if m.body == nil {
		return "", false
	}
	return *m.body, true
}

func (m *message) HasMedia() bool { return m.media != nil }
func (m *message) IsGroup() bool  { return m.info.IsGroup }

func (m *message) Chat(ctx context.Context) (domain.Chat, error) {
	if m.chat.Server != types.GroupServer {
		return domain.Chat{}, nil
	}
	info, err := m.wa.GetGroupInfo(ctx, m.chat)
	if err != nil {
		return domain.Chat{}, fmt.Errorf("group info %s: %w", m.chat, err)
	}
	return domain.Chat{IsGroup: true, Name: info.Name}, nil
}

// Contact resolves the chat's counterpart in a direct conversation.
func (m *message) Contact(ctx context.Context) (domain.Contact, error) {
	return m.contact(ctx, m.sender)
}

func (m *message) ContactByID(ctx context.Context, id string) (domain.Contact, error) {
	jid, err := types.ParseJID(id)
	if err != nil {
		return domain.Contact{}, fmt.Errorf("parse contact id %q: %w", id, err)
	}
	return m.contact(ctx, jid)
}

func (m *message) contact(ctx context.Context, jid types.JID) (domain.Contact, error) {
	info, err := m.wa.GetContact(ctx, jid.ToNonAD())
	if err != nil {
		return domain.Contact{}, fmt.Errorf("contact %s: %w", jid, err)
	}
	c := domain.Contact{
		PushName:     info.PushName,
		Name:         info.FullName,
		ShortName:    info.FirstName,
		VerifiedName: info.BusinessName,
	}
	// The store may not have caught up with the name attached to this message.
	if c.PushName == "" && jid.ToNonAD() == m.sender {
		c.PushName = m.info.PushName
	}
	return c, nil
}

func (m *message) DownloadMedia(ctx context.Context) (*domain.Media, error) {
	if m.media == nil {
		return nil, errNoMedia
	}
	data, err := m.wa.Download(ctx, m.media.msg)
	if err != nil {
		return nil, err
	}
	return &domain.Media{
		MimeType: m.media.mimeType,
		Filename: m.media.filename,
		Data:     data,
	}, nil
}
