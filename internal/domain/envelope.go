package domain

import "encoding/base64"

// Envelope is the sink-facing JSON form of one session event.
// The concrete types are *MessageEnvelope and QrEnvelope.
type Envelope interface {
	envelope()
}

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageMedia MessageType = "media"
)

// DefaultMediaFilename is used when the session reports no file name.
const DefaultMediaFilename = "file.bin"

// MessageEnvelope is forwarded to the ingestion sink. Optional fields are nil
// when absent and are left out of the JSON body.
type MessageEnvelope struct {
	From         string      `json:"from"`
	Author       *string     `json:"author,omitempty"`
	Timestamp    int64       `json:"timestamp"`
	IsGroup      bool        `json:"isGroup"`
	GroupName    *string     `json:"groupName,omitempty"`
	GroupID      *string     `json:"groupId,omitempty"`
	SenderName   *string     `json:"senderName,omitempty"`
	SenderNumber *string     `json:"senderNumber,omitempty"`
	Type         MessageType `json:"type"`
	Text         *string     `json:"text,omitempty"`
	MimeType     *string     `json:"mimetype,omitempty"`
	Filename     *string     `json:"filename,omitempty"`
	DataBase64   *string     `json:"data_base64,omitempty"`
}

// MessageHeader is the part of a MessageEnvelope shared by text and media.
type MessageHeader struct {
	From         string
	Author       *string
	Timestamp    int64
	IsGroup      bool
	GroupName    *string
	GroupID      *string
	SenderName   *string
	SenderNumber *string
}

// NewTextEnvelope builds a text envelope. A nil text leaves the field absent.
func NewTextEnvelope(h MessageHeader, text *string) *MessageEnvelope {
	env := h.envelope(MessageText)
	env.Text = text
	return env
}

// NewMediaEnvelope builds a media envelope, encoding the payload as base64 and
// defaulting the file name.
func NewMediaEnvelope(h MessageHeader, m Media) *MessageEnvelope {
	env := h.envelope(MessageMedia)
	filename := m.Filename
	if filename == "" {
		filename = DefaultMediaFilename
	}
	mime := m.MimeType
	data := base64.StdEncoding.EncodeToString(m.Data)
	env.MimeType = &mime
	env.Filename = &filename
	env.DataBase64 = &data
	return env
}

func (h MessageHeader) envelope(t MessageType) *MessageEnvelope {
	return &MessageEnvelope{
		From:         h.From,
		Author:       h.Author,
		Timestamp:    h.Timestamp,
		IsGroup:      h.IsGroup,
		GroupName:    h.GroupName,
		GroupID:      h.GroupID,
		SenderName:   h.SenderName,
		SenderNumber: h.SenderNumber,
		Type:         t,
	}
}

// QrEnvelope is forwarded to the QR sink. A nil QR serializes as null and tells
// the sink to clear the published code.
type QrEnvelope struct {
	QR *string `json:"qr"`
}

func (*MessageEnvelope) envelope() {}
func (QrEnvelope) envelope()       {}

// SignedRequest is one delivery attempt's body and headers.
type SignedRequest struct {
	Body    string
	Headers map[string]string
}
