package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"warelay/internal/domain"
)

// ErrUnknownEvent is returned for session events the normalizer has no envelope for.
var ErrUnknownEvent = errors.New("unknown session event")

// Normalizer maps session events to envelopes. It keeps no state between calls.
type Normalizer struct {
	downloadTimeout time.Duration
	logger          *slog.Logger
}

func NewNormalizer(logger *slog.Logger) *Normalizer {
	return &Normalizer{downloadTimeout: DefaultDeliveryTimeout, logger: logger}
}

// Normalize builds the envelope for ev. An error means the event must be dropped;
// lookup failures only degrade the envelope and never surface here.
func (n *Normalizer) Normalize(ctx context.Context, ev domain.SessionEvent) (domain.Envelope, error) {
	switch e := ev.(type) {
	case domain.QrIssued:
		code := e.Code
		return domain.QrEnvelope{QR: &code}, nil
	case domain.SessionReady:
		return domain.QrEnvelope{}, nil
	case domain.MessageReceived:
		if e.Raw == nil {
			return nil, fmt.Errorf("%w: message without payload", ErrUnknownEvent)
		}
		env, err := n.normalizeMessage(ctx, e.Raw)
		if err != nil {
			return nil, err
		}
		return env, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}
}

func (n *Normalizer) normalizeMessage(ctx context.Context, raw domain.RawMessage) (*domain.MessageEnvelope, error) {
	from := raw.From()
	author := raw.Author()

	h := domain.MessageHeader{
		From:         from,
		Author:       optional(author),
		Timestamp:    raw.Timestamp(),
		SenderNumber: SenderNumber(author, from),
	}

	chat, err := raw.Chat(ctx)
	if err != nil {
		n.logger.Warn("chat lookup failed", "from", from, "err", err)
		h.IsGroup = raw.IsGroup()
	} else {
		h.IsGroup = chat.IsGroup
		if chat.IsGroup {
			name := chat.Name
			h.GroupName = &name
		}
	}
	if h.IsGroup {
		id := from
		h.GroupID = &id
	}

	h.SenderName = n.lookupSenderName(ctx, raw, author)

	if raw.HasMedia() {
		dlCtx, cancel := context.WithTimeout(ctx, n.downloadTimeout)
		media, err := raw.DownloadMedia(dlCtx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("download media from %s: %w", from, err)
		}
		if media == nil {
			return nil, fmt.Errorf("download media from %s: empty result", from)
		}
		return domain.NewMediaEnvelope(h, *media), nil
	}

	var text *string
	if body, ok := raw.Body(); ok {
		text = &body
	}
	return domain.NewTextEnvelope(h, text), nil
}

func (n *Normalizer) lookupSenderName(ctx context.Context, raw domain.RawMessage, author string) *string {
	var (
		contact domain.Contact
		err     error
	)
	if author != "" {
		contact, err = raw.ContactByID(ctx, author)
	} else {
		contact, err = raw.Contact(ctx)
	}
	if err != nil {
		n.logger.Debug("contact lookup failed", "from", raw.From(), "err", err)
		return nil
	}
	return optional(contact.DisplayName())
}

// SenderNumber returns the part before the first "@" of author, or of from when
// author is empty. It returns nil when that identifier is empty.
func SenderNumber(author, from string) *string {
	id := author
	if id == "" {
		id = from
	}
	if id == "" {
		return nil
	}
	number, _, _ := strings.Cut(id, "@")
	return &number
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
