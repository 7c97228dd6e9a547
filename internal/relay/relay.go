package relay

import (
	"context"
	"log/slog"
	"time"

	"warelay/internal/domain"
	"warelay/internal/metrics"
)

// Relay runs one session event through normalize, filter and dispatch.
type Relay struct {
	ingestURL  string
	qrURL      string
	secret     string
	whitelist  []string
	normalizer *Normalizer
	dispatcher *Dispatcher
	logger     *slog.Logger
}

type Config struct {
	IngestURL string
	QRURL     string
	Secret    string   // empty: deliveries are unsigned
	Whitelist []string // group display names; empty: all groups pass

	DownloadTimeout time.Duration // bounds a media download; default DefaultDeliveryTimeout

	Dispatcher *Dispatcher // default: NewDispatcher with a pooled client
	Logger     *slog.Logger
}

func New(cfg Config) *Relay {
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = NewDispatcher(DispatcherConfig{Logger: cfg.Logger})
	}
	normalizer := NewNormalizer(cfg.Logger)
	if cfg.DownloadTimeout > 0 {
		normalizer.downloadTimeout = cfg.DownloadTimeout
	}
	return &Relay{
		ingestURL:  cfg.IngestURL,
		qrURL:      cfg.QRURL,
		secret:     cfg.Secret,
		whitelist:  cfg.Whitelist,
		normalizer: normalizer,
		dispatcher: cfg.Dispatcher,
		logger:     cfg.Logger,
	}
}

// Handle processes ev to completion. Failures are logged here and go no further.
func (r *Relay) Handle(ctx context.Context, ev domain.SessionEvent) {
	kind := domain.Kind(ev)
	metrics.Event(kind).Inc()

	env, err := r.normalizer.Normalize(ctx, ev)
	if err != nil {
		metrics.EventsDropped.Inc()
		r.logger.Error("event dropped", "kind", kind, "err", err)
		return
	}

	switch e := env.(type) {
	case *domain.MessageEnvelope:
		if !ShouldForward(e, r.whitelist) {
			metrics.MessagesFiltered.Inc()
			r.logger.Debug("group not whitelisted", "group", deref(e.GroupName))
			return
		}
		r.logger.Info("forwarding message",
			"from", e.From,
			"type", e.Type,
			"is_group", e.IsGroup,
		)
		r.dispatcher.Deliver(ctx, e, r.ingestURL, r.secret)
	case domain.QrEnvelope:
		r.logger.Info("publishing qr state", "cleared", e.QR == nil)
		r.dispatcher.Deliver(ctx, e, r.qrURL, r.secret)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
