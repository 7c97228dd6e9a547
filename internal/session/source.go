// Package session runs the WhatsApp session the relay observes and reports its
// lifecycle and message events as domain.SessionEvent values.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"warelay/internal/domain"
	"warelay/internal/metrics"
)

const (
	defaultRetryDelay = 5 * time.Second
	lidLookupTimeout  = 5 * time.Second
)

var errLoggedOut = errors.New("logged out from the phone")

// client is the part of *whatsmeow.Client the source drives.
type client interface {
	lookups
	AddEventHandler(handler whatsmeow.EventHandler) uint32
	GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error)
	Connect() error
	Disconnect()
	Paired() bool
}

// waClient adapts *whatsmeow.Client to client.
type waClient struct {
	*whatsmeow.Client
}

func (c waClient) GetContact(ctx context.Context, jid types.JID) (types.ContactInfo, error) {
	return c.Store.Contacts.GetContact(ctx, jid)
}

func (c waClient) PNForLID(ctx context.Context, lid types.JID) (types.JID, error) {
	return c.Store.LIDs.GetPNForLID(ctx, lid)
}

func (c waClient) Paired() bool { return c.Store.ID != nil }

// Source is a domain.EventSource backed by a whatsmeow client. It keeps the
// session alive until Stop: expired pairing codes are replaced with new ones,
// and a logout from the phone starts pairing a fresh device.
type Source struct {
	newClient  func(ctx context.Context) (client, error)
	retryDelay time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	handle  func(domain.SessionEvent)
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

var _ domain.EventSource = (*Source)(nil)

type SourceConfig struct {
	Container  *sqlstore.Container
	RetryDelay time.Duration // pause before reconnecting after a failure; default 5s
	Logger     *slog.Logger
}

func NewSource(cfg SourceConfig) *Source {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	s := &Source{retryDelay: cfg.RetryDelay, logger: cfg.Logger}
	s.newClient = func(ctx context.Context) (client, error) {
		// After a logout the store holds no device and a new one is returned.
		device, err := cfg.Container.GetFirstDevice(ctx)
		if err != nil {
			return nil, fmt.Errorf("load device: %w", err)
		}
		return waClient{whatsmeow.NewClient(device, NewSlogLogger(s.logger, "whatsmeow"))}, nil
	}
	return s
}

// Start loads the device and runs the session in the background until Stop or
// until ctx ends. Only a failure to load the device is returned; connection
// failures are logged and retried.
func (s *Source) Start(ctx context.Context, handle func(domain.SessionEvent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("session already started")
	}

	c, err := s.newClient(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.handle = handle
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = true
	go s.run(runCtx, c)
	return nil
}

// Stop ends the session and waits for the client to disconnect.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.cancel()
	<-s.done
	s.started = false
	s.logger.Info("session disconnected")
	return nil
}

func (s *Source) run(ctx context.Context, c client) {
	defer close(s.done)
	for {
		if c != nil {
			err := s.session(ctx, c)
			c.Disconnect()
			metrics.SessionConnected.Set(0)
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, errLoggedOut) {
				s.logger.Warn("session logged out, pairing a new device")
			} else {
				s.logger.Error("session failed, retrying", "err", err, "delay", s.retryDelay)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.retryDelay):
		}

		var err error
		if c, err = s.newClient(ctx); err != nil {
			s.logger.Error("session reload failed", "err", err)
			c = nil
		}
	}
}

// session connects c, pairing it first if needed, and blocks until ctx ends or
// the device is logged out.
func (s *Source) session(ctx context.Context, c client) error {
	loggedOut := make(chan struct{}, 1)
	c.AddEventHandler(func(evt any) { s.onEvent(ctx, c, loggedOut, evt) })

	if c.Paired() {
		if err := c.Connect(); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		s.logger.Info("session connecting")
	} else if err := s.pair(ctx, c); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return nil
	case <-loggedOut:
		return errLoggedOut
	}
}

// pair publishes pairing codes until one is scanned. whatsmeow closes the QR
// channel and disconnects when its codes run out; a new round is then started.
func (s *Source) pair(ctx context.Context, c client) error {
	for {
		qrChan, err := c.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("qr channel: %w", err)
		}
		if err := c.Connect(); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		s.logger.Info("session not paired, waiting for qr scan")

		last := s.watchQR(qrChan)
		switch {
		case last.Event == whatsmeow.QRChannelSuccess.Event:
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case last.Event == whatsmeow.QRChannelTimeout.Event:
			s.logger.Warn("pairing codes expired, issuing new ones")
			c.Disconnect()
		case last.Event == whatsmeow.QRChannelEventError:
			return fmt.Errorf("pairing: %w", last.Error)
		default:
			return fmt.Errorf("pairing ended: %q", last.Event)
		}
	}
}

// watchQR reports each code and returns the item that ended the channel, or
// the zero item when it closed without one.
func (s *Source) watchQR(qrChan <-chan whatsmeow.QRChannelItem) whatsmeow.QRChannelItem {
	var last whatsmeow.QRChannelItem
	for item := range qrChan {
		if item.Event == whatsmeow.QRChannelEventCode {
			s.handle(domain.QrIssued{Code: item.Code})
			continue
		}
		last = item
	}
	return last
}

// onEvent runs on whatsmeow's receive loop.
func (s *Source) onEvent(ctx context.Context, c client, loggedOut chan<- struct{}, evt any) {
	switch e := evt.(type) {
	case *events.Connected:
		metrics.SessionConnected.Set(1)
		s.handle(domain.SessionReady{})
	case *events.Disconnected:
		metrics.SessionConnected.Set(0)
		s.logger.Warn("session connection lost")
	case *events.PairSuccess:
		s.logger.Info("device paired", "jid", e.ID.String(), "platform", e.Platform)
	case *events.LoggedOut:
		metrics.SessionConnected.Set(0)
		s.logger.Error("session logged out, a new qr scan is required", "reason", e.Reason)
		select {
		case loggedOut <- struct{}{}:
		default:
		}
	case *events.Message:
		s.onMessage(ctx, c, e)
	}
}

func (s *Source) onMessage(ctx context.Context, c client, evt *events.Message) {
	if evt.Info.IsFromMe {
		return
	}
	lookupCtx, cancel := context.WithTimeout(ctx, lidLookupTimeout)
	defer cancel()
	msg, ok := newMessage(lookupCtx, evt, c)
	if !ok {
		s.logger.Debug("ignoring message without content", "id", evt.Info.ID)
		return
	}
	s.handle(domain.MessageReceived{Raw: msg})
}
