package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"warelay/internal/domain"
	"warelay/internal/metrics"
)

// DeliveryIDHeader identifies one delivery attempt in both sides' logs.
const DeliveryIDHeader = "X-Delivery-Id"

const maxErrorBody = 512

// Dispatcher posts envelopes to sinks. Every failure ends at Deliver: it is
// logged and counted, never returned, and never retried.
type Dispatcher struct {
	client *http.Client
	logger *slog.Logger
}

type DispatcherConfig struct {
	Client *http.Client // default: NewHTTPClient(DefaultDeliveryTimeout)
	Logger *slog.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Client == nil {
		cfg.Client = NewHTTPClient(DefaultDeliveryTimeout)
	}
	return &Dispatcher{client: cfg.Client, logger: cfg.Logger}
}

// Deliver makes at most one POST of env to url, signed with secret when set.
func (d *Dispatcher) Deliver(ctx context.Context, env domain.Envelope, url, secret string) {
	sink := sinkName(env)
	id := uuid.NewString()
	start := time.Now()

	status, err := d.post(ctx, env, url, secret, id)
	metrics.DeliveryLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Delivery(sink, "failed").Inc()
		d.logger.Error("delivery failed",
			"sink", sink,
			"url", url,
			"delivery_id", id,
			"err", err,
		)
		return
	}

	metrics.Delivery(sink, "ok").Inc()
	d.logger.Debug("delivered",
		"sink", sink,
		"delivery_id", id,
		"status", status,
		"duration", time.Since(start),
	)
}

func (d *Dispatcher) post(ctx context.Context, env domain.Envelope, url, secret, id string) (int, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("marshal envelope: %w", err)
	}
	signed := SignRequest(string(body), secret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	for k, v := range signed.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set(DeliveryIDHeader, id)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp.StatusCode, fmt.Errorf("sink responded %d: %s", resp.StatusCode, string(respBody))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func sinkName(env domain.Envelope) string {
	if _, ok := env.(domain.QrEnvelope); ok {
		return "qr"
	}
	return "ingest"
}
