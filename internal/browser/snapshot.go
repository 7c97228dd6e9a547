// Package browser renders the status server's QR page with Chrome so the
// pairing code can be captured without opening a browser by hand.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/chromedp/chromedp"
)

const defaultSnapshotTimeout = 30 * time.Second

// Snapshotter drives a Chrome instance.
type Snapshotter struct {
	execPath string
	headless bool
	timeout  time.Duration
	logger   *slog.Logger
}

type SnapshotConfig struct {
	ExecPath string // Chrome binary; empty: chromedp's lookup
	Headless bool   // false opens a visible window
	Timeout  time.Duration
	Logger   *slog.Logger
}

func NewSnapshotter(cfg SnapshotConfig) *Snapshotter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSnapshotTimeout
	}
	return &Snapshotter{
		execPath: cfg.ExecPath,
		headless: cfg.Headless,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
	}
}

// AllocatorOptions returns the chromedp options for this snapshotter.
func (s *Snapshotter) AllocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(480, 520),
		chromedp.Flag("disable-extensions", true),
	)
	if s.execPath != "" {
		opts = append(opts, chromedp.ExecPath(s.execPath))
	}
	if s.headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	return opts
}

// NewContext creates a chromedp context. The caller MUST call cancel() when done.
func (s *Snapshotter) NewContext(parentCtx context.Context) (context.Context, context.CancelFunc) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(parentCtx, s.AllocatorOptions()...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)

	cancelAll := func() {
		taskCancel()
		allocCancel()
	}
	return taskCtx, cancelAll
}

// Capture loads url, waits until readySelector is visible and returns a PNG of
// the element matched by clipSelector.
func (s *Snapshotter) Capture(ctx context.Context, url, readySelector, clipSelector string) ([]byte, error) {
	taskCtx, cancel := s.NewContext(ctx)
	defer cancel()

	taskCtx, timeoutCancel := context.WithTimeout(taskCtx, s.timeout)
	defer timeoutCancel()

	s.logger.Debug("capturing page", "url", url, "headless", s.headless)

	var png []byte
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(url),
		chromedp.WaitVisible(readySelector, chromedp.ByQuery),
		chromedp.Sleep(300*time.Millisecond),
		chromedp.Screenshot(clipSelector, &png, chromedp.NodeVisible, chromedp.ByQuery),
	)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("page %s not ready within %s", url, s.timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("capture %s: %w", url, err)
	}
	return png, nil
}

// CaptureToFile writes Capture's result to path.
func (s *Snapshotter) CaptureToFile(ctx context.Context, url, readySelector, clipSelector, path string) error {
	png, err := s.Capture(ctx, url, readySelector, clipSelector)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	s.logger.Info("snapshot saved", "path", path, "bytes", len(png))
	return nil
}
