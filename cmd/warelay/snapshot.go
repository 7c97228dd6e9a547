package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"warelay/internal/browser"
	"warelay/internal/status"

	"github.com/spf13/cobra"
)

func snapshotCmd() *cobra.Command {
	var (
		output string
		url    string
	)
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Save the current pairing QR (or connected badge) as a PNG",
		Long: `Renders the /qr/view page of a running relay's status server in Chrome and
saves a screenshot. The relay must run with the status server enabled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if url == "" {
				if !cfg.Status.Enabled {
					return fmt.Errorf("status server is disabled; set status.enabled or pass --url")
				}
				url = "http://" + cfg.Status.Addr + "/qr/view"
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			snap := browser.NewSnapshotter(browser.SnapshotConfig{
				ExecPath: cfg.Session.BrowserPath,
				Headless: cfg.Session.Headless,
				Logger:   logger,
			})
			if err := snap.CaptureToFile(ctx, url, status.QRReadySelector, "#qr", output); err != nil {
				return err
			}
			fmt.Println(output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "qr.png", "PNG file to write")
	cmd.Flags().StringVar(&url, "url", "", "page to capture (default: the status server's /qr/view)")
	return cmd
}
