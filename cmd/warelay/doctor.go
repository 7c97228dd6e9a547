package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"warelay/internal/config"
	"warelay/internal/session"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your warelay installation",
		Long: `Verifies that the configuration resolves, the sinks are reachable, and the
session store can be read. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("warelay doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file (optional)
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err != nil {
				printWarn("Config file", fmt.Sprintf("not found at %s, using defaults + environment", cfgPath))
				warned++
			} else {
				printPass("Config file", cfgPath)
				passed++
			}

			// 2. Config resolves and validates
			cfg, err := config.Resolve(configPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return fmt.Errorf("config invalid")
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Signing
			if cfg.Sinks.Secret == "" {
				printWarn("Signing", "no shared secret, deliveries are unsigned")
				warned++
			} else {
				printPass("Signing", "HMAC-SHA256")
				passed++
			}

			// 4. Sinks reachable
			for _, sink := range []struct{ name, url string }{
				{"Ingest sink", cfg.Sinks.IngestURL},
				{"QR sink", cfg.Sinks.QRURL},
			} {
				if err := checkReachable(sink.url); err != nil {
					printWarn(sink.name, err.Error())
					warned++
				} else {
					printPass(sink.name, sink.url)
					passed++
				}
			}

			// 5. Session store and paired device, read-only
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			jid, paired, err := session.InspectStore(ctx, cfg.Session.DBPath, logger)
			switch {
			case errors.Is(err, session.ErrNoStore):
				printWarn("Session store", cfg.Session.DBPath+" not created yet, `warelay run` creates it")
				warned++
			case err != nil:
				printFail("Session store", err.Error())
				failed++
			case !paired:
				printPass("Session store", cfg.Session.DBPath)
				printWarn("Paired device", "none yet, `warelay run` will publish a QR to scan")
				passed++
				warned++
			default:
				printPass("Session store", cfg.Session.DBPath)
				printPass("Paired device", jid)
				passed += 2
			}

			// 6. Status port
			if cfg.Status.Enabled {
				if err := checkListen(cfg.Status.Addr); err != nil {
					printWarn("Status server", fmt.Sprintf("%s may be in use: %v", cfg.Status.Addr, err))
					warned++
				} else {
					printPass("Status server", cfg.Status.Addr+" available")
					passed++
				}
			}

			// 7. Chrome for snapshots
			if cfg.Session.BrowserPath != "" {
				if _, err := os.Stat(cfg.Session.BrowserPath); err != nil {
					printWarn("Browser", fmt.Sprintf("not found: %s", cfg.Session.BrowserPath))
					warned++
				} else {
					printPass("Browser", cfg.Session.BrowserPath)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running warelay.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nwarelay should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! warelay is ready to run.\n")
			}
			return nil
		},
	}
}

// checkReachable dials the host of rawURL. It says nothing about the HTTP
// endpoint itself.
func checkReachable(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	host := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}
	conn, err := net.DialTimeout("tcp", host, 3*time.Second)
	if err != nil {
		return fmt.Errorf("unreachable: %w", err)
	}
	conn.Close()
	return nil
}

func checkListen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
