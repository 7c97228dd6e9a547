package main

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"

	"github.com/spf13/cobra"

	"warelay/internal/config"
)

const launchdLabel = "com.warelay.relay"

// serviceEnv lists the variables carried into a launchd agent, which cannot
// read an environment file.
var serviceEnv = []string{
	config.EnvIngestURL,
	config.EnvQRURL,
	config.EnvSecret,
	config.EnvGroupWhitelist,
	config.EnvHeadless,
	config.EnvBrowserPath,
	config.EnvSessionDB,
	config.EnvStatusAddr,
	config.EnvLogLevel,
	config.EnvDeliveryTimeout,
}

// serviceUnit is what the service templates render.
type serviceUnit struct {
	Label  string
	Exec   string
	Config string
	Dir    string // ~/.warelay: logs and the systemd env file live here
	Env    []envVar
}

type envVar struct {
	Key, Value string
}

// serviceManager describes how one init system runs warelay.
type serviceManager struct {
	name  string
	path  string
	tmpl  *template.Template
	perm  fs.FileMode
	start string
	stop  string
}

func (m *serviceManager) render(w io.Writer, u serviceUnit) error {
	return m.tmpl.Execute(w, u)
}

func serviceFor(goos, home string) (*serviceManager, error) {
	switch goos {
	case "darwin":
		path := filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")
		return &serviceManager{
			name:  "launchd",
			path:  path,
			tmpl:  launchdTemplate,
			perm:  0o600, // the agent may carry HMAC_SECRET
			start: "launchctl load -w " + path,
			stop:  "launchctl unload " + path,
		}, nil
	case "linux":
		return &serviceManager{
			name:  "systemd",
			path:  filepath.Join(home, ".config", "systemd", "user", "warelay.service"),
			tmpl:  systemdTemplate,
			perm:  0o644,
			start: "systemctl --user daemon-reload && systemctl --user enable --now warelay",
			stop:  "systemctl --user disable --now warelay",
		}, nil
	default:
		return nil, fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", goos)
	}
}

func newServiceUnit(execPath, cfgPath string, lookup func(string) (string, bool)) serviceUnit {
	u := serviceUnit{
		Label:  launchdLabel,
		Exec:   execPath,
		Config: cfgPath,
		Dir:    config.DefaultConfigDir(),
	}
	for _, key := range serviceEnv {
		if v, ok := lookup(key); ok {
			u.Env = append(u.Env, envVar{Key: key, Value: v})
		}
	}
	return u
}

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the background service (launchd/systemd)",
	}
	cmd.AddCommand(installDaemonCmd(), uninstallDaemonCmd(), statusDaemonCmd())
	return cmd
}

func currentService() (*serviceManager, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("home directory: %w", err)
	}
	return serviceFor(runtime.GOOS, home)
}

func installDaemonCmd() *cobra.Command {
	var printOnly bool
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install warelay as a user service",
		Long: `Generates a service file that runs "warelay run" on login and restarts it on failure.

On Linux the unit reads ~/.warelay/env, so the HMAC secret can stay out of the unit
file. On macOS the relay's environment variables set at install time are copied
into the agent.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := currentService()
			if err != nil {
				return err
			}
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			cfgPath, err := filepath.Abs(resolveConfigPath())
			if err != nil {
				return err
			}
			unit := newServiceUnit(execPath, cfgPath, os.LookupEnv)

			if printOnly {
				return mgr.render(cmd.OutOrStdout(), unit)
			}
			if err := installService(mgr, unit); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Daemon installed (%s): %s\n", mgr.name, mgr.path)
			fmt.Fprintf(out, "To start: %s\n", mgr.start)
			fmt.Fprintf(out, "To stop:  %s\n", mgr.stop)
			return nil
		},
	}
	cmd.Flags().BoolVar(&printOnly, "print", false, "print the service file instead of installing it")
	return cmd
}

func installService(mgr *serviceManager, unit serviceUnit) error {
	var buf bytes.Buffer
	if err := mgr.render(&buf, unit); err != nil {
		return fmt.Errorf("render %s service: %w", mgr.name, err)
	}
	if err := os.MkdirAll(filepath.Join(unit.Dir, "logs"), 0o700); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(mgr.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(mgr.path, buf.Bytes(), mgr.perm); err != nil {
		return fmt.Errorf("write %s: %w", mgr.path, err)
	}
	// WriteFile keeps the mode of an existing file.
	return os.Chmod(mgr.path, mgr.perm)
}

func uninstallDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the warelay user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := currentService()
			if err != nil {
				return err
			}
			if err := os.Remove(mgr.path); err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return fmt.Errorf("no %s service installed at %s", mgr.name, mgr.path)
				}
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Daemon uninstalled: %s\n", mgr.path)
			fmt.Fprintf(cmd.OutOrStdout(), "If it is still running: %s\n", mgr.stop)
			return nil
		},
	}
}

func statusDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the service file is installed and current",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := currentService()
			if err != nil {
				return err
			}
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), serviceStatus(mgr, execPath))
			return nil
		},
	}
}

func serviceStatus(mgr *serviceManager, execPath string) string {
	data, err := os.ReadFile(mgr.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Sprintf("not installed (%s: %s)", mgr.name, mgr.path)
	case err != nil:
		return fmt.Sprintf("unreadable: %v", err)
	case !strings.Contains(string(data), execPath):
		return fmt.Sprintf("installed at %s but runs a different binary; reinstall to update", mgr.path)
	default:
		return fmt.Sprintf("installed (%s: %s)", mgr.name, mgr.path)
	}
}

func xmlEscape(s string) (string, error) {
	var sb strings.Builder
	if err := xml.EscapeText(&sb, []byte(s)); err != nil {
		return "", err
	}
	return sb.String(), nil
}

var launchdTemplate = template.Must(template.New("launchd").Funcs(template.FuncMap{"xml": xmlEscape}).Parse(
	`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{xml .Label}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{xml .Exec}}</string>
        <string>run</string>
        <string>--config</string>
        <string>{{xml .Config}}</string>
    </array>
{{- if .Env}}
    <key>EnvironmentVariables</key>
    <dict>
{{- range .Env}}
        <key>{{xml .Key}}</key>
        <string>{{xml .Value}}</string>
{{- end}}
    </dict>
{{- end}}
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <dict>
        <key>SuccessfulExit</key>
        <false/>
    </dict>
    <key>ThrottleInterval</key>
    <integer>5</integer>
    <key>StandardOutPath</key>
    <string>{{xml .Dir}}/logs/warelay.log</string>
    <key>StandardErrorPath</key>
    <string>{{xml .Dir}}/logs/warelay-error.log</string>
</dict>
</plist>
`))

var systemdTemplate = template.Must(template.New("systemd").Parse(`[Unit]
Description=warelay WhatsApp event relay
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
EnvironmentFile=-{{.Dir}}/env
ExecStart="{{.Exec}}" run --config "{{.Config}}"
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`))
