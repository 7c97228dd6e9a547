package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for warelay. It is resolved once at startup
// and treated as read-only afterwards.
type Config struct {
	Sinks   SinksConfig   `yaml:"sinks"`
	Filter  FilterConfig  `yaml:"filter"`
	Session SessionConfig `yaml:"session"`
	Status  StatusConfig  `yaml:"status"`
	Log     LogConfig     `yaml:"log"`
}

type SinksConfig struct {
	IngestURL      string `yaml:"ingestUrl"`
	QRURL          string `yaml:"qrUrl,omitempty"` // default: sibling "qr" path of ingestUrl
	Secret         string `yaml:"secret,omitempty"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

// FilterConfig lists the group display names whose messages are forwarded.
// An empty list forwards every group.
type FilterConfig struct {
	Groups []string `yaml:"groups"`
}

type SessionConfig struct {
	DBPath      string `yaml:"dbPath"`
	Headless    bool   `yaml:"headless"`
	BrowserPath string `yaml:"browserPath,omitempty"` // Chrome binary for `warelay snapshot`
}

type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" | "json"
}

// Environment variables read by ApplyEnv.
const (
	EnvIngestURL       = "INGEST_URL"
	EnvQRURL           = "QR_URL"
	EnvSecret          = "HMAC_SECRET"
	EnvGroupWhitelist  = "GROUP_WHITELIST"
	EnvHeadless        = "HEADLESS"
	EnvBrowserPath     = "CHROME_PATH"
	EnvSessionDB       = "SESSION_DB"
	EnvStatusAddr      = "STATUS_ADDR"
	EnvLogLevel        = "LOG_LEVEL"
	EnvDeliveryTimeout = "DELIVERY_TIMEOUT"
)

// DefaultConfigDir returns the default config directory (~/.warelay).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".warelay"
	}
	return filepath.Join(home, ".warelay")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Resolve builds the runtime config: defaults, then the YAML file, then the
// environment. An empty path means the default file, which may be absent.
func Resolve(path string) (*Config, error) {
	var (
		cfg *Config
		err error
	)
	if path == "" {
		cfg, err = Load(DefaultConfigPath())
		if errors.Is(err, os.ErrNotExist) {
			cfg, err = Defaults(), nil
		}
	} else {
		cfg, err = Load(path)
	}
	if err != nil {
		return nil, err
	}

	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	Finalize(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Load reads a YAML config file over the defaults. It does not apply the
// environment overrides or validate.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with any of the Env* variables that are set and non-empty.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(name)
		if !ok || strings.TrimSpace(v) == "" {
			return "", false
		}
		return strings.TrimSpace(v), true
	}

	if v, ok := get(EnvIngestURL); ok {
		cfg.Sinks.IngestURL = v
	}
	if v, ok := get(EnvQRURL); ok {
		cfg.Sinks.QRURL = v
	}
	if v, ok := lookup(EnvSecret); ok && v != "" {
		cfg.Sinks.Secret = v
	}
	if v, ok := lookup(EnvGroupWhitelist); ok {
		cfg.Filter.Groups = ParseWhitelist(v)
	}
	if v, ok := get(EnvHeadless); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvHeadless, err)
		}
		cfg.Session.Headless = b
	}
	if v, ok := get(EnvBrowserPath); ok {
		cfg.Session.BrowserPath = v
	}
	if v, ok := get(EnvSessionDB); ok {
		cfg.Session.DBPath = v
	}
	if v, ok := get(EnvStatusAddr); ok {
		cfg.Status.Addr = v
		cfg.Status.Enabled = true
	}
	if v, ok := get(EnvLogLevel); ok {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v, ok := get(EnvDeliveryTimeout); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDeliveryTimeout, err)
		}
		cfg.Sinks.TimeoutSeconds = n
	}
	return nil
}

// Finalize fills derived values: the QR sink URL and expanded paths.
func Finalize(cfg *Config) {
	if cfg.Sinks.QRURL == "" {
		cfg.Sinks.QRURL = SiblingURL(cfg.Sinks.IngestURL, "qr")
	}
	cfg.Session.DBPath = ExpandPath(cfg.Session.DBPath)
	groups := cfg.Filter.Groups[:0]
	for _, g := range cfg.Filter.Groups {
		if g = strings.TrimSpace(g); g != "" {
			groups = append(groups, g)
		}
	}
	if len(groups) == 0 {
		groups = nil
	}
	cfg.Filter.Groups = groups
}

// ParseWhitelist splits a comma-separated list, trimming entries and dropping
// empty ones. Names are otherwise kept verbatim.
func ParseWhitelist(s string) []string {
	var out []string
	for _, g := range strings.Split(s, ",") {
		if g = strings.TrimSpace(g); g != "" {
			out = append(out, g)
		}
	}
	return out
}

// SiblingURL replaces the last path segment of base with name, dropping any
// query or fragment. It returns "" when base does not parse.
func SiblingURL(base, name string) string {
	u, err := url.Parse(base)
	if err != nil || base == "" {
		return ""
	}
	dir := path.Dir(strings.TrimSuffix(u.Path, "/"))
	if dir == "." {
		dir = "/"
	}
	u.Path = path.Join(dir, name)
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if err := checkSinkURL(cfg.Sinks.IngestURL); err != nil {
		errs = append(errs, "sinks.ingestUrl "+err.Error())
	}
	if err := checkSinkURL(cfg.Sinks.QRURL); err != nil {
		errs = append(errs, "sinks.qrUrl "+err.Error())
	}
	if cfg.Sinks.TimeoutSeconds < 1 || cfg.Sinks.TimeoutSeconds > 300 {
		errs = append(errs, "sinks.timeoutSeconds must be between 1 and 300")
	}
	if cfg.Session.DBPath == "" {
		errs = append(errs, "session.dbPath is required")
	}
	if cfg.Status.Enabled && cfg.Status.Addr == "" {
		errs = append(errs, "status.addr is required when status is enabled")
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "log.level must be one of: debug, info, warn, error")
	}
	switch cfg.Log.Format {
	case "text", "json":
		// valid
	default:
		errs = append(errs, "log.format must be one of: text, json")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func checkSinkURL(raw string) error {
	if raw == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("must include a host")
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
