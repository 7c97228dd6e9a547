package config

import (
	"os"
	"path/filepath"
	"testing"
)

func finalized() *Config {
	cfg := Defaults()
	Finalize(cfg)
	return cfg
}

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(finalized()); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_MissingIngestURL(t *testing.T) {
	cfg := finalized()
	cfg.Sinks.IngestURL = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for empty ingest URL")
	}
}

func TestValidate_BadScheme(t *testing.T) {
	cfg := finalized()
	cfg.Sinks.QRURL = "ftp://example.com/qr"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for ftp scheme")
	}
}

func TestValidate_RelativeURL(t *testing.T) {
	cfg := finalized()
	cfg.Sinks.IngestURL = "/ingesta"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for URL without host")
	}
}

func TestValidate_Timeout_Boundary(t *testing.T) {
	cfg := finalized()

	cfg.Sinks.TimeoutSeconds = 1
	if err := Validate(cfg); err != nil {
		t.Fatalf("timeout=1 should be valid: %v", err)
	}
	cfg.Sinks.TimeoutSeconds = 300
	if err := Validate(cfg); err != nil {
		t.Fatalf("timeout=300 should be valid: %v", err)
	}
	cfg.Sinks.TimeoutSeconds = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for timeout=0")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := finalized()
	cfg.Log.Level = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestValidate_StatusWithoutAddr(t *testing.T) {
	cfg := finalized()
	cfg.Status.Enabled = true
	cfg.Status.Addr = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for enabled status without addr")
	}
}

// --- Finalize / SiblingURL ---

func TestFinalize_DerivesQRURL(t *testing.T) {
	cfg := finalized()
	if cfg.Sinks.QRURL != "http://localhost:8000/qr" {
		t.Fatalf("expected sibling qr URL, got %q", cfg.Sinks.QRURL)
	}
}

func TestFinalize_KeepsExplicitQRURL(t *testing.T) {
	cfg := Defaults()
	cfg.Sinks.QRURL = "https://qr.example.com/publish"
	Finalize(cfg)
	if cfg.Sinks.QRURL != "https://qr.example.com/publish" {
		t.Fatalf("explicit qr URL was replaced: %q", cfg.Sinks.QRURL)
	}
}

func TestFinalize_TrimsGroups(t *testing.T) {
	cfg := Defaults()
	cfg.Filter.Groups = []string{" Familia ", "", "Trabajo, Ventas"}
	Finalize(cfg)
	if len(cfg.Filter.Groups) != 2 {
		t.Fatalf("expected 2 groups, got %v", cfg.Filter.Groups)
	}
	if cfg.Filter.Groups[0] != "Familia" || cfg.Filter.Groups[1] != "Trabajo, Ventas" {
		t.Errorf("unexpected groups: %q", cfg.Filter.Groups)
	}
}

func TestSiblingURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8000/ingesta":        "http://localhost:8000/qr",
		"http://localhost:8000/api/v1/ingest/": "http://localhost:8000/api/v1/qr",
		"https://sink.example.com":             "https://sink.example.com/qr",
		"https://sink.example.com/in?x=1":      "https://sink.example.com/qr",
	}
	for in, want := range cases {
		if got := SiblingURL(in, "qr"); got != want {
			t.Errorf("SiblingURL(%q) = %q, want %q", in, got, want)
		}
	}
}

// --- ApplyEnv ---

func TestApplyEnv_Overrides(t *testing.T) {
	cfg := Defaults()
	err := ApplyEnv(cfg, envMap(map[string]string{
		EnvIngestURL:       "https://sink.example.com/ingesta",
		EnvSecret:          "s3cret",
		EnvGroupWhitelist:  "Familia, Trabajo ,,",
		EnvHeadless:        "false",
		EnvBrowserPath:     "/usr/bin/chromium",
		EnvDeliveryTimeout: "30",
		EnvStatusAddr:      ":9000",
		EnvLogLevel:        "DEBUG",
	}))
	if err != nil {
		t.Fatal(err)
	}
	Finalize(cfg)

	if cfg.Sinks.IngestURL != "https://sink.example.com/ingesta" {
		t.Errorf("ingest URL not applied: %q", cfg.Sinks.IngestURL)
	}
	if cfg.Sinks.QRURL != "https://sink.example.com/qr" {
		t.Errorf("qr URL should follow ingest URL, got %q", cfg.Sinks.QRURL)
	}
	if cfg.Sinks.Secret != "s3cret" {
		t.Errorf("secret not applied")
	}
	if len(cfg.Filter.Groups) != 2 || cfg.Filter.Groups[0] != "Familia" || cfg.Filter.Groups[1] != "Trabajo" {
		t.Errorf("unexpected whitelist: %q", cfg.Filter.Groups)
	}
	if cfg.Session.Headless {
		t.Error("headless should be false")
	}
	if cfg.Session.BrowserPath != "/usr/bin/chromium" {
		t.Errorf("browser path not applied: %q", cfg.Session.BrowserPath)
	}
	if cfg.Sinks.TimeoutSeconds != 30 {
		t.Errorf("expected timeout 30, got %d", cfg.Sinks.TimeoutSeconds)
	}
	if !cfg.Status.Enabled || cfg.Status.Addr != ":9000" {
		t.Errorf("status addr should enable the server, got %+v", cfg.Status)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected lowercased level, got %q", cfg.Log.Level)
	}
}

func TestApplyEnv_EmptyValuesIgnored(t *testing.T) {
	cfg := Defaults()
	if err := ApplyEnv(cfg, envMap(map[string]string{EnvIngestURL: "  ", EnvSecret: ""})); err != nil {
		t.Fatal(err)
	}
	if cfg.Sinks.IngestURL != "http://localhost:8000/ingesta" {
		t.Errorf("blank env should keep default, got %q", cfg.Sinks.IngestURL)
	}
	if cfg.Sinks.Secret != "" {
		t.Error("empty secret should leave delivery unsigned")
	}
}

func TestApplyEnv_InvalidHeadless(t *testing.T) {
	if err := ApplyEnv(Defaults(), envMap(map[string]string{EnvHeadless: "maybe"})); err == nil {
		t.Fatal("expected error for non-boolean HEADLESS")
	}
}

func TestApplyEnv_InvalidTimeout(t *testing.T) {
	if err := ApplyEnv(Defaults(), envMap(map[string]string{EnvDeliveryTimeout: "soon"})); err == nil {
		t.Fatal("expected error for non-numeric DELIVERY_TIMEOUT")
	}
}

func TestParseWhitelist(t *testing.T) {
	if got := ParseWhitelist(""); len(got) != 0 {
		t.Errorf("expected empty whitelist, got %q", got)
	}
	got := ParseWhitelist("Familia,familia, Trabajo")
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %q", got)
	}
	if got[0] != "Familia" || got[1] != "familia" {
		t.Errorf("names must be kept case-sensitive: %q", got)
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")

	cfg := Defaults()
	cfg.Sinks.IngestURL = "https://sink.example.com/ingesta"
	cfg.Filter.Groups = []string{"Familia"}
	if err := Save(cfgFile, cfg); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(cfgFile)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Sinks.IngestURL != cfg.Sinks.IngestURL {
		t.Errorf("expected %q, got %q", cfg.Sinks.IngestURL, loaded.Sinks.IngestURL)
	}
	if len(loaded.Filter.Groups) != 1 || loaded.Filter.Groups[0] != "Familia" {
		t.Errorf("groups lost in round trip: %q", loaded.Filter.Groups)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgFile, []byte("sinks: [not: a map"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(cfgFile); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	content := "filter:\n  groups: [Familia]\n"
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Sinks.TimeoutSeconds != 15 {
		t.Errorf("default timeout lost, got %d", cfg.Sinks.TimeoutSeconds)
	}
	if !cfg.Session.Headless {
		t.Error("default headless lost")
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	t.Setenv("WARELAY_TEST_SINK", "https://env.example.com/ingesta")
	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	content := "sinks:\n  ingestUrl: ${WARELAY_TEST_SINK}\n  secret: ${WARELAY_TEST_UNSET:-fallback}\n"
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Sinks.IngestURL != "https://env.example.com/ingesta" {
		t.Errorf("expected env substitution, got %q", cfg.Sinks.IngestURL)
	}
	if cfg.Sinks.Secret != "fallback" {
		t.Errorf("expected default substitution, got %q", cfg.Sinks.Secret)
	}
}

func TestResolve_ExplicitPathValidates(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgFile, []byte("sinks:\n  timeoutSeconds: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvDeliveryTimeout, "")
	if _, err := Resolve(cfgFile); err == nil {
		t.Fatal("expected validation error for timeoutSeconds=0")
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_SimpleSubstitution(t *testing.T) {
	t.Setenv("WARELAY_TEST_VAR", "hello")
	if got := ExpandEnvVars("x=${WARELAY_TEST_VAR}"); got != "x=hello" {
		t.Fatalf("expected x=hello, got %q", got)
	}
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	in := "x=${WARELAY_TEST_DEFINITELY_UNSET}"
	if got := ExpandEnvVars(in); got != in {
		t.Fatalf("expected %q unchanged, got %q", in, got)
	}
}

func TestExpandEnvVars_EmptyVarUsesDefault(t *testing.T) {
	t.Setenv("WARELAY_TEST_EMPTY", "")
	if got := ExpandEnvVars("${WARELAY_TEST_EMPTY:-dflt}"); got != "dflt" {
		t.Fatalf("expected dflt, got %q", got)
	}
}

// --- Sanitize / accessors ---

func TestSanitize_MasksSecret(t *testing.T) {
	cfg := finalized()
	cfg.Sinks.Secret = "super-secret-value-123"

	sanitized := Sanitize(cfg)
	if sanitized.Sinks.Secret == cfg.Sinks.Secret {
		t.Fatal("secret should be masked")
	}
	if cfg.Sinks.Secret != "super-secret-value-123" {
		t.Fatal("original config should not be modified")
	}
}

func TestSanitize_ShortSecret(t *testing.T) {
	cfg := finalized()
	cfg.Sinks.Secret = "short"
	if got := Sanitize(cfg).Sinks.Secret; got != "***" {
		t.Fatalf("short secret should be '***', got %q", got)
	}
}

func TestGetByPath_ValidPath(t *testing.T) {
	val, err := GetByPath(finalized(), "sinks.ingestUrl")
	if err != nil {
		t.Fatal(err)
	}
	if val != "http://localhost:8000/ingesta" {
		t.Fatalf("unexpected value %v", val)
	}
}

func TestGetByPath_InvalidPath(t *testing.T) {
	if _, err := GetByPath(finalized(), "sinks.nope"); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestListPaths_ReturnsLeaves(t *testing.T) {
	paths := ListPaths(finalized())
	for _, expected := range []string{"sinks.ingestUrl", "sinks.qrUrl", "session.headless", "log.level"} {
		if _, ok := paths[expected]; !ok {
			t.Errorf("missing expected path: %s", expected)
		}
	}
}
