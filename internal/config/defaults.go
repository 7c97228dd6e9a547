package config

func Defaults() *Config {
	return &Config{
		Sinks: SinksConfig{
			IngestURL:      "http://localhost:8000/ingesta",
			TimeoutSeconds: 15,
		},
		Session: SessionConfig{
			DBPath:   "~/.warelay/session.db",
			Headless: true,
		},
		Status: StatusConfig{
			Enabled: false,
			Addr:    "127.0.0.1:8090",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
