package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
			AuthDir:  "~/.zapgate/auth",
			PrintQR:  false,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8090,
		},
		Session: SessionConfig{
			MaxRetries:        3,
			RetryDelaySeconds: 15,
		},
		Webhooks: WebhooksConfig{
			TimeoutSeconds: 10,
			ThrottleMS:     1000,
		},
		Media: MediaConfig{
			MaxAvatarBytes:  300 * 1024,
			ProfileTTLHours: 24,
		},
		Dedup: DedupConfig{
			TTLSeconds: 300,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}
