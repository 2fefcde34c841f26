package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	redact(&out.Redis.Password)

	// S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Server
	redact(&out.Server.APIKey)

	// Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	out.Notify.Events = cloneStrings(cfg.Notify.Events)
	out.Server.CORSOrigins = cloneStrings(cfg.Server.CORSOrigins)
	out.Kafka.Brokers = cloneStrings(cfg.Kafka.Brokers)
	if cfg.Sandbox.Balances != nil {
		out.Sandbox.Balances = append([]SandboxBalance(nil), cfg.Sandbox.Balances...)
	}
	if cfg.Sandbox.Assets != nil {
		out.Sandbox.Assets = append([]SandboxAsset(nil), cfg.Sandbox.Assets...)
	}

	// Copy maps so mutations to the redacted copy do not affect the original.
	if cfg.Sandbox.Tiers != nil {
		out.Sandbox.Tiers = make(map[string]string, len(cfg.Sandbox.Tiers))
		for k, v := range cfg.Sandbox.Tiers {
			out.Sandbox.Tiers[k] = v
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
