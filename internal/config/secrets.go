package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging the active
// configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Chain.PrivateKey)
	redact(&out.Chain.KeyPassword)

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	redact(&out.Redis.Password)

	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	redact(&out.Server.APIKey)

	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices and maps so the redacted copy never aliases the original.
	if cfg.Notify.Events != nil {
		out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	}
	if cfg.Chain.Genesis != nil {
		out.Chain.Genesis = make(map[string]string, len(cfg.Chain.Genesis))
		for k, v := range cfg.Chain.Genesis {
			out.Chain.Genesis[k] = v
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
