package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Credentials: copy the slice and scrub each entry.
	if cfg.Credentials != nil {
		out.Credentials = make([]CredentialConfig, len(cfg.Credentials))
		copy(out.Credentials, cfg.Credentials)
		for i := range out.Credentials {
			redact(&out.Credentials[i].Password)
			redact(&out.Credentials[i].AppKey)
			redact(&out.Credentials[i].CertBase64)
			redact(&out.Credentials[i].KeyBase64)
		}
	}

	// Mirror
	out.Mirror = cfg.Mirror
	redact(&out.Mirror.Token)

	// Database
	out.Database = cfg.Database
	redact(&out.Database.DSN)
	redact(&out.Database.Password)

	// Redis
	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	// S3
	out.S3 = cfg.S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Notify
	out.Notify = cfg.Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
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
