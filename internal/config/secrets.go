package config

import (
	"net/url"
	"slices"
)

const redacted = "***"

// RedactedConfig returns a copy of cfg that is safe to log. Passwords,
// tokens and keys become "***". URLs keep their scheme and host so the
// target is still visible: the DSN loses its password and URLs that carry a
// key in the path (RPC endpoints, webhooks) lose path and query.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	out.Postgres.DSN = redactDSN(cfg.Postgres.DSN)
	out.Oracle.RPCURL = redactEndpoint(cfg.Oracle.RPCURL)
	out.Notify.DiscordWebhookURL = redactEndpoint(cfg.Notify.DiscordWebhookURL)
	for _, s := range []*string{
		&out.Postgres.Password,
		&out.Redis.Password,
		&out.S3.AccessKey,
		&out.S3.SecretKey,
		&out.Server.APIKey,
		&out.Notify.TelegramToken,
	} {
		if *s != "" {
			*s = redacted
		}
	}

	out.Engine.LedgerAdmins = slices.Clone(cfg.Engine.LedgerAdmins)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	return out
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	u, err := url.Parse(dsn)
	if err != nil || u.Host == "" {
		// key=value form or garbage.
		return redacted
	}
	return u.Redacted()
}

func redactEndpoint(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return redacted
	}
	return u.Scheme + "://" + u.Host + "/" + redacted
}
