package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
)

// MaskSecret returns a form of secret safe for logs: the first 4 characters
// of long values, "***" for short ones.
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..."
}

// MaskURL hides the password (or, for a DSN-style key, the user) embedded in
// rawURL. Unparseable values are masked entirely.
func MaskURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return MaskSecret(rawURL)
	}
	if u.User == nil {
		return rawURL
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		u.User = url.UserPassword(u.User.Username(), "xxx")
	} else {
		// Sentry DSNs carry the key as the username
		u.User = url.User(MaskSecret(u.User.Username()))
	}
	return u.String()
}

// LogValue renders the configuration for startup logs with credentials
// masked.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("port", c.Port),
		slog.String("base_url", MaskURL(c.BaseURL)),
		slog.Int("upstream_max_retries", c.UpstreamMaxRetries),
		slog.Duration("upstream_timeout", c.UpstreamTimeout),
		slog.Float64("upstream_rps", c.UpstreamRPS),
		slog.Duration("cache_ttl", c.CacheTTL),
		slog.Int("fanout_limit", c.FanOutLimit),
		slog.Bool("rate_limit", c.EnableRateLimit),
		slog.Bool("otel_enabled", c.OTELEnabled),
		slog.String("otel_endpoint", MaskURL(c.OTELEndpoint)),
		slog.String("sentry_dsn", MaskURL(c.SentryDSN)),
		slog.String("sentry_environment", c.SentryEnvironment),
	)
}

// Validate reports every setting that cannot work, joined into one error.
func (c *Config) Validate() error {
	var errs []error
	if p, err := strconv.Atoi(c.Port); err != nil || p < 0 || p > 65535 {
		errs = append(errs, fmt.Errorf("PORT %q is not a valid port", c.Port))
	}
	if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("SWAPI_BASE_URL %q is not an absolute URL", MaskURL(c.BaseURL)))
	}
	if c.FanOutLimit < 0 {
		errs = append(errs, errors.New("FANOUT_LIMIT must not be negative"))
	}
	if c.ResponseCacheMaxMB < 0 {
		errs = append(errs, errors.New("RESPONSE_CACHE_MAX_MB must not be negative"))
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1 {
		errs = append(errs, fmt.Errorf("OTEL_TRACE_SAMPLE_RATE %v is outside [0, 1]", c.OTELSampleRate))
	}
	if c.SentrySampleRate < 0 || c.SentrySampleRate > 1 {
		errs = append(errs, fmt.Errorf("SENTRY_SAMPLE_RATE %v is outside [0, 1]", c.SentrySampleRate))
	}
	if c.OTELEnabled && c.OTELEndpoint == "" {
		errs = append(errs, errors.New("OTEL_EXPORTER_OTLP_ENDPOINT is required when OTEL_ENABLED=true"))
	}
	return errors.Join(errs...)
}
