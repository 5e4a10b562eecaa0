package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
)

const (
	defaultEnvFile         = ".env"
	defaultPort            = "8080"
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultEnvironment     = "local"
	defaultAPITimeout      = 8 * time.Second
	defaultCartIdleTTL     = 2 * time.Hour
	defaultCartSweep       = 5 * time.Minute
	defaultCurrency        = "JPY"
	defaultLocale          = "ja"
	defaultLogLevel        = "info"
	devSessionSigningKey   = "dev-only-session-signing-key-change-me"
	minSessionSigningBytes = 16
)

// Config is the runtime configuration of the web tier, grouped by concern.
type Config struct {
	Server   ServerConfig
	API      APIConfig
	Session  SessionConfig
	Cart     CartConfig
	Locale   LocaleConfig
	Secrets  SecretsConfig
	Firebase FirebaseConfig
	Env      string
	LogLevel string
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// APIConfig points at the storefront REST API. An empty BaseURL runs against the in-memory fake.
type APIConfig struct {
	BaseURL string
	Timeout time.Duration
}

// SessionConfig holds the cookie signing key.
type SessionConfig struct {
	SigningKey string
}

// CartConfig tunes the in-memory session carts.
type CartConfig struct {
	IdleTTL            time.Duration
	SweepInterval      time.Duration
	SerializeMutations bool
}

// LocaleConfig sets presentation defaults.
type LocaleConfig struct {
	Currency string
	Language string
}

// SecretsConfig configures Secret Manager lookups.
type SecretsConfig struct {
	ProjectID string
}

// FirebaseConfig points at the Firebase project that issues customer ID tokens.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// IsProduction reports whether the deployment is production.
func (c Config) IsProduction() bool {
	switch c.Env {
	case "prod", "production":
		return true
	}
	return false
}

// SecretResolver resolves secret references such as secret://session-key.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret calls f.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError lists configuration fields that are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the offending field names.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError describes a secret reference that could not be resolved.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the dotenv file path.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap supplies explicit values that win over every other source.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for secret:// and sm:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// Lookup returns a key lookup with the precedence of Load: dotenv < OS env < explicit map.
// main uses it to build the secret resolver before calling Load.
func Lookup(opts ...Option) (func(string) (string, bool), error) {
	options := newLoaderOptions(opts)
	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	return func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}, nil
}

// Load assembles the configuration from defaults, the dotenv file, the environment and secret references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	lookup, err := Lookup(opts...)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "WEB_SERVER_PORT", stringWithDefault(lookup, "PORT", defaultPort)),
			ReadTimeout:  durationWithDefault(lookup, "WEB_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "WEB_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "WEB_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		API: APIConfig{
			BaseURL: strings.TrimSpace(stringWithDefault(lookup, "WEB_API_BASE_URL", "")),
			Timeout: durationWithDefault(lookup, "WEB_API_TIMEOUT", defaultAPITimeout),
		},
		Session: SessionConfig{
			SigningKey: stringWithDefault(lookup, "WEB_SESSION_SIGNING_KEY", ""),
		},
		Cart: CartConfig{
			IdleTTL:            durationWithDefault(lookup, "WEB_CART_IDLE_TTL", defaultCartIdleTTL),
			SweepInterval:      durationWithDefault(lookup, "WEB_CART_SWEEP_INTERVAL", defaultCartSweep),
			SerializeMutations: boolWithDefault(lookup, "WEB_CART_SERIALIZE_MUTATIONS", false),
		},
		Locale: LocaleConfig{
			Currency: strings.ToUpper(stringWithDefault(lookup, "WEB_DEFAULT_CURRENCY", defaultCurrency)),
			Language: stringWithDefault(lookup, "WEB_DEFAULT_LOCALE", defaultLocale),
		},
		Secrets: SecretsConfig{
			ProjectID: stringWithDefault(lookup, "WEB_SECRETS_PROJECT_ID", ""),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "WEB_FIREBASE_PROJECT_ID", stringWithDefault(lookup, "WEB_SECRETS_PROJECT_ID", "")),
			CredentialsFile: stringWithDefault(lookup, "WEB_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Env:      strings.ToLower(stringWithDefault(lookup, "WEB_ENV", defaultEnvironment)),
		LogLevel: stringWithDefault(lookup, "WEB_LOG_LEVEL", stringWithDefault(lookup, "LOG_LEVEL", defaultLogLevel)),
	}

	key, err := resolveSecret(ctx, cfg.Session.SigningKey, options.secret)
	if err != nil {
		return Config{}, err
	}
	cfg.Session.SigningKey = key
	if cfg.Session.SigningKey == "" && !cfg.IsProduction() {
		cfg.Session.SigningKey = devSessionSigningKey
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	ref := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return strings.TrimSpace(secret), nil
}

func validateConfig(cfg Config) error {
	var invalid []string

	if port, err := strconv.Atoi(cfg.Server.Port); err != nil || port <= 0 || port > 65535 {
		invalid = append(invalid, "Server.Port")
	}
	if cfg.API.Timeout <= 0 {
		invalid = append(invalid, "API.Timeout")
	}
	if len(cfg.Session.SigningKey) < minSessionSigningBytes {
		invalid = append(invalid, "Session.SigningKey")
	}
	if cfg.IsProduction() && cfg.Session.SigningKey == devSessionSigningKey {
		invalid = append(invalid, "Session.SigningKey")
	}
	if cfg.IsProduction() && strings.TrimSpace(cfg.Firebase.ProjectID) == "" {
		invalid = append(invalid, "Firebase.ProjectID")
	}
	if cfg.Cart.IdleTTL <= 0 {
		invalid = append(invalid, "Cart.IdleTTL")
	}
	if cfg.Cart.SweepInterval <= 0 {
		invalid = append(invalid, "Cart.SweepInterval")
	}
	if _, err := currency.ParseISO(cfg.Locale.Currency); err != nil {
		invalid = append(invalid, "Locale.Currency")
	}
	if _, err := language.Parse(cfg.Locale.Language); err != nil {
		invalid = append(invalid, "Locale.Language")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		return "secret://" + rest
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}
