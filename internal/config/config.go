package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"

	"apiforge/internal/auth"
	"apiforge/internal/version"
)

// DefaultPath is the config file read when none is given
const DefaultPath = "apiforge.toml"

// Auth strategies
const (
	StrategyJWT    = "jwt"
	StrategyAPIKey = "apikey"
	StrategyNone   = "none"
)

// Database drivers
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Log       LogConfig       `toml:"log"`
	Auth      AuthConfig      `toml:"auth"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Versions  VersionsConfig  `toml:"versions"`
	CRUD      CRUDConfig      `toml:"crud"`
	Database  DatabaseConfig  `toml:"database"`
	Resources ResourcesConfig `toml:"resources"`
}

type ServerConfig struct {
	Port            string   `toml:"port"`
	Environment     string   `toml:"environment"`
	MaxBodyBytes    int64    `toml:"max_body_bytes"`
	RequestTimeout  Duration `toml:"request_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
	CORSOrigins     []string `toml:"cors_origins"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type AuthConfig struct {
	Strategy   string     `toml:"strategy"`
	JWTSecret  string     `toml:"jwt_secret"`
	TokenTTL   Duration   `toml:"token_ttl"`
	CookieName string     `toml:"cookie_name"`
	QueryParam string     `toml:"query_param"`
	APIKeys    []auth.Key `toml:"api_keys"`
}

type RateLimitConfig struct {
	Max           int      `toml:"max"`
	Window        Duration `toml:"window"`
	SweepInterval Duration `toml:"sweep_interval"`
	Exempt        []string `toml:"exempt"`
	TrustProxy    bool     `toml:"trust_proxy"`
}

type VersionsConfig struct {
	Supported  []string            `toml:"supported"`
	Default    string              `toml:"default"`
	Deprecated []DeprecatedVersion `toml:"deprecated"`
}

// DeprecatedVersion marks a version deprecated at startup. Dates use the
// 2006-01-02 layout.
type DeprecatedVersion struct {
	Version      string `toml:"version"`
	DeprecatedAt string `toml:"deprecated_at"`
	Sunset       string `toml:"sunset"`
}

// Dates parses the deprecation and sunset dates
func (d DeprecatedVersion) Dates() (deprecatedAt, sunset time.Time, err error) {
	if deprecatedAt, err = time.Parse(time.DateOnly, d.DeprecatedAt); err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("version %s: bad deprecated_at: %w", d.Version, err)
	}
	if sunset, err = time.Parse(time.DateOnly, d.Sunset); err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("version %s: bad sunset: %w", d.Version, err)
	}
	return deprecatedAt, sunset, nil
}

type CRUDConfig struct {
	DefaultLimit     int  `toml:"default_limit"`
	MaxLimit         int  `toml:"max_limit"`
	IdempotentDelete bool `toml:"idempotent_delete"`
}

type DatabaseConfig struct {
	Driver string `toml:"driver"`
	URL    string `toml:"url"`
}

type ResourcesConfig struct {
	// Manifest is a JSON or TOML resource manifest; empty uses the built-in one
	Manifest string `toml:"manifest"`
}

// Default returns the configuration used for anything a file leaves unset
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            "8080",
			Environment:     "development",
			MaxBodyBytes:    1 << 20,
			RequestTimeout:  Duration{30 * time.Second},
			ShutdownTimeout: Duration{10 * time.Second},
			CORSOrigins:     []string{"*"},
		},
		Log: LogConfig{Level: "info"},
		Auth: AuthConfig{
			Strategy:   StrategyJWT,
			TokenTTL:   Duration{auth.DefaultTokenDuration},
			CookieName: auth.DefaultExtractor.CookieName,
			QueryParam: auth.DefaultExtractor.QueryParam,
		},
		RateLimit: RateLimitConfig{
			Max:           100,
			Window:        Duration{15 * time.Minute},
			SweepInterval: Duration{time.Minute},
			Exempt:        []string{"/health", "/metrics", "/api/docs/**"},
		},
		Versions: VersionsConfig{
			Supported: []string{"v1"},
			Default:   "v1",
		},
		CRUD: CRUDConfig{DefaultLimit: 20, MaxLimit: 100},
	}
}

// Load reads the TOML file at path over the defaults, then applies
// environment overrides. A missing file at DefaultPath is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist) && path == DefaultPath:
		case err != nil:
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverMemory
		if cfg.Database.URL != "" {
			cfg.Database.Driver = DriverPostgres
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Environment = getEnv("APP_ENV", c.Server.Environment)
	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.Strategy = getEnv("AUTH_STRATEGY", c.Auth.Strategy)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Resources.Manifest = getEnv("RESOURCE_MANIFEST", c.Resources.Manifest)
}

// Hardened reports whether the server runs in production mode: JWT
// signatures are verified and stack traces never leave the process.
func (c Config) Hardened() bool {
	return c.Server.Environment == "production"
}

// Validate rejects impossible combinations, reporting every problem
func (c Config) Validate() error {
	var errs []error

	if n, err := strconv.Atoi(c.Server.Port); err != nil || n < 1 || n > 65535 {
		errs = append(errs, fmt.Errorf("server.port %q is not a valid port", c.Server.Port))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("server.max_body_bytes must be positive"))
	}
	if c.Server.RequestTimeout.Duration <= 0 {
		errs = append(errs, errors.New("server.request_timeout must be positive"))
	}

	switch c.Auth.Strategy {
	case StrategyJWT:
		if c.Hardened() && c.Auth.JWTSecret == "" {
			errs = append(errs, errors.New("auth.jwt_secret is required in production"))
		}
	case StrategyAPIKey:
		for i, k := range c.Auth.APIKeys {
			if k.ID == "" || k.Hash == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d] needs an id and a hash", i))
			}
		}
	case StrategyNone:
		if c.Hardened() {
			errs = append(errs, errors.New("auth.strategy none is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown auth.strategy %q", c.Auth.Strategy))
	}

	if c.RateLimit.Max < 1 {
		errs = append(errs, errors.New("rate_limit.max must be at least 1"))
	}
	if c.RateLimit.Window.Duration <= 0 {
		errs = append(errs, errors.New("rate_limit.window must be positive"))
	}

	supported := make(map[string]bool, len(c.Versions.Supported))
	for _, v := range c.Versions.Supported {
		if !version.IsValid(v) {
			errs = append(errs, fmt.Errorf("versions.supported: %q is not a version", v))
		}
		supported[v] = true
	}
	if !supported[c.Versions.Default] {
		errs = append(errs, fmt.Errorf("versions.default %q is not in versions.supported", c.Versions.Default))
	}
	for _, d := range c.Versions.Deprecated {
		if !supported[d.Version] {
			errs = append(errs, fmt.Errorf("deprecated version %q is not supported", d.Version))
		}
		if _, _, err := d.Dates(); err != nil {
			errs = append(errs, err)
		}
	}

	if c.CRUD.DefaultLimit < 1 {
		errs = append(errs, errors.New("crud.default_limit must be at least 1"))
	}
	if c.CRUD.MaxLimit < c.CRUD.DefaultLimit {
		errs = append(errs, errors.New("crud.max_limit must not be below crud.default_limit"))
	}

	switch c.Database.Driver {
	case "", DriverMemory:
	case DriverPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}

	return errors.Join(errs...)
}

// Write saves cfg as TOML, creating the directory if needed
func Write(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
