package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/schable/internal/flatten"
	"github.com/starford/schable/internal/resolver"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Catalog CatalogConfig     `yaml:"catalog"`
	SQLite  SQLiteConfig      `yaml:"sqlite"`
	Auth    AuthConfig        `yaml:"auth"`
	Fetch   FetchConfig       `yaml:"fetch"`
	Render  RenderConfig      `yaml:"render"`
	Static  StaticConfig      `yaml:"static"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for _, v := range []validation.Validatable{&c.App, &c.Catalog, &c.SQLite, &c.Auth, &c.Fetch, &c.Render} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// CatalogConfig holds the path to the local schema directory.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the catalog configuration.
func (c *CatalogConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// FetchConfig controls how remote schema documents are retrieved and cached.
type FetchConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	UserAgent    string        `yaml:"user_agent"`
	// RelayPrefix is prepended to the percent-encoded locator when relaying.
	RelayPrefix string `yaml:"relay_prefix"`
	// UseRelay is the default for requests that do not say.
	UseRelay bool `yaml:"use_relay"`
	// LenientJSON repairs malformed JSON documents before decoding.
	LenientJSON bool `yaml:"lenient_json"`
	// CacheSize bounds the in-memory document cache.
	CacheSize int `yaml:"cache_size"`
	// CacheTTL is how long fetched bodies stay in the SQLite document cache.
	// Zero disables the persistent cache.
	CacheTTL time.Duration `yaml:"cache_ttl"`
	// AllowPrivateHosts lets fetches reach loopback and link-local
	// addresses, including cloud metadata endpoints.
	AllowPrivateHosts bool `yaml:"allow_private_hosts"`
}

// Validate validates the fetch configuration.
func (c *FetchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxBodyBytes, validation.Min(int64(0))),
		validation.Field(&c.RelayPrefix, is.RequestURL),
		validation.Field(&c.CacheSize, validation.Min(0)),
		validation.Field(&c.CacheTTL, validation.Min(time.Duration(0))),
	)
}

// HTTP returns the resolver settings for remote sources.
func (c *FetchConfig) HTTP() resolver.HTTPConfig {
	return resolver.HTTPConfig{
		Timeout:      c.Timeout,
		MaxBodyBytes: c.MaxBodyBytes,
		UserAgent:    c.UserAgent,
		RelayPrefix:  c.RelayPrefix,

		AllowPrivateHosts: c.AllowPrivateHosts,
	}
}

// RenderConfig holds flattening defaults.
type RenderConfig struct {
	MaxDepth int `yaml:"max_depth"`
	// MaxRows caps the rows of one render; zero takes the engine default.
	MaxRows int `yaml:"max_rows"`
}

// Validate validates the render configuration.
func (c *RenderConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxDepth, validation.Required, validation.Min(1), validation.Max(flatten.MaxDepthLimit)),
		validation.Field(&c.MaxRows, validation.Min(0)),
	)
}

// StaticConfig points at an optional directory of static files served at
// the root path. Empty disables static serving.
type StaticConfig struct {
	Path string `yaml:"path"`
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Catalog: CatalogConfig{
			Path: "./schemas",
		},
		SQLite: SQLiteConfig{
			Path: "./schable.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Fetch: FetchConfig{
			Timeout:      resolver.DefaultTimeout,
			MaxBodyBytes: resolver.DefaultMaxBodyBytes,
			UserAgent:    resolver.DefaultUserAgent,
			RelayPrefix:  resolver.DefaultRelayPrefix,
			CacheSize:    resolver.DefaultCacheSize,
			CacheTTL:     24 * time.Hour,
		},
		Render: RenderConfig{
			MaxDepth: flatten.DefaultMaxDepth,
			MaxRows:  flatten.DefaultMaxRows,
		},
	}
}
