package internal

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/ansuz/internal/dates"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	SQLite  SQLiteConfig      `yaml:"sqlite"`
	Auth    AuthConfig        `yaml:"auth"`
	Rules   RulesConfig       `yaml:"rules"`
	Files   FilesConfig       `yaml:"files"`
	Dates   DatesConfig       `yaml:"dates"`
	Resolve ResolveConfig     `yaml:"resolve"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for _, v := range []validation.Validatable{
		&c.App, &c.SQLite, &c.Auth, &c.Rules, &c.Files, &c.Dates, &c.Resolve,
	} {
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

// SQLiteConfig holds the rule store database configuration.
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

// RulesConfig points at the directory of YAML rule files. An empty Dir
// disables file-based rules; rules then come only from the API.
type RulesConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

// Validate validates the rules configuration.
func (c *RulesConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Watch, validation.When(c.Dir == "", validation.Empty.Error("requires rules.dir"))),
	)
}

// FilesConfig describes the directory tree served as the file index.
type FilesConfig struct {
	Root   string   `yaml:"root"`
	Ignore []string `yaml:"ignore"`
}

// Validate validates the files configuration.
func (c *FilesConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
		validation.Field(&c.Ignore, validation.Each(validation.By(func(v any) error {
			if p, _ := v.(string); !doublestar.ValidatePattern(p) {
				return fmt.Errorf("bad glob %q", p)
			}
			return nil
		}))),
	)
}

// DatesConfig overrides the ordered date extraction patterns. Empty means
// dates.DefaultPatterns.
type DatesConfig struct {
	Patterns []dates.Pattern `yaml:"patterns"`
}

// Validate compiles the patterns.
func (c *DatesConfig) Validate() error {
	_, err := c.Extractor()
	return err
}

// Extractor builds the configured date extractor.
func (c *DatesConfig) Extractor() (*dates.Extractor, error) {
	return dates.NewExtractor(c.Patterns...)
}

// ResolveConfig tunes resolution.
type ResolveConfig struct {
	// Timeout bounds each rule store query; zero means no bound.
	Timeout time.Duration `yaml:"timeout"`
}

// Validate validates the resolve configuration.
func (c *ResolveConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
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
		SQLite: SQLiteConfig{
			Path: "./ansuz.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Rules: RulesConfig{
			Dir:   "./config/rules",
			Watch: true,
		},
		Files: FilesConfig{
			Root: "/",
		},
		Resolve: ResolveConfig{
			Timeout: 5 * time.Second,
		},
	}
}
