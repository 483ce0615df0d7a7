package internal

import (
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/folio/internal/frontmatter"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Field orders.
const (
	FieldOrderSource = "source"
	FieldOrderSchema = "schema"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Project ProjectConfig     `yaml:"project"`
	SQLite  SQLiteConfig      `yaml:"sqlite"`
	Auth    AuthConfig        `yaml:"auth"`
	Sync    SyncConfig        `yaml:"sync"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Project.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	return c.Sync.Validate()
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

// ProjectConfig locates the content project. ConfigFile, ContentDir and
// AssetsDir are relative to Root.
type ProjectConfig struct {
	Root       string   `yaml:"root"`
	ConfigFile string   `yaml:"config_file"`
	ContentDir string   `yaml:"content_dir"`
	Extensions []string `yaml:"extensions"`
	AssetsDir  string   `yaml:"assets_dir"`
}

// Validate validates the project configuration.
func (c *ProjectConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
		validation.Field(&c.ConfigFile, validation.Required, validation.By(relativePath)),
		validation.Field(&c.ContentDir, validation.By(relativePath)),
		validation.Field(&c.AssetsDir, validation.By(relativePath)),
		validation.Field(&c.Extensions, validation.Required, validation.Each(validation.By(extension))),
	)
}

func relativePath(v any) error {
	s, _ := v.(string)
	if s == "" {
		return nil
	}
	p := path.Clean(s)
	if path.IsAbs(p) || p == ".." || strings.HasPrefix(p, "../") {
		return fmt.Errorf("must be relative to the project root")
	}
	return nil
}

func extension(v any) error {
	s, _ := v.(string)
	if !strings.HasPrefix(s, ".") || len(s) < 2 {
		return fmt.Errorf("must start with a dot, e.g. .md")
	}
	return nil
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

// SyncConfig tunes editing sessions and the file watcher.
//
// StrictConstraints turns range, length and pattern failures into errors
// that block saving. FieldOrder selects how saved metadata keys are
// arranged: "source" keeps the document's order, "schema" follows the
// collection declaration.
type SyncConfig struct {
	Debounce          time.Duration `yaml:"debounce"`
	Autosave          time.Duration `yaml:"autosave"`
	StrictConstraints bool          `yaml:"strict_constraints"`
	FieldOrder        string        `yaml:"field_order"`
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	if c.FieldOrder == "" {
		c.FieldOrder = FieldOrderSource
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.Min(time.Duration(0))),
		validation.Field(&c.Autosave, validation.Min(time.Duration(0))),
		validation.Field(&c.FieldOrder, validation.In(FieldOrderSource, FieldOrderSchema)),
	)
}

// Order returns the frontmatter key order for FieldOrder.
func (c *SyncConfig) Order() frontmatter.Order {
	o, err := frontmatter.ParseOrder(c.FieldOrder)
	if err != nil {
		return frontmatter.OrderSource
	}
	return o
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
		Project: ProjectConfig{
			Root:       ".",
			ConfigFile: "src/content/config.ts",
			ContentDir: "src/content",
			Extensions: []string{".md", ".mdx"},
			AssetsDir:  "src/assets",
		},
		SQLite: SQLiteConfig{
			Path: "./folio.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Sync: SyncConfig{
			Debounce:   300 * time.Millisecond,
			Autosave:   30 * time.Second,
			FieldOrder: FieldOrderSource,
		},
	}
}
