package internal

import (
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/timedline/internal/kv"
	"github.com/starford/timedline/internal/storage"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Object store backends.
const (
	ObjectsFS = "fs"
	ObjectsS3 = "s3"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Auth    AuthConfig        `yaml:"auth"`
	Storage StorageConfig     `yaml:"storage"`
	Local   LocalConfig       `yaml:"local"`
	Remote  RemoteConfig      `yaml:"remote"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Local.Validate(); err != nil {
		return err
	}
	return c.Remote.Validate()
}

// WantsRemote reports whether the remote backend should be used, which
// needs both the driver choice and a complete remote section.
func (c *Config) WantsRemote() bool {
	return c.Storage.Driver == storage.DriverRemote && c.Remote.Ready()
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
	// PublicURL prefixes generated object URLs. Empty means host-relative.
	PublicURL string `yaml:"public_url"`
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

// AuthConfig holds API authentication configuration.
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

// StorageConfig selects the vault backend.
type StorageConfig struct {
	Driver string `yaml:"driver"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	if c.Driver == "" {
		c.Driver = storage.DriverLocal
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.In(storage.DriverLocal, storage.DriverRemote)),
	)
}

// LocalConfig configures the local key/value engine.
type LocalConfig struct {
	Engine     string `yaml:"engine"`
	Path       string `yaml:"path"`
	QuotaBytes int64  `yaml:"quota_bytes"`
	// AttachmentsMaxBytes caps the in-memory attachment references.
	AttachmentsMaxBytes int64 `yaml:"attachments_max_bytes"`
}

// Validate validates the local configuration.
func (c *LocalConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Engine, validation.In(kv.EngineFile, kv.EngineBolt)),
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.QuotaBytes, validation.Min(int64(0))),
		validation.Field(&c.AttachmentsMaxBytes, validation.Min(int64(0))),
	)
}

// RemoteConfig configures the hosted backend.
type RemoteConfig struct {
	Database DatabaseConfig `yaml:"database"`
	Objects  ObjectsConfig  `yaml:"objects"`
	Session  SessionConfig  `yaml:"session"`
}

// Validate validates the remote configuration. An incomplete section is
// not an error; Ready reports whether it can be used.
func (c *RemoteConfig) Validate() error {
	return c.Objects.Validate()
}

// Ready reports whether every setting the remote backend needs is present.
func (c *RemoteConfig) Ready() bool {
	if c.Database.DSN == "" || c.Session.JWTSecret == "" {
		return false
	}
	if c.Objects.Backend == ObjectsS3 {
		o := c.Objects
		return o.Bucket != "" && o.AccessKeyID != "" && o.SecretAccessKey != ""
	}
	return c.Objects.Root != ""
}

// DatabaseConfig holds the row store location.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// ObjectsConfig configures attachment object storage.
type ObjectsConfig struct {
	Backend         string `yaml:"backend"`
	Bucket          string `yaml:"bucket"`
	Public          bool   `yaml:"public"`
	Root            string `yaml:"root"`
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	PathStyle       bool   `yaml:"path_style"`
}

// Validate validates the objects configuration.
func (c *ObjectsConfig) Validate() error {
	if c.Backend == "" {
		c.Backend = ObjectsFS
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.In(ObjectsFS, ObjectsS3)),
	)
}

// SessionConfig configures remote sign-in tokens.
type SessionConfig struct {
	JWTSecret   string `yaml:"jwt_secret"`
	Issuer      string `yaml:"issuer"`
	RedirectURL string `yaml:"redirect_url"`
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
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Storage: StorageConfig{
			Driver: storage.DriverLocal,
		},
		Local: LocalConfig{
			Engine:              kv.EngineFile,
			Path:                "./data",
			QuotaBytes:          5 << 20,
			AttachmentsMaxBytes: 256 << 20,
		},
		Remote: RemoteConfig{
			Database: DatabaseConfig{DSN: "./timedline-remote.db"},
			Objects: ObjectsConfig{
				Backend: ObjectsFS,
				Bucket:  "vault",
				Root:    "./objects",
			},
			Session: SessionConfig{Issuer: "timedline"},
		},
	}
}
