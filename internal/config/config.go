package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	TagPolicyStrict     = "strict"
	TagPolicyAutocreate = "autocreate"

	StorageFS = "fs"
	StorageS3 = "s3"
)

// Config is the full process configuration, read from the environment
type Config struct {
	Env     string `envconfig:"APP_ENV" default:"development"`
	Port    string `envconfig:"PORT" default:"8080"`
	GinMode string `envconfig:"GIN_MODE" default:"debug"`

	DB DBConfig

	JWTSecret   string        `envconfig:"JWT_SECRET"`
	JWTTTL      time.Duration `envconfig:"JWT_TTL" default:"24h"`
	CORSOrigins []string      `envconfig:"CORS_ORIGINS" default:"http://localhost:5173,http://127.0.0.1:5173"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"console"`

	Storage StorageConfig

	ThumbnailSize  int   `envconfig:"THUMBNAIL_SIZE" default:"200"`
	MaxUploadBytes int64 `envconfig:"MAX_UPLOAD_BYTES" default:"10485760"`
	// TagPolicy selects whether posts may create tags from free-text names
	TagPolicy string `envconfig:"TAG_POLICY" default:"strict"`

	RoleCacheTTL  time.Duration `envconfig:"ROLE_CACHE_TTL" default:"5m"`
	RoleCacheSize int           `envconfig:"ROLE_CACHE_SIZE" default:"1024"`
	RedisURL      string        `envconfig:"REDIS_URL"`

	SweepSchedule string        `envconfig:"SWEEP_SCHEDULE" default:"@every 6h"`
	SweepGrace    time.Duration `envconfig:"SWEEP_GRACE" default:"1h"`
}

type DBConfig struct {
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	User     string `envconfig:"DB_USER" default:"postgres"`
	Password string `envconfig:"DB_PASSWORD" default:"postgres"`
	Name     string `envconfig:"DB_NAME" default:"postgres"`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
}

// DSN renders a postgres connection URL
func (d DBConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     d.Host + ":" + d.Port,
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}

type StorageConfig struct {
	Backend     string `envconfig:"STORAGE_BACKEND" default:"fs"`
	Root        string `envconfig:"STORAGE_ROOT" default:"uploads"`
	S3Bucket    string `envconfig:"S3_BUCKET"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY"`
	S3Prefix    string `envconfig:"S3_PREFIX"`
}

// Load reads configs/.env when present, then the process environment
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load("configs/.env")

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) IsRelease() bool {
	return c.GinMode == "release" || c.Env == "production"
}

func (c *Config) Validate() error {
	var problems []error

	switch c.Storage.Backend {
	case StorageFS:
		if c.Storage.Root == "" {
			problems = append(problems, errors.New("STORAGE_ROOT is required for the fs backend"))
		}
	case StorageS3:
		if c.Storage.S3Bucket == "" {
			problems = append(problems, errors.New("S3_BUCKET is required for the s3 backend"))
		}
	default:
		problems = append(problems, fmt.Errorf("unknown STORAGE_BACKEND %q (want fs or s3)", c.Storage.Backend))
	}

	if c.TagPolicy != TagPolicyStrict && c.TagPolicy != TagPolicyAutocreate {
		problems = append(problems, fmt.Errorf("unknown TAG_POLICY %q (want strict or autocreate)", c.TagPolicy))
	}
	if c.ThumbnailSize <= 0 {
		problems = append(problems, errors.New("THUMBNAIL_SIZE must be positive"))
	}
	if c.MaxUploadBytes <= 0 {
		problems = append(problems, errors.New("MAX_UPLOAD_BYTES must be positive"))
	}
	if c.IsRelease() && c.JWTSecret == "" {
		problems = append(problems, errors.New("JWT_SECRET is required in release mode"))
	}

	return errors.Join(problems...)
}

// Secret returns the signing key, with a development fallback outside release mode
func (c *Config) Secret() []byte {
	if c.JWTSecret == "" {
		return []byte("default_super_secret_key")
	}
	return []byte(c.JWTSecret)
}
