package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config aggregates application settings that may be sourced from files or environment variables.
type Config struct {
	API    APIConfig    `mapstructure:"api"`
	JWT    JWTConfig    `mapstructure:"jwt"`
	MinIO  MinIOConfig  `mapstructure:"minio"`
	Sync   SyncConfig   `mapstructure:"sync"`
	OpenAI OpenAIConfig `mapstructure:"openai"`
	Images ImagesConfig `mapstructure:"images"`
	SMTP   SMTPConfig   `mapstructure:"smtp"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Port           int    `mapstructure:"port"`
	LogLevel       string `mapstructure:"log_level"`
	InternalSecret string `mapstructure:"internal_secret"`
	CORSOrigins    string `mapstructure:"cors_origins"`
}

// JWTConfig 描述访问令牌的签名密钥与有效期。
type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// MinIOConfig contains connection options for MinIO/S3-compatible storage.
type MinIOConfig struct {
	Endpoint         string `mapstructure:"endpoint"`
	AccessKeyID      string `mapstructure:"access_key_id"`
	SecretAccessKey  string `mapstructure:"secret_access_key"`
	UseSSL           bool   `mapstructure:"use_ssl"`
	Region           string `mapstructure:"region"`
	Bucket           string `mapstructure:"bucket"`
	BucketLookup     string `mapstructure:"bucket_lookup"`
	AutoCreateBucket bool   `mapstructure:"auto_create_bucket"`
}

// SyncConfig 描述本地数据库文件与远端对象之间的同步策略。
type SyncConfig struct {
	DBPath        string        `mapstructure:"db_path"`
	RemoteKey     string        `mapstructure:"remote_key"`
	Attempts      int           `mapstructure:"attempts"`
	Backoff       time.Duration `mapstructure:"backoff"`
	CheckRevision bool          `mapstructure:"check_revision"`
}

// OpenAIConfig 描述文本与图片生成接口。
type OpenAIConfig struct {
	APIKey       string  `mapstructure:"api_key"`
	BaseURL      string  `mapstructure:"base_url"`
	StoryModel   string  `mapstructure:"story_model"`
	SummaryModel string  `mapstructure:"summary_model"`
	ImageModel   string  `mapstructure:"image_model"`
	MaxTokens    int     `mapstructure:"max_tokens"`
	Temperature  float32 `mapstructure:"temperature"`
	ImageSize    string  `mapstructure:"image_size"`
}

// ImagesConfig 描述插图的存放位置。
type ImagesConfig struct {
	Dir          string `mapstructure:"dir"`
	RemotePrefix string `mapstructure:"remote_prefix"`
	Upload       bool   `mapstructure:"upload"`
	BaseImage    string `mapstructure:"base_image"`
	Mask         string `mapstructure:"mask"`
	Style        string `mapstructure:"style"`
}

// SMTPConfig contains the mail submission account used for reset codes.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// Enabled reports whether enough settings are present to submit mail.
func (s SMTPConfig) Enabled() bool {
	return strings.TrimSpace(s.Host) != "" && strings.TrimSpace(s.From) != ""
}

// Address returns host:port for net/smtp.
func (s SMTPConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads configuration from environment variables (with optional defaults).
// A .env file in the working directory is honoured when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad wraps Load and panics on failure.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.log_level", "info")
	v.SetDefault("api.cors_origins", "*")
	v.SetDefault("jwt.ttl", 24*time.Hour)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket", "talebook")
	v.SetDefault("minio.bucket_lookup", "auto")
	v.SetDefault("minio.auto_create_bucket", true)
	v.SetDefault("sync.db_path", "stories.db")
	v.SetDefault("sync.remote_key", "stories.db")
	v.SetDefault("sync.attempts", 3)
	v.SetDefault("sync.backoff", 2*time.Second)
	v.SetDefault("sync.check_revision", false)
	v.SetDefault("openai.story_model", "gpt-4")
	v.SetDefault("openai.summary_model", "gpt-3.5-turbo")
	v.SetDefault("openai.image_model", "dall-e-2")
	v.SetDefault("openai.max_tokens", 4000)
	v.SetDefault("openai.temperature", 0.7)
	v.SetDefault("openai.image_size", "256x256")
	v.SetDefault("images.dir", "images")
	v.SetDefault("images.remote_prefix", "images/")
	v.SetDefault("images.upload", false)
	v.SetDefault("images.style", "Illustration pour un livre pour enfants, cartoon, personnages constants.")
	v.SetDefault("smtp.port", 587)
}

func bindEnv(v *viper.Viper) error {
	mappings := map[string]string{
		"api.port":                 "API_PORT",
		"api.log_level":            "LOG_LEVEL",
		"api.internal_secret":      "INTERNAL_API_SECRET",
		"api.cors_origins":         "CORS_ORIGINS",
		"jwt.secret":               "JWT_SECRET",
		"jwt.ttl":                  "JWT_TTL",
		"minio.endpoint":           "MINIO_ENDPOINT",
		"minio.access_key_id":      "MINIO_ACCESS_KEY_ID",
		"minio.secret_access_key":  "MINIO_SECRET_ACCESS_KEY",
		"minio.use_ssl":            "MINIO_USE_SSL",
		"minio.region":             "MINIO_REGION",
		"minio.bucket":             "MINIO_BUCKET",
		"minio.bucket_lookup":      "MINIO_BUCKET_LOOKUP",
		"minio.auto_create_bucket": "MINIO_AUTO_CREATE_BUCKET",
		"sync.db_path":             "SYNC_DB_PATH",
		"sync.remote_key":          "SYNC_REMOTE_KEY",
		"sync.attempts":            "SYNC_ATTEMPTS",
		"sync.backoff":             "SYNC_BACKOFF",
		"sync.check_revision":      "SYNC_CHECK_REVISION",
		"openai.api_key":           "OPENAI_API_KEY",
		"openai.base_url":          "OPENAI_BASE_URL",
		"openai.story_model":       "OPENAI_STORY_MODEL",
		"openai.summary_model":     "OPENAI_SUMMARY_MODEL",
		"openai.image_model":       "OPENAI_IMAGE_MODEL",
		"openai.max_tokens":        "OPENAI_MAX_TOKENS",
		"openai.temperature":       "OPENAI_TEMPERATURE",
		"openai.image_size":        "OPENAI_IMAGE_SIZE",
		"images.dir":               "IMAGES_DIR",
		"images.remote_prefix":     "IMAGES_REMOTE_PREFIX",
		"images.upload":            "IMAGES_UPLOAD",
		"images.base_image":        "IMAGES_BASE_IMAGE",
		"images.mask":              "IMAGES_MASK",
		"images.style":             "IMAGES_STYLE",
		"smtp.host":                "SMTP_HOST",
		"smtp.port":                "SMTP_PORT",
		"smtp.username":            "SMTP_USERNAME",
		"smtp.password":            "SMTP_PASSWORD",
		"smtp.from":                "SMTP_FROM",
	}

	for key, env := range mappings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, env, err)
		}
	}

	return nil
}

func validate(cfg Config) error {
	if cfg.API.Port <= 0 {
		return errors.New("api port must be positive")
	}
	if cfg.JWT.Secret == "" {
		return errors.New("jwt secret is required")
	}
	if cfg.JWT.TTL <= 0 {
		return errors.New("jwt ttl must be positive")
	}
	if cfg.MinIO.Endpoint == "" {
		return errors.New("minio endpoint is required")
	}
	if cfg.MinIO.AccessKeyID == "" {
		return errors.New("minio access key id is required")
	}
	if cfg.MinIO.SecretAccessKey == "" {
		return errors.New("minio secret access key is required")
	}
	if cfg.MinIO.Bucket == "" {
		return errors.New("minio bucket is required")
	}
	if cfg.Sync.DBPath == "" {
		return errors.New("sync db path is required")
	}
	if cfg.Sync.RemoteKey == "" {
		return errors.New("sync remote key is required")
	}
	if cfg.Sync.Attempts <= 0 {
		return errors.New("sync attempts must be positive")
	}
	if cfg.Sync.Backoff < 0 {
		return errors.New("sync backoff must not be negative")
	}
	if cfg.OpenAI.APIKey == "" {
		return errors.New("openai api key is required")
	}
	if cfg.OpenAI.MaxTokens <= 0 {
		return errors.New("openai max tokens must be positive")
	}
	if cfg.Images.Dir == "" && !cfg.Images.Upload {
		return errors.New("images dir is required when images are stored locally")
	}
	return nil
}
