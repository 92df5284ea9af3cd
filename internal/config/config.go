package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Retention RetentionConfig `mapstructure:"retention"`
	Auth      AuthConfig      `mapstructure:"auth"`
}

type ServerConfig struct {
	Port          int        `mapstructure:"port"`
	Mode          string     `mapstructure:"mode"`
	PublicURL     string     `mapstructure:"public_url"`
	MaxUploadSize int64      `mapstructure:"max_upload_size"`
	CORS          CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`         // sqlite file path
	PostgresDSN     string        `mapstructure:"postgres_dsn"` // used when driver=postgres
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return c.PostgresDSN
	}
	return c.Path
}

type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"` // r2, s3, s3compatible; auto-detected if empty
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
}

type RemoteConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	BaseURL    string `mapstructure:"base_url"`
	ServiceKey string `mapstructure:"service_key"`
	Table      string `mapstructure:"table"`
	MaxSlots   int    `mapstructure:"max_slots"`
}

type WorkerConfig struct {
	UploadDir        string `mapstructure:"upload_dir"`
	OutputDir        string `mapstructure:"output_dir"`
	ExtractorCommand string `mapstructure:"extractor_command"`
}

type RetentionConfig struct {
	MaxAgeHours   int           `mapstructure:"max_age_hours"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	// Set config file path
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.public_url", "http://127.0.0.1:8000")
	v.SetDefault("server.max_upload_size", int64(100*1024*1024))
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/pagelift_jobs.db")
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_open_conns", 8)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.bucket", "scans")
	v.SetDefault("remote.enabled", false)
	v.SetDefault("remote.table", "jobs")
	v.SetDefault("remote.max_slots", 5)
	v.SetDefault("worker.upload_dir", "./uploads")
	v.SetDefault("worker.output_dir", "./job_data")
	v.SetDefault("retention.max_age_hours", 24)
	v.SetDefault("retention.sweep_interval", time.Hour)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("server.public_url", "PAGELIFT_PUBLIC_URL")
	v.BindEnv("database.postgres_dsn", "DATABASE_DSN")
	v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	v.BindEnv("storage.use_ssl", "STORAGE_USE_SSL")
	v.BindEnv("storage.public_url", "STORAGE_PUBLIC_URL")
	v.BindEnv("remote.base_url", "REMOTE_BASE_URL")
	v.BindEnv("remote.service_key", "REMOTE_SERVICE_KEY")
	v.BindEnv("auth.jwt_secret", "AUTH_JWT_SECRET")
	v.BindEnv("worker.extractor_command", "EXTRACTOR_COMMAND")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
