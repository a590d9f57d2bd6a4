package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Email    EmailConfig    `yaml:"email"`
	Redis    RedisConfig    `yaml:"redis"`
	Log      LogConfig      `yaml:"log"`
	Chat     ChatConfig     `yaml:"chat"`
}

type ServerConfig struct {
	Name           string   `yaml:"name"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	BaseURL        string   `yaml:"base_url"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// TrustedProxies lists CIDRs whose X-Forwarded-For header is honoured
	// when keying rate limits.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type AuthConfig struct {
	JWTSecret       string        `yaml:"jwt_secret"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
	OTPTTL          time.Duration `yaml:"otp_ttl"`
	// PasswordMinLength applies to every registration path.
	PasswordMinLength int `yaml:"password_min_length"`
	// ResendOnUnverifiedLogin issues a fresh code when an unverified
	// account attempts to log in.
	ResendOnUnverifiedLogin *bool `yaml:"resend_on_unverified_login"`
}

type EmailConfig struct {
	SMTP        SMTPConfig    `yaml:"smtp"`
	SendTimeout time.Duration `yaml:"send_timeout"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// Enabled reports whether enough SMTP settings are present to attempt delivery.
func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.Port != 0 && c.From != ""
}

type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	PresenceTTL time.Duration `yaml:"presence_ttl"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type ChatConfig struct {
	Rooms            []string `yaml:"rooms"`
	MaxMessageLength int      `yaml:"max_message_length"`
}

// Load reads the YAML file at path, applies environment overrides (a .env
// file in the working directory is honoured) and fills defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("STUDYLIB_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("STUDYLIB_SMTP_PASSWORD"); v != "" {
		c.Email.SMTP.Password = v
	}
	if v := os.Getenv("STUDYLIB_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("STUDYLIB_DATABASE_PATH"); v != "" {
		c.Database.Path = v
	}
}

func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}
	if c.Auth.PasswordMinLength < 0 {
		return fmt.Errorf("auth.password_min_length must not be negative")
	}
	// A partially configured SMTP block is a mistake; an absent one means
	// email delivery is disabled and registrations are auto-verified.
	smtp := c.Email.SMTP
	if smtp.Host != "" || smtp.From != "" {
		if smtp.Host == "" {
			return fmt.Errorf("email.smtp.host is required when email.smtp.from is set")
		}
		if smtp.Port == 0 {
			return fmt.Errorf("email.smtp.port is required")
		}
		if smtp.From == "" {
			return fmt.Errorf("email.smtp.from is required")
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Name == "" {
		c.Server.Name = "Student Library"
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = fmt.Sprintf("http://%s:%d", c.Server.Host, c.Server.Port)
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/studylib.db"
	}
	if c.Auth.AccessTokenTTL == 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL == 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.OTPTTL == 0 {
		c.Auth.OTPTTL = 10 * time.Minute
	}
	if c.Auth.PasswordMinLength == 0 {
		c.Auth.PasswordMinLength = 8
	}
	if c.Auth.ResendOnUnverifiedLogin == nil {
		enabled := true
		c.Auth.ResendOnUnverifiedLogin = &enabled
	}
	if c.Email.SendTimeout == 0 {
		c.Email.SendTimeout = 10 * time.Second
	}
	if c.Redis.PresenceTTL == 0 {
		c.Redis.PresenceTTL = 2 * time.Minute
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if !slices.Contains(c.Chat.Rooms, "global") {
		c.Chat.Rooms = append([]string{"global"}, c.Chat.Rooms...)
	}
	if c.Chat.MaxMessageLength == 0 {
		c.Chat.MaxMessageLength = 4000
	}
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
