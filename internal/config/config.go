package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	UploadLimit    string        `mapstructure:"UPLOAD_LIMIT"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	JWTSigningKey string        `mapstructure:"JWT_SIGNING_KEY"`
	JWTIssuer     string        `mapstructure:"JWT_ISSUER"`
	JWTTTL        time.Duration `mapstructure:"JWT_TTL"`
	BcryptCost    int           `mapstructure:"BCRYPT_COST"`

	RecordEncryptionKey string `mapstructure:"RECORD_ENCRYPTION_KEY"`

	OTPLength        int           `mapstructure:"OTP_LENGTH"`
	OTPTTL           time.Duration `mapstructure:"OTP_TTL"`
	OTPStore         string        `mapstructure:"OTP_STORE"`
	OTPMaxAttempts   int           `mapstructure:"OTP_MAX_ATTEMPTS"`
	OTPSweepInterval time.Duration `mapstructure:"OTP_SWEEP_INTERVAL"`

	Notifier     string `mapstructure:"NOTIFIER"`
	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom     string `mapstructure:"SMTP_FROM"`
	SMSAPIKey    string `mapstructure:"SMS_API_KEY"`
	SMSBaseURL   string `mapstructure:"SMS_BASE_URL"`
	SMSSender    string `mapstructure:"SMS_SENDER"`

	BlobBackend     string `mapstructure:"BLOB_BACKEND"`
	S3Bucket        string `mapstructure:"S3_BUCKET"`
	S3Region        string `mapstructure:"S3_REGION"`
	S3Endpoint      string `mapstructure:"S3_ENDPOINT"`
	S3PublicBaseURL string `mapstructure:"S3_PUBLIC_BASE_URL"`

	TLSEnabled  bool   `mapstructure:"TLS_ENABLED"`
	TLSCertFile string `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile  string `mapstructure:"TLS_KEY_FILE"`
}

var envKeys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BODY_LIMIT",
	"UPLOAD_LIMIT", "REQUEST_TIMEOUT",
	"JWT_SIGNING_KEY", "JWT_ISSUER", "JWT_TTL", "BCRYPT_COST",
	"RECORD_ENCRYPTION_KEY",
	"OTP_LENGTH", "OTP_TTL", "OTP_STORE", "OTP_MAX_ATTEMPTS", "OTP_SWEEP_INTERVAL",
	"NOTIFIER", "SMTP_HOST", "SMTP_PORT", "SMTP_USERNAME", "SMTP_PASSWORD", "SMTP_FROM",
	"SMS_API_KEY", "SMS_BASE_URL", "SMS_SENDER",
	"BLOB_BACKEND", "S3_BUCKET", "S3_REGION", "S3_ENDPOINT", "S3_PUBLIC_BASE_URL",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("BODY_LIMIT", "2M")
	v.SetDefault("UPLOAD_LIMIT", "26M")
	v.SetDefault("REQUEST_TIMEOUT", 30*time.Second)
	v.SetDefault("JWT_ISSUER", "hms")
	v.SetDefault("JWT_TTL", 24*time.Hour)
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("OTP_LENGTH", 4)
	v.SetDefault("OTP_TTL", 5*time.Minute)
	v.SetDefault("OTP_STORE", "memory")
	v.SetDefault("OTP_MAX_ATTEMPTS", 0)
	v.SetDefault("OTP_SWEEP_INTERVAL", time.Minute)
	v.SetDefault("NOTIFIER", "log")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("BLOB_BACKEND", "memory")
	v.SetDefault("S3_REGION", "us-east-1")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if !c.IsDev() && c.JWTSigningKey == "" {
		return fmt.Errorf("JWT_SIGNING_KEY is required when ENV=%q", c.Env)
	}
	if c.JWTSigningKey != "" && len(c.JWTSigningKey) < 32 {
		return fmt.Errorf("JWT_SIGNING_KEY must be at least 32 characters")
	}

	if c.IsProduction() && c.RecordEncryptionKey == "" {
		return fmt.Errorf("RECORD_ENCRYPTION_KEY is required in production")
	}
	if c.RecordEncryptionKey != "" {
		keyBytes, err := hex.DecodeString(c.RecordEncryptionKey)
		if err != nil {
			return fmt.Errorf("RECORD_ENCRYPTION_KEY is not valid hex: %w", err)
		}
		if len(keyBytes) != 32 {
			return fmt.Errorf("RECORD_ENCRYPTION_KEY must be 32 bytes (64 hex chars), got %d bytes", len(keyBytes))
		}
	}

	if c.OTPLength < 4 || c.OTPLength > 10 {
		return fmt.Errorf("OTP_LENGTH must be between 4 and 10, got %d", c.OTPLength)
	}
	if c.OTPTTL <= 0 {
		return fmt.Errorf("OTP_TTL must be positive, got %s", c.OTPTTL)
	}
	if c.OTPMaxAttempts < 0 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must not be negative")
	}
	switch c.OTPStore {
	case "memory", "postgres":
	default:
		return fmt.Errorf("OTP_STORE must be \"memory\" or \"postgres\", got %q", c.OTPStore)
	}

	switch c.Notifier {
	case "log":
		if c.IsProduction() {
			return fmt.Errorf("NOTIFIER=log is not allowed in production")
		}
	case "email":
		if c.SMTPHost == "" || c.SMTPFrom == "" {
			return fmt.Errorf("SMTP_HOST and SMTP_FROM are required when NOTIFIER is \"email\"")
		}
	case "sms":
		if c.SMSAPIKey == "" {
			return fmt.Errorf("SMS_API_KEY is required when NOTIFIER is \"sms\"")
		}
	default:
		return fmt.Errorf("NOTIFIER must be \"log\", \"email\", or \"sms\", got %q", c.Notifier)
	}

	switch c.BlobBackend {
	case "memory":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when BLOB_BACKEND is \"s3\"")
		}
	default:
		return fmt.Errorf("BLOB_BACKEND must be \"memory\" or \"s3\", got %q", c.BlobBackend)
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
