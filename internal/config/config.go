package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
	}
	Database struct {
		Path string
	}
	Log struct {
		Level string
	}
	Auth struct {
		JWTSecret       string
		TokenTTLMinutes int
		SecureCookie    bool
	}
	OTP struct {
		TTLMinutes int
	}
	Mail struct {
		Transport string
		From      string
		Region    string
		Endpoint  string
		Bucket    string
		KeyPrefix string
	}
	AWS struct {
		Profile string
	}
	Notify struct {
		Workers            int
		Async              bool
		SendTimeoutSeconds int
	}
}

const (
	TransportLog = "log"
	TransportSES = "ses"
	TransportS3  = "s3"
)

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	loadDotEnv(".env")
	return load(".")
}

func load(configPath string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EVENTHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("database.path", "data/eventhub.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("auth.tokenttlminutes", 60)
	v.SetDefault("auth.securecookie", true)
	v.SetDefault("otp.ttlminutes", 10)
	v.SetDefault("mail.transport", TransportLog)
	v.SetDefault("mail.from", "no-reply@eventhub.local")
	v.SetDefault("mail.region", "us-east-1")
	v.SetDefault("mail.endpoint", "")
	v.SetDefault("mail.bucket", "")
	v.SetDefault("mail.keyprefix", "outbound-mail")
	v.SetDefault("aws.profile", "")
	v.SetDefault("notify.workers", 4)
	v.SetDefault("notify.async", true)
	v.SetDefault("notify.sendtimeoutseconds", 15)

	v.SetConfigName("config")
	v.AddConfigPath(configPath)
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Mail.Transport = strings.ToLower(strings.TrimSpace(cfg.Mail.Transport))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth.jwtsecret is required")
	}
	if c.Auth.TokenTTLMinutes <= 0 {
		return fmt.Errorf("auth.tokenttlminutes must be positive")
	}
	if c.OTP.TTLMinutes <= 0 {
		return fmt.Errorf("otp.ttlminutes must be positive")
	}
	switch c.Mail.Transport {
	case TransportLog, TransportSES:
	case TransportS3:
		if strings.TrimSpace(c.Mail.Bucket) == "" {
			return fmt.Errorf("mail.bucket is required for the s3 transport")
		}
	default:
		return fmt.Errorf("unknown mail.transport %q", c.Mail.Transport)
	}
	if c.Mail.Transport != TransportLog && strings.TrimSpace(c.Mail.From) == "" {
		return fmt.Errorf("mail.from is required")
	}
	return nil
}

func (c Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLMinutes) * time.Minute
}

func (c Config) OTPTTL() time.Duration {
	return time.Duration(c.OTP.TTLMinutes) * time.Minute
}

func (c Config) SendTimeout() time.Duration {
	return time.Duration(c.Notify.SendTimeoutSeconds) * time.Second
}

func loadDotEnv(path string) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		partsIndex := strings.Index(line, "=")
		if partsIndex <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:partsIndex])
		value := strings.TrimSpace(line[partsIndex+1:])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
