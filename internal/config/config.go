package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr         string
	CORSOrigin   string
	LogLevel     string
	LogFormat    string
	MaxBodyBytes int64
	// AI critique service
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	OpenAITimeout time.Duration
	// SMTP relay
	SMTPServer   string
	SMTPPort     string
	SMTPEmail    string
	SMTPPassword string
	SMTPFromName string
	SMTPTimeout  time.Duration
	// Key-value store
	RedisURL     string
	StoreTimeout time.Duration
	// Gallery and email limits
	GalleryMax      int
	EmailMaxPerHour int
}

func Load() Config {
	return Config{
		Addr:         getenv("API_ADDR", ":8787"),
		CORSOrigin:   getenv("CORS_ORIGIN", "*"),
		LogLevel:     getenv("LOG_LEVEL", "info"),
		LogFormat:    getenv("LOG_FORMAT", "json"),
		MaxBodyBytes: int64(getenvInt("MAX_BODY_BYTES", 10<<20)),
		// AI key empty by default, /analyze answers with a configuration error
		OpenAIAPIKey:  getenv("OPENAI_API_KEY", ""),
		OpenAIModel:   getenv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL: getenv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAITimeout: time.Duration(getenvInt("OPENAI_TIMEOUT_SECONDS", 60)) * time.Second,
		// SMTP - credentials empty by default, email disabled if not configured
		SMTPServer:      getenv("SMTP_SERVER", "smtp.gmail.com"),
		SMTPPort:        getenv("SMTP_PORT", "587"),
		SMTPEmail:       getenv("SMTP_EMAIL", ""),
		SMTPPassword:    getenv("SMTP_PASSWORD", ""),
		SMTPFromName:    getenv("SMTP_FROM_NAME", "낙서 분석가"),
		SMTPTimeout:     time.Duration(getenvInt("SMTP_TIMEOUT_SECONDS", 20)) * time.Second,
		RedisURL:        getenv("REDIS_URL", getenv("KV_URL", "redis://localhost:6379/0")),
		StoreTimeout:    time.Duration(getenvInt("STORE_TIMEOUT_SECONDS", 5)) * time.Second,
		GalleryMax:      getenvInt("GALLERY_MAX", 100),
		EmailMaxPerHour: getenvInt("EMAIL_MAX_PER_HOUR", 40),
	}
}

// LoadDotEnv reads KEY=VALUE pairs from path into the process environment.
// Variables already set win; a missing file is not an error.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

func (c Config) OpenAIConfigured() bool {
	return strings.TrimSpace(c.OpenAIAPIKey) != ""
}

func (c Config) SMTPConfigured() bool {
	return c.SMTPServer != "" && c.SMTPPort != "" && c.SMTPEmail != "" && c.SMTPPassword != ""
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
