// Package config loads settings from a .env file, the environment and
// command-line flags. Flags win over the environment, which wins over .env.
package config

import (
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Keys
const (
	KeyServerURL      = "SERVER_URL"
	KeyLogLevel       = "LOG_LEVEL"
	KeyPort           = "PORT"
	KeyDatabasePath   = "DATABASE_PATH"
	KeyUploadDir      = "UPLOAD_DIR"
	KeySeedUsers      = "SEED_USERS"
	KeySessionTTL     = "SESSION_TTL"
	KeyMaxUploadBytes = "MAX_UPLOAD_BYTES"
)

// Client is the configuration of the chat client
type Client struct {
	ServerURL string
	LogLevel  string
}

// Server is the configuration of the development backend
type Server struct {
	Port           string
	DatabasePath   string
	UploadDir      string
	SeedUsers      bool
	SessionTTL     time.Duration
	MaxUploadBytes int64
	LogLevel       string
}

// SetDefaults registers the default of every key on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyServerURL, "http://localhost:8080")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyPort, "8080")
	v.SetDefault(KeyDatabasePath, "chat.db")
	v.SetDefault(KeyUploadDir, "uploads")
	v.SetDefault(KeySeedUsers, true)
	v.SetDefault(KeySessionTTL, 7*24*time.Hour)
	v.SetDefault(KeyMaxUploadBytes, int64(64<<20))
}

// LoadEnvFile loads path into the process environment. A missing file is not
// an error; existing environment variables are never overridden.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			log.Debug().Str("file", path).Msg("[config] no env file, using environment variables")
			return nil
		}
		return errors.Wrapf(err, "load %s", path)
	}
	log.Debug().Str("file", path).Msg("[config] env file loaded")
	return nil
}

// New returns a viper instance reading the environment with defaults set
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.AutomaticEnv()
	return v
}

// ClientFrom reads the client configuration from v
func ClientFrom(v *viper.Viper) (Client, error) {
	c := Client{
		ServerURL: v.GetString(KeyServerURL),
		LogLevel:  v.GetString(KeyLogLevel),
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return c, errors.Wrapf(err, "invalid %s", KeyServerURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return c, errors.Errorf("invalid %s %q: scheme must be http or https", KeyServerURL, c.ServerURL)
	}
	return c, nil
}

// ServerFrom reads the development backend configuration from v
func ServerFrom(v *viper.Viper) (Server, error) {
	s := Server{
		Port:           v.GetString(KeyPort),
		DatabasePath:   v.GetString(KeyDatabasePath),
		UploadDir:      v.GetString(KeyUploadDir),
		SeedUsers:      v.GetBool(KeySeedUsers),
		SessionTTL:     v.GetDuration(KeySessionTTL),
		MaxUploadBytes: v.GetInt64(KeyMaxUploadBytes),
		LogLevel:       v.GetString(KeyLogLevel),
	}
	if s.Port == "" {
		return s, errors.Errorf("%s must not be empty", KeyPort)
	}
	if s.SessionTTL <= 0 {
		return s, errors.Errorf("%s must be positive", KeySessionTTL)
	}
	if s.MaxUploadBytes <= 0 {
		return s, errors.Errorf("%s must be positive", KeyMaxUploadBytes)
	}
	return s, nil
}
