// Package config loads server settings from the environment, an optional
// .env file and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DatabaseMemory   = "memory"
	DatabaseSQLite   = "sqlite"
	DatabasePostgres = "postgres"
)

type Config struct {
	Port           int      `mapstructure:"port"`
	DatabaseType   string   `mapstructure:"database_type"`
	DatabaseURL    string   `mapstructure:"database_url"`
	IngressSecret  string   `mapstructure:"ingress_secret"`
	LogLevel       string   `mapstructure:"log_level"`
	LogFormat      string   `mapstructure:"log_format"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	DefaultRounds   int           `mapstructure:"default_rounds"`
	VotingDuration  time.Duration `mapstructure:"voting_duration"`
	ReadingDuration time.Duration `mapstructure:"reading_duration"`

	RoomInactivityTimeout time.Duration `mapstructure:"room_inactivity_timeout"`
	AdminGracePeriod      time.Duration `mapstructure:"admin_grace_period"`
	HeartbeatInterval     time.Duration `mapstructure:"heartbeat_interval"`
	// MaxRoomLifetime of zero disables the lifetime cap.
	MaxRoomLifetime     time.Duration `mapstructure:"max_room_lifetime"`
	SupervisorInterval  time.Duration `mapstructure:"supervisor_interval"`
	OrphanSweepInterval time.Duration `mapstructure:"orphan_sweep_interval"`
	StoreTimeout        time.Duration `mapstructure:"store_timeout"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Port:                  8080,
		DatabaseType:          DatabaseMemory,
		LogLevel:              "info",
		LogFormat:             "json",
		AllowedOrigins:        []string{},
		DefaultRounds:         3,
		VotingDuration:        30 * time.Second,
		ReadingDuration:       20 * time.Second,
		RoomInactivityTimeout: 30 * time.Minute,
		AdminGracePeriod:      5 * time.Minute,
		HeartbeatInterval:     30 * time.Second,
		MaxRoomLifetime:       4 * time.Hour,
		SupervisorInterval:    time.Minute,
		OrphanSweepInterval:   5 * time.Minute,
		StoreTimeout:          5 * time.Second,
	}
}

// SetDefaults registers every key on v so environment variables of the same
// name, upper-cased, are picked up by AutomaticEnv.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("port", d.Port)
	v.SetDefault("database_type", d.DatabaseType)
	v.SetDefault("database_url", d.DatabaseURL)
	v.SetDefault("ingress_secret", d.IngressSecret)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("allowed_origins", d.AllowedOrigins)
	v.SetDefault("default_rounds", d.DefaultRounds)
	v.SetDefault("voting_duration", d.VotingDuration)
	v.SetDefault("reading_duration", d.ReadingDuration)
	v.SetDefault("room_inactivity_timeout", d.RoomInactivityTimeout)
	v.SetDefault("admin_grace_period", d.AdminGracePeriod)
	v.SetDefault("heartbeat_interval", d.HeartbeatInterval)
	v.SetDefault("max_room_lifetime", d.MaxRoomLifetime)
	v.SetDefault("supervisor_interval", d.SupervisorInterval)
	v.SetDefault("orphan_sweep_interval", d.OrphanSweepInterval)
	v.SetDefault("store_timeout", d.StoreTimeout)
}

// Load reads the given .env files (missing files are skipped), then the
// environment, then defaults, and validates the result.
func Load(envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	v := viper.New()
	SetDefaults(v)
	v.AutomaticEnv()
	return FromViper(v)
}

func FromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.DatabaseType = strings.ToLower(strings.TrimSpace(cfg.DatabaseType))
	cfg.AllowedOrigins = slices.DeleteFunc(cfg.AllowedOrigins, func(s string) bool {
		return strings.TrimSpace(s) == ""
	})
	if errs := cfg.Validate(); len(errs) > 0 {
		return Config{}, errs
	}
	return cfg, nil
}

func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// ValidationError is one invalid setting.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d invalid settings:", len(e))
	for _, err := range e {
		sb.WriteString("\n  ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

func (c Config) Validate() ValidationErrors {
	var errs ValidationErrors
	add := func(field string, value any, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}

	if c.Port < 1 || c.Port > 65535 {
		add("PORT", c.Port, "must be between 1 and 65535")
	}
	switch c.DatabaseType {
	case DatabaseMemory:
	case DatabaseSQLite, DatabasePostgres:
		if c.DatabaseURL == "" {
			add("DATABASE_URL", c.DatabaseURL, "required for "+c.DatabaseType)
		}
	default:
		add("DATABASE_TYPE", c.DatabaseType, "must be memory, sqlite or postgres")
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.LogLevel) {
		add("LOG_LEVEL", c.LogLevel, "must be debug, info, warn or error")
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		add("LOG_FORMAT", c.LogFormat, "must be json or console")
	}
	if c.DefaultRounds < 1 || c.DefaultRounds > 10 {
		add("DEFAULT_ROUNDS", c.DefaultRounds, "must be between 1 and 10")
	}

	positive := []struct {
		field string
		value time.Duration
	}{
		{"VOTING_DURATION", c.VotingDuration},
		{"READING_DURATION", c.ReadingDuration},
		{"ROOM_INACTIVITY_TIMEOUT", c.RoomInactivityTimeout},
		{"ADMIN_GRACE_PERIOD", c.AdminGracePeriod},
		{"HEARTBEAT_INTERVAL", c.HeartbeatInterval},
		{"SUPERVISOR_INTERVAL", c.SupervisorInterval},
		{"ORPHAN_SWEEP_INTERVAL", c.OrphanSweepInterval},
		{"STORE_TIMEOUT", c.StoreTimeout},
	}
	for _, p := range positive {
		if p.value <= 0 {
			add(p.field, p.value, "must be positive")
		}
	}
	if c.MaxRoomLifetime < 0 {
		add("MAX_ROOM_LIFETIME", c.MaxRoomLifetime, "must be zero or positive")
	}
	return errs
}
