package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. PLANTDASH_DB_PATH.
const EnvPrefix = "PLANTDASH"

// FileName is the optional settings file looked up in the workspace.
const FileName = "plantdash.yml"

// Settings is the process configuration resolved from defaults, the settings
// file, .env, the environment and CLI flags.
type Settings struct {
	Workspace string
	DB        DBSettings
	Backend   string
	Cloud     CloudSettings
	Broadcast BroadcastSettings
	Retention time.Duration
	Location  string
	Server    ServerSettings
	JWTSecret string
	Scheduler SchedulerSettings
	LogLevel  string
}

type DBSettings struct {
	Path        string
	OpenTimeout time.Duration
}

// CloudSettings configures the hosted backend adapter.
type CloudSettings struct {
	URL     string
	APIKey  string
	UserID  string
	Timeout time.Duration
}

type BroadcastSettings struct {
	Transport    string
	PollInterval time.Duration
	RedisAddr    string
}

type ServerSettings struct {
	Addr     string
	BasePath string
}

// SchedulerSettings drives the background jobs of the server.
type SchedulerSettings struct {
	TickInterval time.Duration
	TickStep     int
	CleanupSpec  string
	StatsRefresh time.Duration
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("workspace", ".")
	v.SetDefault("db.path", "")
	v.SetDefault("db.open_timeout", "5s")
	v.SetDefault("backend.kind", "local")
	v.SetDefault("cloud.url", "")
	v.SetDefault("cloud.api_key", "")
	v.SetDefault("cloud.user_id", "")
	v.SetDefault("cloud.timeout", "10s")
	v.SetDefault("broadcast.transport", "sqlite")
	v.SetDefault("broadcast.poll_interval", "250ms")
	v.SetDefault("broadcast.redis_addr", "127.0.0.1:6379")
	v.SetDefault("retention.days", 30)
	v.SetDefault("location", "America/Sao_Paulo")
	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("server.base_path", "/v0")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("scheduler.tick_interval", "30s")
	v.SetDefault("scheduler.tick_step", 5)
	v.SetDefault("scheduler.cleanup", "@daily")
	v.SetDefault("scheduler.stats_refresh", "1m")
	v.SetDefault("log.level", "info")
}

// Bind wires environment lookups and the optional settings file into v.
// envFile is loaded with godotenv first; a missing file is not an error.
func Bind(v *viper.Viper, envFile string) error {
	if envFile == "" {
		_ = godotenv.Load()
	} else if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load env file %s: %w", envFile, err)
	}
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	path := filepath.Join(v.GetString("workspace"), FileName)
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
	}
	return nil
}

// Load resolves Settings from v after Bind.
func Load(v *viper.Viper) (Settings, error) {
	s := Settings{
		Workspace: v.GetString("workspace"),
		DB: DBSettings{
			Path:        v.GetString("db.path"),
			OpenTimeout: v.GetDuration("db.open_timeout"),
		},
		Backend: v.GetString("backend.kind"),
		Cloud: CloudSettings{
			URL:     v.GetString("cloud.url"),
			APIKey:  v.GetString("cloud.api_key"),
			UserID:  v.GetString("cloud.user_id"),
			Timeout: v.GetDuration("cloud.timeout"),
		},
		Broadcast: BroadcastSettings{
			Transport:    v.GetString("broadcast.transport"),
			PollInterval: v.GetDuration("broadcast.poll_interval"),
			RedisAddr:    v.GetString("broadcast.redis_addr"),
		},
		Retention: time.Duration(v.GetInt("retention.days")) * 24 * time.Hour,
		Location:  v.GetString("location"),
		Server: ServerSettings{
			Addr:     v.GetString("server.addr"),
			BasePath: v.GetString("server.base_path"),
		},
		JWTSecret: v.GetString("auth.jwt_secret"),
		Scheduler: SchedulerSettings{
			TickInterval: v.GetDuration("scheduler.tick_interval"),
			TickStep:     v.GetInt("scheduler.tick_step"),
			CleanupSpec:  v.GetString("scheduler.cleanup"),
			StatsRefresh: v.GetDuration("scheduler.stats_refresh"),
		},
		LogLevel: v.GetString("log.level"),
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// Validate rejects settings the rest of the program cannot run with.
func (s Settings) Validate() error {
	switch s.Backend {
	case "local":
	case "cloud":
		if s.Cloud.URL == "" {
			return errors.New("cloud.url is required when backend.kind is cloud")
		}
		if s.Cloud.UserID == "" {
			return errors.New("cloud.user_id is required when backend.kind is cloud")
		}
	default:
		return fmt.Errorf("backend.kind must be local or cloud, got %q", s.Backend)
	}
	switch s.Broadcast.Transport {
	case "sqlite", "redis", "none":
	default:
		return fmt.Errorf("broadcast.transport must be sqlite, redis or none, got %q", s.Broadcast.Transport)
	}
	if s.Retention <= 0 {
		return errors.New("retention.days must be positive")
	}
	if s.Scheduler.TickStep < 0 {
		return errors.New("scheduler.tick_step must not be negative")
	}
	if _, err := s.Loc(); err != nil {
		return err
	}
	return nil
}

// Loc resolves the configured location; empty means UTC.
func (s Settings) Loc() (*time.Location, error) {
	if s.Location == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.Location)
	if err != nil {
		return nil, fmt.Errorf("location %q: %w", s.Location, err)
	}
	return loc, nil
}
