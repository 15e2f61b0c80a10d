package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds the tracker server settings.
type Config struct {
	Address         string        `yaml:"address" env:"TRACKER_ADDR" env-default:":8080"`
	DBPath          string        `yaml:"db_path" env:"TRACKER_DB_PATH" env-default:"data/tracker.db"`
	LogLevel        string        `yaml:"log_level" env:"LOG_LEVEL" env-default:"INFO"`
	LogFile         string        `yaml:"log_file" env:"LOG_FILE"`
	JWTSecret       string        `yaml:"jwt_secret" env:"TRACKER_JWT_SECRET" env-required:"true"`
	PushBuffer      int           `yaml:"push_buffer" env:"TRACKER_PUSH_BUFFER" env-default:"16"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"TRACKER_SHUTDOWN_TIMEOUT" env-default:"5s"`
}

// PathEnv names the variable that overrides the default config file path.
const PathEnv = "TRACKER_CONFIG"

// DefaultPath returns the config file path from PathEnv, or config.yaml.
func DefaultPath() string {
	if p := os.Getenv(PathEnv); p != "" {
		return p
	}
	return "config.yaml"
}

// Load reads configPath when it exists and falls back to the environment
// otherwise. Environment variables override values read from the file.
func Load(configPath string) (Config, error) {
	var cfg Config

	if configPath == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return Config{}, fmt.Errorf("read env: %w", err)
		}
		return cfg, nil
	}

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		var pe *os.PathError
		if !errors.As(err, &pe) {
			return Config{}, fmt.Errorf("read config %q: %w", configPath, err)
		}
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return Config{}, fmt.Errorf("read env: %w", err)
		}
	}
	return cfg, nil
}
