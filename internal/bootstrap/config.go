package bootstrap

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/target/reclaim/config"
)

// envFilesVar lists dotenv files to read before parsing the environment. Values already
// set in the process environment win over the files.
const envFilesVar = "ENV_FILES"

// LoadConfig reads the dotenv files named by ENV_FILES (default .env, missing files are
// skipped), parses the environment and sanitizes the result.
func LoadConfig() (config.AppConfig, error) {
	return loadConfig(envFiles())
}

func envFiles() []string {
	raw, ok := os.LookupEnv(envFilesVar)
	if !ok {
		return []string{".env"}
	}
	var files []string
	for f := range strings.SplitSeq(raw, ",") {
		if f = strings.TrimSpace(f); f != "" {
			files = append(files, f)
		}
	}
	return files
}

func loadConfig(files []string) (config.AppConfig, error) {
	var cfg config.AppConfig
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return cfg, fmt.Errorf("load %s: %w", f, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.Sanitize()
	return cfg, nil
}

// InitLogger builds the process logger and installs it as the slog default. Development
// mode logs text with source positions, everything else logs JSON.
func InitLogger(cfg *config.AppConfig) *slog.Logger {
	return newLogger(os.Stdout, cfg)
}

func newLogger(w io.Writer, cfg *config.AppConfig) *slog.Logger {
	var c config.AppConfig
	if cfg != nil {
		c = *cfg
	}
	opts := &slog.HandlerOptions{Level: c.SlogLevel(), AddSource: c.IsDev}

	var h slog.Handler
	if c.IsDev {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	logger := slog.New(h).With("service", "reclaim")
	slog.SetDefault(logger)
	return logger
}

// EnabledServices parses SERVICES and lists the enabled modes in canonical order. It fails
// when SERVICES is malformed or enables nothing.
func EnabledServices(cfg *config.AppConfig) ([]string, error) {
	if cfg == nil {
		return nil, errors.New("service config is required")
	}
	enabled, err := cfg.GetEnabledServices()
	if err != nil {
		return nil, fmt.Errorf("invalid service configuration: %w", err)
	}

	var names []string
	for _, mode := range config.ValidServiceModes() {
		if enabled[mode] {
			names = append(names, string(mode))
		}
	}
	if len(names) == 0 {
		return nil, errors.New("no services enabled")
	}
	return names, nil
}
