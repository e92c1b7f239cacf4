package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type loadOptions struct {
	configPath string
	envLookup  func(string) (string, bool)
	readFile   func(string) ([]byte, error)
}

// Option customises a Load call; used by tests to inject fake files and env.
type Option func(*loadOptions)

// WithConfigPath forces the YAML file path instead of SQUAD_CONFIG.
func WithConfigPath(path string) Option {
	return func(o *loadOptions) { o.configPath = path }
}

// WithEnvLookup replaces os.LookupEnv.
func WithEnvLookup(lookup func(string) (string, bool)) Option {
	return func(o *loadOptions) { o.envLookup = lookup }
}

// WithReadFile replaces os.ReadFile.
func WithReadFile(read func(string) ([]byte, error)) Option {
	return func(o *loadOptions) { o.readFile = read }
}

// Load builds the runtime configuration: defaults, then the YAML file when
// present, then environment overrides.
func Load(opts ...Option) (RuntimeConfig, error) {
	options := loadOptions{
		envLookup: os.LookupEnv,
		readFile:  os.ReadFile,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	cfg := Default()

	path := strings.TrimSpace(options.configPath)
	if path == "" {
		if v, ok := options.envLookup("SQUAD_CONFIG"); ok {
			path = strings.TrimSpace(v)
		}
	}
	if path != "" {
		data, err := options.readFile(path)
		switch {
		case err == nil:
			if len(bytes.TrimSpace(data)) > 0 {
				if err := yaml.Unmarshal(data, &cfg); err != nil {
					return RuntimeConfig{}, fmt.Errorf("parse config file %s: %w", path, err)
				}
			}
		case errors.Is(err, os.ErrNotExist):
			// Absent file means defaults; an explicitly named missing file is
			// still an error so deployments fail loudly.
			if options.configPath != "" {
				return RuntimeConfig{}, fmt.Errorf("read config file: %w", err)
			}
		default:
			return RuntimeConfig{}, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := applyEnv(&cfg, options.envLookup); err != nil {
		return RuntimeConfig{}, err
	}
	if err := Validate(cfg); err != nil {
		return RuntimeConfig{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *RuntimeConfig, lookup func(string) (string, bool)) error {
	setString := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var envErr error
	setInt := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			envErr = fmt.Errorf("invalid %s: %w", key, err)
			return
		}
		*dst = n
	}
	setBool := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			envErr = fmt.Errorf("invalid %s: %w", key, err)
			return
		}
		*dst = b
	}

	setString("SQUAD_ENVIRONMENT", &cfg.Environment)
	setString("SQUAD_LISTEN_ADDR", &cfg.ListenAddr)
	setString("SQUAD_STORE_BACKEND", &cfg.StoreBackend)
	setString("SQUAD_POSTGRES_DSN", &cfg.PostgresDSN)
	setString("SQUAD_BUS_BACKEND", &cfg.BusBackend)
	setString("SQUAD_REDIS_ADDR", &cfg.RedisAddr)
	setInt("SQUAD_REDIS_DB", &cfg.RedisDB)
	setBool("SQUAD_TRACKING_ENABLED", &cfg.Tracking.Enabled)
	setInt("SQUAD_TRACKING_STREAM_BUFFER_SIZE", &cfg.Tracking.StreamBufferSize)
	setInt("SQUAD_TRACKING_DECISION_LIMIT", &cfg.Tracking.DecisionLimit)
	setString("SQUAD_RETENTION_STRATEGY", &cfg.Retention.Strategy)
	setInt("SQUAD_RETENTION_MAX_AGE_DAYS", &cfg.Retention.MaxAgeDays)
	setBool("SQUAD_RETENTION_DRY_RUN", &cfg.Retention.DryRun)
	setInt("SQUAD_GOVERNANCE_APPROVAL_EXPIRY_HOURS", &cfg.Governance.ApprovalExpiryHours)
	setString("SQUAD_VECTOR_BACKEND", &cfg.Vector.Backend)
	setInt("SQUAD_VECTOR_DIMENSION", &cfg.Vector.Dimension)

	return envErr
}

// Validate rejects configurations the server cannot honour. Backends are
// chosen here, explicitly; there is no silent fallback at runtime.
func Validate(cfg RuntimeConfig) error {
	switch cfg.StoreBackend {
	case BackendPostgres:
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return errors.New("store_backend postgres requires postgres_dsn")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown store_backend %q", cfg.StoreBackend)
	}

	switch cfg.BusBackend {
	case BackendRedis:
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("bus_backend redis requires redis_addr")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown bus_backend %q", cfg.BusBackend)
	}

	switch cfg.Vector.Backend {
	case BackendPostgres:
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return errors.New("vector backend postgres requires postgres_dsn")
		}
	case BackendEmbedded, BackendMemory:
	default:
		return fmt.Errorf("unknown vector backend %q", cfg.Vector.Backend)
	}

	switch cfg.Retention.Strategy {
	case "time", "count", "hybrid", "status":
	default:
		return fmt.Errorf("unknown retention strategy %q", cfg.Retention.Strategy)
	}

	if cfg.Vector.Dimension <= 0 {
		return errors.New("vector dimension must be positive")
	}
	return nil
}
