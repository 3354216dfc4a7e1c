package config

import (
	"errors"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

var severities = []interface{}{"critical", "high", "medium", "low"}

type ServerConfig struct {
	Address         string `mapstructure:"address"`
	Environment     string `mapstructure:"environment"`
	ReadTimeout     string `mapstructure:"read_timeout"`
	WriteTimeout    string `mapstructure:"write_timeout"`
	ShutdownTimeout string `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type BreakerConfig struct {
	Threshold int    `mapstructure:"threshold"`
	Timeout   string `mapstructure:"timeout"`
}

type HistoryConfig struct {
	Capacity      int    `mapstructure:"capacity"`
	Retention     string `mapstructure:"retention"`
	SweepSchedule string `mapstructure:"sweep_schedule"`
}

type HealthConfig struct {
	Interval     string `mapstructure:"interval"`
	ProbeTimeout string `mapstructure:"probe_timeout"`
	SlowResponse string `mapstructure:"slow_response"`
}

type PolicyConfig struct {
	MaxAttempts int     `mapstructure:"max_attempts"`
	BaseDelay   string  `mapstructure:"base_delay"`
	Multiplier  float64 `mapstructure:"multiplier"`
	MaxDelay    string  `mapstructure:"max_delay"`
}

type RecoveryConfig struct {
	AttemptTimeout string `mapstructure:"attempt_timeout"`
	// Policies override the built-in policy per severity name.
	Policies map[string]PolicyConfig `mapstructure:"policies"`
}

type SelfHealingConfig struct {
	Interval          string  `mapstructure:"interval"`
	CheckInterval     string  `mapstructure:"check_interval"`
	ErrorWindow       string  `mapstructure:"error_window"`
	ErrorThreshold    int     `mapstructure:"error_threshold"`
	MemoryThresholdMB int     `mapstructure:"memory_threshold_mb"`
	HealthThreshold   float64 `mapstructure:"health_threshold"`
	ProblemThreshold  int     `mapstructure:"problem_threshold"`
}

// ComponentConfig names an HTTP dependency probed with GET on its URL.
type ComponentConfig struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Breaker     BreakerConfig     `mapstructure:"breaker"`
	History     HistoryConfig     `mapstructure:"history"`
	Health      HealthConfig      `mapstructure:"health"`
	Recovery    RecoveryConfig    `mapstructure:"recovery"`
	SelfHealing SelfHealingConfig `mapstructure:"self_healing"`
	StateFile   string            `mapstructure:"state_file"`
	Components  []ComponentConfig `mapstructure:"components"`
}

// Loader reads one viper instance so a later Watch sees the same file.
type Loader struct {
	v     *viper.Viper
	paths []string
}

// NewLoader searches paths for config.yaml, ./config and . by default.
func NewLoader(paths ...string) *Loader {
	v := viper.New()

	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "5s")
	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("breaker.threshold", 5)
	v.SetDefault("breaker.timeout", "60s")
	v.SetDefault("history.capacity", 1000)
	v.SetDefault("history.retention", "1h")
	v.SetDefault("history.sweep_schedule", "@every 1m")
	v.SetDefault("health.interval", "30s")
	v.SetDefault("health.probe_timeout", "5s")
	v.SetDefault("health.slow_response", "1s")
	v.SetDefault("recovery.attempt_timeout", "30s")
	v.SetDefault("self_healing.interval", "5m")
	v.SetDefault("self_healing.check_interval", "30s")
	v.SetDefault("self_healing.error_window", "5m")
	v.SetDefault("self_healing.error_threshold", 50)
	v.SetDefault("self_healing.memory_threshold_mb", 512)
	v.SetDefault("self_healing.health_threshold", 0.5)
	v.SetDefault("self_healing.problem_threshold", 10)
	v.SetDefault("state_file", "")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"./config", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return &Loader{v: v, paths: paths}
}

// Load reads config.yaml from ./config or . with environment overrides.
func Load() (*Config, error) {
	return NewLoader().Load()
}

// Load reads a .env file found next to config.yaml into the environment
// first. Variables already set win over the file.
func (l *Loader) Load() (*Config, error) {
	if err := l.loadDotEnv(); err != nil {
		slog.Error("failed to read .env file", slog.String("error", err.Error()))
		return nil, err
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Warn("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", l.v.ConfigFileUsed()))
	}

	return l.decode()
}

// Watch calls onChange with every valid configuration written to the loaded
// file. Invalid edits are logged and ignored.
func (l *Loader) Watch(onChange func(*Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		cfg, err := l.decode()
		if err != nil {
			slog.Error("ignoring config change", slog.String("file", e.Name), slog.String("error", err.Error()))
			return
		}
		slog.Info("config file changed", slog.String("file", e.Name))
		onChange(cfg)
	})
	l.v.WatchConfig()
}

func (l *Loader) loadDotEnv() error {
	for _, p := range l.paths {
		path := filepath.Join(p, ".env")
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return err
		}
		slog.Info("loaded env file", slog.String("file", path))
	}
	return nil
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server, validation.By(func(value interface{}) error {
			sc, ok := value.(ServerConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a ServerConfig")
			}
			return validation.ValidateStruct(&sc,
				validation.Field(&sc.Environment,
					validation.Required,
					validation.In(EnvDev, EnvStaging, EnvProd),
				),
				validation.Field(&sc.Address,
					validation.Required,
					validation.By(validateHostPort),
				),
				validation.Field(&sc.ReadTimeout, validation.By(validateDuration)),
				validation.Field(&sc.WriteTimeout, validation.By(validateDuration)),
				validation.Field(&sc.ShutdownTimeout, validation.By(validateDuration)),
			)
		})),
		validation.Field(&c.Logging, validation.By(func(value interface{}) error {
			lc, ok := value.(LoggingConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
			}
			return validation.ValidateStruct(&lc,
				validation.Field(&lc.Level,
					validation.Required,
					validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
				),
			)
		})),
		validation.Field(&c.Breaker, validation.By(func(value interface{}) error {
			bc, ok := value.(BreakerConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a BreakerConfig")
			}
			return validation.ValidateStruct(&bc,
				validation.Field(&bc.Threshold, validation.Required, validation.Min(1)),
				validation.Field(&bc.Timeout, validation.Required, validation.By(validatePositiveDuration)),
			)
		})),
		validation.Field(&c.History, validation.By(func(value interface{}) error {
			hc, ok := value.(HistoryConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a HistoryConfig")
			}
			return validation.ValidateStruct(&hc,
				validation.Field(&hc.Capacity, validation.Required, validation.Min(1)),
				validation.Field(&hc.Retention, validation.By(validateDuration)),
				validation.Field(&hc.SweepSchedule, validation.Required),
			)
		})),
		validation.Field(&c.Health, validation.By(func(value interface{}) error {
			hc, ok := value.(HealthConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a HealthConfig")
			}
			return validation.ValidateStruct(&hc,
				validation.Field(&hc.Interval, validation.Required, validation.By(validatePositiveDuration)),
				validation.Field(&hc.ProbeTimeout, validation.Required, validation.By(validatePositiveDuration)),
				validation.Field(&hc.SlowResponse, validation.By(validateDuration)),
			)
		})),
		validation.Field(&c.Recovery, validation.By(func(value interface{}) error {
			rc, ok := value.(RecoveryConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a RecoveryConfig")
			}
			return validation.ValidateStruct(&rc,
				validation.Field(&rc.AttemptTimeout, validation.By(validateDuration)),
				validation.Field(&rc.Policies, validation.By(validatePolicies)),
			)
		})),
		validation.Field(&c.SelfHealing, validation.By(func(value interface{}) error {
			sc, ok := value.(SelfHealingConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a SelfHealingConfig")
			}
			return validation.ValidateStruct(&sc,
				validation.Field(&sc.Interval, validation.Required, validation.By(validatePositiveDuration)),
				validation.Field(&sc.CheckInterval, validation.Required, validation.By(validatePositiveDuration)),
				validation.Field(&sc.ErrorWindow, validation.Required, validation.By(validatePositiveDuration)),
				validation.Field(&sc.ErrorThreshold, validation.Min(0)),
				validation.Field(&sc.MemoryThresholdMB, validation.Min(0)),
				validation.Field(&sc.HealthThreshold, validation.Min(0.0), validation.Max(1.0)),
				validation.Field(&sc.ProblemThreshold, validation.Min(0)),
			)
		})),
		validation.Field(&c.Components, validation.Each(validation.By(validateComponentConfig))),
	)
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

// validateDuration accepts an empty string so optional durations can fall
// back to the engine defaults.
func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if durationStr == "" {
		return nil
	}

	if _, err := time.ParseDuration(durationStr); err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}

	return nil
}

// validatePositiveDuration is validateDuration for values that drive tickers
// or timeouts, where zero or a negative span cannot work.
func validatePositiveDuration(value interface{}) error {
	if err := validateDuration(value); err != nil {
		return err
	}

	durationStr, _ := value.(string)
	if durationStr == "" {
		return nil
	}
	if d, _ := time.ParseDuration(durationStr); d <= 0 {
		return validation.NewError("validation_non_positive_duration", "must be greater than zero")
	}

	return nil
}

func validatePolicies(value interface{}) error {
	policies, ok := value.(map[string]PolicyConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a map of policies")
	}

	errs := validation.Errors{}
	for name, p := range policies {
		if err := validation.Validate(strings.ToLower(name), validation.In(severities...)); err != nil {
			errs[name] = validation.NewError("validation_unknown_severity", "must be one of critical, high, medium, low")
			continue
		}
		errs[name] = validation.ValidateStruct(&p,
			validation.Field(&p.MaxAttempts, validation.Min(0)),
			validation.Field(&p.BaseDelay, validation.By(validateDuration)),
			validation.Field(&p.Multiplier, validation.Min(0.0)),
			validation.Field(&p.MaxDelay, validation.By(validateDuration)),
		)
	}
	return errs.Filter()
}

func validateComponentConfig(value interface{}) error {
	c, ok := value.(ComponentConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a ComponentConfig")
	}

	if strings.TrimSpace(c.Name) == "" {
		return validation.NewError("validation_empty_name", "component name cannot be empty")
	}

	if c.URL == "" {
		return validation.NewError("validation_empty_url", "component URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.URL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}
