package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/angeloszaimis/addrselect/internal/selector"
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

type ServerConfig struct {
	Address     string `mapstructure:"address"`
	Environment string `mapstructure:"environment"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type SelectorConfig struct {
	Algorithm        string `mapstructure:"algorithm"`
	Interval         int64  `mapstructure:"interval"`
	FailedTimesBound int    `mapstructure:"failed_times_bound"`
	WeightFloorBound int    `mapstructure:"weight_floor_bound"`
	KeepTime         int64  `mapstructure:"keep_time"`
	AdjustInterval   int64  `mapstructure:"adjust_interval"`
	DecreaseDelta    int    `mapstructure:"decrease_delta"`
	IncreaseDelta    int    `mapstructure:"increase_delta"`
	InitWeight       int    `mapstructure:"init_weight"`
	MaxStep          int    `mapstructure:"max_step"`
}

type EndpointConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type MetricsConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Logging   LoggingConfig    `mapstructure:"logging"`
	Selector  SelectorConfig   `mapstructure:"selector"`
	Endpoints []EndpointConfig `mapstructure:"endpoints"`
	Metrics   MetricsConfig    `mapstructure:"metrics"`

	v *viper.Viper
}

// Options converts the selector section into algorithm options.
func (s SelectorConfig) Options() selector.Options {
	return selector.Options{
		Interval:         s.Interval,
		FailedTimesBound: s.FailedTimesBound,
		WeightFloorBound: s.WeightFloorBound,
		KeepTime:         s.KeepTime,
		AdjustInterval:   s.AdjustInterval,
		DecreaseDelta:    s.DecreaseDelta,
		IncreaseDelta:    s.IncreaseDelta,
		InitWeight:       s.InitWeight,
		MaxStep:          s.MaxStep,
	}
}

// Addresses returns the configured endpoints in file order.
func (c *Config) Addresses() []selector.Address {
	addrs := make([]selector.Address, 0, len(c.Endpoints))
	for _, e := range c.Endpoints {
		addrs = append(addrs, selector.Address{Host: e.Host, Port: e.Port})
	}
	return addrs
}

// Flags returns the command-line flags Load understands.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("addrselect", pflag.ContinueOnError)
	fs.StringP("config", "c", "", "path to the YAML config file")
	fs.String("address", "", "control plane listen address")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("algorithm", "", "selection algorithm (weighted, round-robin)")
	return fs
}

var flagKeys = map[string]string{
	"address":   "server.address",
	"log-level": "logging.level",
	"algorithm": "selector.algorithm",
}

// Load resolves the configuration from defaults, the config file, the
// environment and flags, in increasing priority. path may be empty, in which
// case config.yaml is looked up in ./config and the working directory.
// flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" && flags != nil {
		path, _ = flags.GetString("config")
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, fmt.Errorf("read config: %w", err)
		}
		slog.Info("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	return decode(v)
}

func setDefaults(v *viper.Viper) {
	opts := selector.DefaultOptions()

	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("selector.algorithm", selector.AlgorithmWeighted)
	v.SetDefault("selector.interval", opts.Interval)
	v.SetDefault("selector.failed_times_bound", opts.FailedTimesBound)
	v.SetDefault("selector.weight_floor_bound", opts.WeightFloorBound)
	v.SetDefault("selector.keep_time", opts.KeepTime)
	v.SetDefault("selector.adjust_interval", opts.AdjustInterval)
	v.SetDefault("selector.decrease_delta", opts.DecreaseDelta)
	v.SetDefault("selector.increase_delta", opts.IncreaseDelta)
	v.SetDefault("selector.init_weight", opts.InitWeight)
	v.SetDefault("selector.max_step", opts.MaxStep)
	v.SetDefault("metrics.buffer_size", 1000)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg.v = v
	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
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
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
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
			}),
		),
		validation.Field(&c.Selector,
			validation.Required,
			validation.By(validateSelectorConfig),
		),
		validation.Field(&c.Endpoints,
			validation.Each(validation.By(validateEndpointConfig)),
			validation.By(validateUniqueEndpoints),
		),
		validation.Field(&c.Metrics,
			validation.By(func(value interface{}) error {
				mc, ok := value.(MetricsConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a MetricsConfig")
				}
				return validation.ValidateStruct(&mc,
					validation.Field(&mc.BufferSize, validation.Required, validation.Min(1)),
				)
			}),
		),
	)
}

func validateSelectorConfig(value interface{}) error {
	sc, ok := value.(SelectorConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a SelectorConfig")
	}

	if err := validation.ValidateStruct(&sc,
		validation.Field(&sc.Algorithm,
			validation.Required,
			validation.In(selector.AlgorithmWeighted, selector.AlgorithmRoundRobin),
		),
	); err != nil {
		return err
	}

	if sc.Algorithm != selector.AlgorithmWeighted {
		return nil
	}

	return sc.Options().Validate()
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

func validateEndpointConfig(value interface{}) error {
	ep, ok := value.(EndpointConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be an EndpointConfig")
	}

	return validation.ValidateStruct(&ep,
		validation.Field(&ep.Host, validation.Required, is.Host),
		validation.Field(&ep.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

func validateUniqueEndpoints(value interface{}) error {
	endpoints, ok := value.([]EndpointConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a list of EndpointConfig")
	}

	seen := make(map[selector.Address]struct{}, len(endpoints))
	for _, e := range endpoints {
		addr := selector.Address{Host: e.Host, Port: e.Port}
		if _, dup := seen[addr]; dup {
			return validation.NewError("validation_duplicate_endpoint", "duplicate endpoint "+addr.String())
		}
		seen[addr] = struct{}{}
	}

	return nil
}
