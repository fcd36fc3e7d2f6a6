// Package corvidconfig loads the structured driver configuration (seed
// addresses, pool sizing, timeouts, logging settings): a viper.Viper
// instance reads a YAML file and environment
// variables, decodes into the struct via mapstructure (through viper's
// Unmarshal), and the result is checked with go-playground/validator struct
// tags.
package corvidconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// LoggingConfig holds the log level and output format settings. Nothing in
// this module applies them to a logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
}

// Options is the structured driver configuration. connector.New takes its
// own connector.Options; this package does not convert between the two.
type Options struct {
	// Addresses lists the seed host:port pairs for the replica set (or the
	// single address, in single-node mode).
	Addresses []string `mapstructure:"addresses" validate:"required,min=1,dive,required" yaml:"addresses"`

	// PoolSize bounds the number of ports held open per address.
	PoolSize int `mapstructure:"pool_size" validate:"required,gt=0" yaml:"pool_size"`

	// ConnectTimeout bounds dialing a new Port.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"required,gt=0" yaml:"connect_timeout"`

	// SocketTimeout bounds a single Send/Call round trip.
	SocketTimeout time.Duration `mapstructure:"socket_timeout" validate:"required,gt=0" yaml:"socket_timeout"`

	// StaleAfter is the replica-set probe staleness window (see
	// replicaset.Options.StaleAfter).
	StaleAfter time.Duration `mapstructure:"stale_after" validate:"required,gt=0" yaml:"stale_after"`

	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// Default returns the baseline Options applied before a file or environment
// override is layered on top.
func Default() Options {
	return Options{
		PoolSize:       10,
		ConnectTimeout: 10 * time.Second,
		SocketTimeout:  30 * time.Second,
		StaleAfter:     90 * time.Second,
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}

// Load reads configuration from configPath (a YAML file; empty string skips
// the file and relies on environment/defaults alone) and CORVID_*
// environment variables, then validates the result.
//
// Precedence, highest to lowest: environment variables, configuration file,
// defaults.
func Load(configPath string) (*Options, error) {
	v := viper.New()
	v.SetEnvPrefix("CORVID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	applyDefaultsToViper(v, cfg)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("corvidconfig: reading config file: %w", err)
			}
		}
	}

	hook := mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		// CORVID_ADDRESSES=db-a:27017,db-b:27017 in the environment arrives
		// as one string and must still decode into the []string field.
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("corvidconfig: unmarshal: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("corvidconfig: validation failed: %w", err)
	}
	return &cfg, nil
}

func applyDefaultsToViper(v *viper.Viper, cfg Options) {
	// Registered even though the default is empty: viper only consults the
	// environment for keys it knows about, and addresses has no file-side
	// default to register it implicitly.
	v.SetDefault("addresses", cfg.Addresses)
	v.SetDefault("pool_size", cfg.PoolSize)
	v.SetDefault("connect_timeout", cfg.ConnectTimeout)
	v.SetDefault("socket_timeout", cfg.SocketTimeout)
	v.SetDefault("stale_after", cfg.StaleAfter)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
}

// Validate checks cfg against its struct tags using go-playground/validator.
func Validate(cfg *Options) error {
	return validator.New().Struct(cfg)
}

// Save writes cfg to path as YAML, respecting the yaml struct tags so the
// written file round-trips through Load unchanged. Useful for emitting a
// starter config from Default().
func Save(cfg *Options, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("corvidconfig: creating config directory: %w", err)
		}
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("corvidconfig: marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("corvidconfig: writing config file: %w", err)
	}
	return nil
}

// durationDecodeHook lets config files and environment variables use
// human-readable durations like "30s", "5m".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}
