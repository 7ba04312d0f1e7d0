package config

import (
	"context"
	"os"
	"strings"
	"sync"

	"codeberg.org/mutker/battstat/internal/errors"
	"codeberg.org/mutker/battstat/internal/logger"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultInterval            = 2
	DefaultFastChargeThreshold = 800000
	DefaultCommandTimeout      = 300
	DefaultDumpCommand         = "dumpsys battery"
	DefaultLogLevel            = "info"

	envPrefix      = "BATTSTAT"
	envConfigPath  = "BATTSTAT_CONFIG"
	configName     = "battstat"
	configType     = "toml"
	configDir      = "/etc"
	powerSupplyDir = "/sys/class/power_supply/battery/"
)

type Sources struct {
	ChargeCounter    []string `mapstructure:"charge_counter"`
	ChargeFull       []string `mapstructure:"charge_full"`
	ChargeFullDesign []string `mapstructure:"charge_full_design"`
	CurrentNow       []string `mapstructure:"current_now"`
}

type Config struct {
	// Interval between refreshes in watch mode, in seconds.
	Interval int `mapstructure:"interval"`
	// FastChargeThreshold is the current_now magnitude, in the source's
	// native micro-units, at or above which charging counts as fast.
	FastChargeThreshold int64 `mapstructure:"fast_charge_threshold"`
	// CommandTimeout bounds the diagnostic dump command, in milliseconds.
	CommandTimeout int     `mapstructure:"command_timeout"`
	DumpCommand    string  `mapstructure:"dump_command"`
	Sources        Sources `mapstructure:"sources"`
	LogLevel       string  `mapstructure:"log_level"`
	Output         string  `mapstructure:"output"`
	Listen         string  `mapstructure:"listen"`
	Color          bool    `mapstructure:"color"`

	v        *viper.Viper
	fromFile bool
}

// flagKeys maps command line flag names to configuration keys.
var flagKeys = map[string]string{
	"config":                "",
	"interval":              "interval",
	"fast-charge-threshold": "fast_charge_threshold",
	"command-timeout":       "command_timeout",
	"dump-command":          "dump_command",
	"log-level":             "log_level",
	"output":                "output",
	"listen":                "listen",
	"color":                 "color",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("interval", DefaultInterval)
	v.SetDefault("fast_charge_threshold", DefaultFastChargeThreshold)
	v.SetDefault("command_timeout", DefaultCommandTimeout)
	v.SetDefault("dump_command", DefaultDumpCommand)
	v.SetDefault("sources.charge_counter", []string{powerSupplyDir + "charge_counter"})
	v.SetDefault("sources.charge_full", []string{powerSupplyDir + "charge_full"})
	v.SetDefault("sources.charge_full_design", []string{powerSupplyDir + "charge_full_design"})
	v.SetDefault("sources.current_now", []string{powerSupplyDir + "current_now"})
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("output", "")
	v.SetDefault("listen", "")
	v.SetDefault("color", true)
}

// Load reads configuration from defaults, the config file, BATTSTAT_*
// environment variables and flags, in increasing order of precedence.
// flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	errFactory := errors.New()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := os.Getenv(envConfigPath)
	if flags != nil {
		if f := flags.Lookup("config"); f != nil && f.Changed {
			path = f.Value.String()
		}
	}

	fromFile := true
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	} else {
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath(configDir)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errFactory.Wrap(errors.ErrReadConfig, err)
			}
			fromFile = false
		}
	}

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	cfg, err := unmarshal(v)
	if err != nil {
		return nil, err
	}
	cfg.fromFile = fromFile

	logger.Debug().
		Str("file", v.ConfigFileUsed()).
		Bool("from_file", fromFile).
		Msg("Config loaded")

	return cfg, nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		if key == "" {
			continue
		}
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}

	return nil
}

func unmarshal(v *viper.Viper) (*Config, error) {
	errFactory := errors.New()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}
	cfg.v = v

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks value ranges. Source lists may be empty: an empty list
// behaves like a source that never exists.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if _, ok := logger.ParseLevel(c.LogLevel); !ok {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval)
	}
	if c.FastChargeThreshold <= 0 {
		return errFactory.WithData(errors.ErrInvalidThreshold, c.FastChargeThreshold)
	}
	if c.CommandTimeout <= 0 {
		return errFactory.WithData(errors.ErrInvalidTimeout, c.CommandTimeout)
	}

	return nil
}

// Watch reloads the configuration whenever the config file changes and
// hands each valid result to fn. Invalid edits are logged and skipped.
// Watch is a no-op when no config file was read.
func (c *Config) Watch(ctx context.Context, fn func(*Config)) {
	if c.v == nil || !c.fromFile {
		return
	}

	var mu sync.Mutex
	active := true
	go func() {
		<-ctx.Done()
		mu.Lock()
		active = false
		mu.Unlock()
	}()

	c.v.OnConfigChange(func(e fsnotify.Event) {
		mu.Lock()
		defer mu.Unlock()
		if !active {
			return
		}

		next, err := unmarshal(c.v)
		if err != nil {
			logger.Warn().Err(err).Str("file", e.Name).Msg("Ignoring invalid config change")
			return
		}
		next.fromFile = true

		logger.Info().Str("file", e.Name).Msg("Config reloaded")
		fn(next)
	})
	c.v.WatchConfig()
}
