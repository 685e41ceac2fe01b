// Package config loads the stub configuration.
//
// Values come, in increasing priority, from defaults, the config file
// ($HOME/.dbgstub.yaml unless --config names another), DBGSTUB_* environment
// variables and command line flags bound by the cmd package.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	KeyListen         = "listen"
	KeyLogLevel       = "log.level"
	KeyLogWire        = "log.wire"
	KeyCompress       = "protocol.compress"
	KeyMaxRetransmits = "protocol.max-retransmits"
	KeyNonStop        = "protocol.nonstop"
	KeyPollInterval   = "poll.interval"
	KeyMemCacheLines  = "memcache.lines"
)

const (
	fileName  = ".dbgstub"
	envPrefix = "DBGSTUB"
)

// Log configures logging.
type Log struct {
	Level string
	Wire  bool // trace every packet in and out
}

// Protocol configures the remote protocol.
type Protocol struct {
	Compress       bool
	MaxRetransmits int
	NonStop        bool
}

// Config 调试桩配置
type Config struct {
	Listen        string
	Log           Log
	Protocol      Protocol
	PollInterval  time.Duration
	MemCacheLines int

	// File is the config file that was read, empty if none.
	File string
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyListen, "localhost:2345")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogWire, false)
	v.SetDefault(KeyCompress, false)
	v.SetDefault(KeyMaxRetransmits, 3)
	v.SetDefault(KeyNonStop, false)
	v.SetDefault(KeyPollInterval, 10*time.Millisecond)
	v.SetDefault(KeyMemCacheLines, 256)
}

// Load reads the configuration into v and returns it. file overrides the
// default config file; a missing default file is not an error.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return nil, fmt.Errorf("find home directory: %w", err)
		}
		v.AddConfigPath(home)
		v.SetConfigName(fileName)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		Listen: v.GetString(KeyListen),
		Log: Log{
			Level: v.GetString(KeyLogLevel),
			Wire:  v.GetBool(KeyLogWire),
		},
		Protocol: Protocol{
			Compress:       v.GetBool(KeyCompress),
			MaxRetransmits: v.GetInt(KeyMaxRetransmits),
			NonStop:        v.GetBool(KeyNonStop),
		},
		PollInterval:  v.GetDuration(KeyPollInterval),
		MemCacheLines: v.GetInt(KeyMemCacheLines),
	}
	if used := v.ConfigFileUsed(); used != "" {
		cfg.File = filepath.Clean(used)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values a config file or the environment may get wrong.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("%s must not be empty", KeyListen)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%s: %w", KeyLogLevel, err)
	}
	if c.Protocol.MaxRetransmits < 0 {
		return fmt.Errorf("%s must not be negative, got %d", KeyMaxRetransmits, c.Protocol.MaxRetransmits)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%s must be positive, got %s", KeyPollInterval, c.PollInterval)
	}
	if c.MemCacheLines < 0 {
		return fmt.Errorf("%s must not be negative, got %d", KeyMemCacheLines, c.MemCacheLines)
	}
	return nil
}
