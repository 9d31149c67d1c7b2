// Package config loads settings from defaults, an optional padchat.yaml,
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/RichardoC/padchat/internal/llm"
)

type Config struct {
	Backend           string        `mapstructure:"backend"`
	Model             string        `mapstructure:"model"`
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	SystemInstruction string        `mapstructure:"system_instruction"`
	MockDelay         time.Duration `mapstructure:"mock_delay"`

	Greeting string `mapstructure:"greeting"`
	Addr     string `mapstructure:"addr"`
	// DBPath is the turn ledger; empty disables it.
	DBPath string `mapstructure:"db_path"`
	Debug  bool   `mapstructure:"debug"`
}

// LLMOptions maps the config onto session bootstrap options.
func (c *Config) LLMOptions() llm.Options {
	return llm.Options{
		Backend:           c.Backend,
		Model:             c.Model,
		APIKey:            c.APIKey,
		BaseURL:           c.BaseURL,
		SystemInstruction: c.SystemInstruction,
		MockDelay:         c.MockDelay,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend", llm.BackendGemini)
	v.SetDefault("model", llm.DefaultModel)
	v.SetDefault("base_url", "")
	v.SetDefault("system_instruction", "")
	v.SetDefault("mock_delay", 50*time.Millisecond)
	v.SetDefault("greeting", "Hello! How can I help you today?")
	v.SetDefault("addr", ":8100")
	v.SetDefault("db_path", "padchat.db")
	v.SetDefault("debug", false)
}

// Load resolves the configuration. flags may be nil; only flags the user
// actually set override the other sources.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "padchat"))
	}
	v.AddConfigPath(".")
	v.SetConfigName("padchat")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("PADCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("api_key", "PADCHAT_API_KEY", "API_KEY", "GEMINI_API_KEY")

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			key := strings.ReplaceAll(f.Name, "-", "_")
			bindErr = errors.Join(bindErr, v.BindPFlag(key, f))
		})
		if bindErr != nil {
			return nil, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config %s: %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that would make the server unusable. A missing
// API key is not an error here: it surfaces as a bootstrap failure.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Backend) {
	case llm.BackendGemini, llm.BackendOpenAI, llm.BackendMock:
	default:
		return fmt.Errorf("invalid backend %q: want %s, %s or %s", c.Backend, llm.BackendGemini, llm.BackendOpenAI, llm.BackendMock)
	}
	if strings.TrimSpace(c.Model) == "" {
		return errors.New("model must not be empty")
	}
	if c.Addr == "" {
		return errors.New("addr must not be empty")
	}
	if c.MockDelay < 0 {
		return errors.New("mock_delay must not be negative")
	}
	return nil
}
