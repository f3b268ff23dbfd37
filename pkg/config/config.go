// Package config loads service settings from flags, environment and an
// optional config file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/veka-server/ClaraVerse-sub006/pkg/modelclient"
)

// EnvPrefix is prepended to every environment variable, e.g. FLOW_DATABASE_URL.
const EnvPrefix = "FLOW"

// Config holds every setting of the flow service and CLI.
type Config struct {
	Addr           string        `mapstructure:"addr"`
	DatabaseURL    string        `mapstructure:"database-url"`
	DBMaxConns     int           `mapstructure:"db-max-conns"`
	LogLevel       string        `mapstructure:"log-level"`
	LogFormat      string        `mapstructure:"log-format"`
	RunTTL         time.Duration `mapstructure:"run-ttl"`
	AllowedOrigins []string      `mapstructure:"allowed-origins"`

	API modelclient.Config `mapstructure:",squash"`
}

// BindFlags registers the configuration flags and binds them to v.
func BindFlags(flags *pflag.FlagSet, v *viper.Viper) error {
	flags.String("config-file", "", "Path to config file.")
	flags.String("addr", ":8080", "HTTP listen address")
	flags.String("database-url", "", "PostgreSQL connection string; graphs are not persisted when empty")
	flags.Int("db-max-conns", 10, "maximum open database connections")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("log-format", "json", "log format: json or text")
	flags.Duration("run-ttl", 30*time.Minute, "how long finished runs stay queryable")
	flags.StringSlice("allowed-origins", []string{"http://localhost:3000"}, "CORS allowed origins")
	flags.String("api-type", modelclient.APITypeOllama, "default model backend: ollama or openai")
	flags.String("api-base-url", "", "model backend base URL (defaults per backend)")
	flags.String("api-key", "", "API key for OpenAI-compatible backends")
	flags.String("model", "", "default model name")
	flags.String("rag-url", "", "RAG backend base URL")
	flags.String("image-url", "", "image generation backend base URL")
	return v.BindPFlags(flags)
}

// Load reads the optional config file named by the config-file flag, then
// resolves every setting with flag > env > file > default precedence.
func Load(v *viper.Viper) (Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config-file"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			// it's ok if config file doesn't exist
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c Config) Validate() error {
	switch c.API.APIType {
	case modelclient.APITypeOllama, modelclient.APITypeOpenAI:
	default:
		return fmt.Errorf("invalid api-type %q", c.API.APIType)
	}
	if c.DBMaxConns < 0 {
		return fmt.Errorf("db-max-conns must not be negative")
	}
	if c.RunTTL <= 0 {
		return fmt.Errorf("run-ttl must be positive")
	}
	return nil
}
