package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags(t *testing.T, args ...string) *viper.Viper {
	t.Helper()
	v := viper.New()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, BindFlags(fs, v))
	require.NoError(t, fs.Parse(args))
	return v
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(newFlags(t))

	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 30*time.Minute, cfg.RunTTL)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
	assert.Equal(t, "ollama", cfg.API.APIType)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, 10, cfg.DBMaxConns)
}

func TestLoad_FlagsEnvAndFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "flow.yaml")
	require.NoError(t, os.WriteFile(file, []byte("model: from-file\nrag-url: http://rag:8000\nlog-format: text\n"), 0o600))

	t.Setenv("FLOW_API_TYPE", "openai")
	t.Setenv("FLOW_API_KEY", "sk-env")
	t.Setenv("FLOW_LOG_FORMAT", "json")

	cfg, err := Load(newFlags(t, "--config-file", file, "--addr", ":9090", "--run-ttl", "5m"))

	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, 5*time.Minute, cfg.RunTTL)
	assert.Equal(t, "openai", cfg.API.APIType)
	assert.Equal(t, "sk-env", cfg.API.APIKey)
	assert.Equal(t, "from-file", cfg.API.Model)
	assert.Equal(t, "http://rag:8000", cfg.API.RAGURL)
	assert.Equal(t, "json", cfg.LogFormat, "env overrides file")
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(newFlags(t, "--api-type", "bedrock"))
	assert.ErrorContains(t, err, "invalid api-type")

	_, err = Load(newFlags(t, "--run-ttl", "0s"))
	assert.ErrorContains(t, err, "run-ttl")
}
