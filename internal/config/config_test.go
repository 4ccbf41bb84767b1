package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	env, err := cfg.Environment("")
	require.NoError(t, err)
	assert.Equal(t, "dev", env.Name)
	assert.Equal(t, "localhost:6379", env.Redis.Addr())
	assert.Equal(t, 30*time.Second, env.Redis.TimeoutDuration())
}

func TestLoadMissingFileFallsBackToDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Config{
		Environments: map[string]Environment{
			"prod": {
				Name: "prod",
				Redis: Redis{
					Host:     "redis.internal",
					Port:     6380,
					Password: "secret",
					DB:       2,
					TLS:      true,
					Timeout:  5,
				},
			},
		},
		DefaultEnvironment: "prod",
		OutputFormat:       "json",
		HistorySize:        500,
	}
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":\n\t- not yaml"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvironmentUnknownName(t *testing.T) {
	cfg := Default()
	_, err := cfg.Environment("staging")
	assert.Error(t, err)
}
