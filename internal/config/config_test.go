package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.ServerAddr)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, 500.0, cfg.RoomRadius)
	assert.Equal(t, 20, cfg.MaxParticipants)
	assert.Equal(t, 30*24*time.Hour, cfg.MessageTTL)
	assert.Equal(t, 30*time.Minute, cfg.InactivityTimeout)
	assert.Equal(t, 5*time.Minute, cfg.ReaperInterval)
	assert.Equal(t, "jam:", cfg.RedisKeyPrefix)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_environment(t *testing.T) {
	t.Setenv("JAMCHAT_ADDR", ":9000")
	t.Setenv("JAMCHAT_STORE", "Postgres")
	t.Setenv("JAMCHAT_DSN", "postgres://localhost/jam")
	t.Setenv("JAMCHAT_ALLOWED_ORIGINS", "http://a.example, http://b.example,")
	t.Setenv("JAMCHAT_INACTIVITY_TIMEOUT", "45m")
	t.Setenv("JAMCHAT_MAX_PARTICIPANTS", "8")
	t.Setenv("JAMCHAT_INSTANCE_ID", "node-a")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.ServerAddr)
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, "postgres://localhost/jam", cfg.DatabaseDSN)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 45*time.Minute, cfg.InactivityTimeout)
	assert.Equal(t, 8, cfg.MaxParticipants)
	assert.Equal(t, "node-a", cfg.InstanceId)
}

func TestLoad_envFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("JAMCHAT_REDIS_ADDR=localhost:6379\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("JAMCHAT_REDIS_ADDR") })

	cfg, err := Load(path, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			ServerAddr:        ":8000",
			Store:             StoreMemory,
			LogFormat:         "text",
			RoomRadius:        500,
			MaxParticipants:   20,
			MessageTTL:        time.Hour,
			InactivityTimeout: time.Minute,
			ReaperInterval:    time.Minute,
			ReaperBatchSize:   10,
			RateLimit:         1,
			RateBurst:         1,
		}
	}

	tcases := []struct {
		name   string
		modify func(c *Config)
		err    bool
	}{
		{name: "valid config", modify: func(c *Config) {}},
		{name: "empty address", modify: func(c *Config) { c.ServerAddr = "" }, err: true},
		{name: "unknown store", modify: func(c *Config) { c.Store = "mongo" }, err: true},
		{name: "postgres without DSN", modify: func(c *Config) { c.Store = StorePostgres }, err: true},
		{
			name:   "postgres with DSN",
			modify: func(c *Config) { c.Store = StorePostgres; c.DatabaseDSN = "postgres://x" },
		},
		{name: "redis without address", modify: func(c *Config) { c.Store = StoreRedis }, err: true},
		{
			name:   "redis with address",
			modify: func(c *Config) { c.Store = StoreRedis; c.RedisAddr = "localhost:6379" },
		},
		{name: "unknown log format", modify: func(c *Config) { c.LogFormat = "xml" }, err: true},
		{name: "zero radius", modify: func(c *Config) { c.RoomRadius = 0 }, err: true},
		{name: "zero capacity", modify: func(c *Config) { c.MaxParticipants = 0 }, err: true},
		{name: "capacity above room limit", modify: func(c *Config) { c.MaxParticipants = 21 }, err: true},
		{name: "small capacity", modify: func(c *Config) { c.MaxParticipants = 2 }},
		{name: "zero inactivity", modify: func(c *Config) { c.InactivityTimeout = 0 }, err: true},
		{name: "zero batch", modify: func(c *Config) { c.ReaperBatchSize = 0 }, err: true},
		{name: "zero rate", modify: func(c *Config) { c.RateLimit = 0 }, err: true},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.modify(&cfg)

			err := cfg.Validate()
			if tc.err {
				assert.Error(t, err, "expected error for config: %s", tc.name)
				return
			}
			assert.NoError(t, err, "expected no error for config: %s", tc.name)
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, SplitList(""))
	assert.Equal(t, []string{"a"}, SplitList(" a "))
	assert.Equal(t, []string{"a", "b"}, SplitList("a,,b"))
}
