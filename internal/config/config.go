package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "JAMCHAT"

// maxRoomCapacity is the hard upper bound on participants per room.
const maxRoomCapacity = 20

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

type Config struct {
	ServerAddr     string
	AllowedOrigins []string
	// InstanceId identifies this process to its peers. Empty means one is
	// generated at startup.
	InstanceId string

	Store          string
	DatabaseDSN    string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	LogLevel  string
	LogFormat string

	RoomRadius      float64
	MaxParticipants int
	MessageTTL      time.Duration

	InactivityTimeout time.Duration
	ReaperInterval    time.Duration
	ReaperBatchSize   int

	// RateLimit is the sustained number of requests per second allowed per
	// client address, RateBurst the bucket size.
	RateLimit float64
	RateBurst int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8000")
	v.SetDefault("allowed_origins", "*")
	v.SetDefault("instance_id", "")
	v.SetDefault("store", StoreMemory)
	v.SetDefault("dsn", "")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("redis_key_prefix", "jam:")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("room_radius", 500.0)
	v.SetDefault("max_participants", 20)
	v.SetDefault("message_ttl", 30*24*time.Hour)
	v.SetDefault("inactivity_timeout", 30*time.Minute)
	v.SetDefault("reaper_interval", 5*time.Minute)
	v.SetDefault("reaper_batch_size", 100)
	v.SetDefault("rate_limit", 20.0)
	v.SetDefault("rate_burst", 40)
}

// Load reads the configuration from JAMCHAT_ prefixed environment variables.
// Variables found in envFiles are loaded first without overriding the
// environment; a missing file is not an error.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	setDefaults(v)

	return &Config{
		ServerAddr:        v.GetString("addr"),
		AllowedOrigins:    SplitList(v.GetString("allowed_origins")),
		InstanceId:        v.GetString("instance_id"),
		Store:             strings.ToLower(v.GetString("store")),
		DatabaseDSN:       v.GetString("dsn"),
		RedisAddr:         v.GetString("redis_addr"),
		RedisPassword:     v.GetString("redis_password"),
		RedisDB:           v.GetInt("redis_db"),
		RedisKeyPrefix:    v.GetString("redis_key_prefix"),
		LogLevel:          v.GetString("log_level"),
		LogFormat:         v.GetString("log_format"),
		RoomRadius:        v.GetFloat64("room_radius"),
		MaxParticipants:   v.GetInt("max_participants"),
		MessageTTL:        v.GetDuration("message_ttl"),
		InactivityTimeout: v.GetDuration("inactivity_timeout"),
		ReaperInterval:    v.GetDuration("reaper_interval"),
		ReaperBatchSize:   v.GetInt("reaper_batch_size"),
		RateLimit:         v.GetFloat64("rate_limit"),
		RateBurst:         v.GetInt("rate_burst"),
	}, nil
}

// SplitList splits a comma separated list, dropping empty items.
func SplitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server address cannot be empty")
	}

	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("database DSN cannot be empty for the postgres store")
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("redis address cannot be empty for the redis store")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	if c.RoomRadius <= 0 {
		return fmt.Errorf("room radius must be positive")
	}
	if c.MaxParticipants < 1 || c.MaxParticipants > maxRoomCapacity {
		return fmt.Errorf("max participants must be between 1 and %d", maxRoomCapacity)
	}
	if c.MessageTTL <= 0 || c.InactivityTimeout <= 0 || c.ReaperInterval <= 0 {
		return fmt.Errorf("durations must be positive")
	}
	if c.ReaperBatchSize < 1 {
		return fmt.Errorf("reaper batch size must be at least 1")
	}
	if c.RateLimit <= 0 || c.RateBurst < 1 {
		return fmt.Errorf("rate limit and burst must be positive")
	}

	return nil
}
