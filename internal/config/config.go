package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DiscoverConfig holds configuration for the discover command, loaded from
// flags, env, or config file.
type DiscoverConfig struct {
	RPCURL        string
	Factory       string
	Multicall     string
	TokenList     string
	Tokens        []string
	ChunkSize     int
	MaxTokens     int
	MaxPairs      int
	Out           string
	NDJSONOut     string
	PGDSN         string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration
	MaxRetries    int
	RetryBackoff  time.Duration
	LogLevel      string
}

// Load merges config file, environment variables, and flags into
// DiscoverConfig.
func Load(cfgFile string, flags *pflag.FlagSet) (DiscoverConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("ROUTER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("chunk-size", 100)
	v.SetDefault("max-tokens", 120)
	v.SetDefault("max-pairs", 4000)
	v.SetDefault("cache-ttl", 5*time.Minute)
	v.SetDefault("redis-db", 0)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return DiscoverConfig{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return DiscoverConfig{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return DiscoverConfig{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := DiscoverConfig{
		RPCURL:        v.GetString("rpc"),
		Factory:       v.GetString("factory"),
		Multicall:     v.GetString("multicall"),
		TokenList:     v.GetString("tokenlist"),
		Tokens:        getStringSlice(v, "tokens"),
		ChunkSize:     v.GetInt("chunk-size"),
		MaxTokens:     v.GetInt("max-tokens"),
		MaxPairs:      v.GetInt("max-pairs"),
		Out:           v.GetString("out"),
		NDJSONOut:     v.GetString("ndjson-out"),
		PGDSN:         v.GetString("pg-dsn"),
		RedisAddr:     v.GetString("redis-addr"),
		RedisPassword: v.GetString("redis-password"),
		RedisDB:       v.GetInt("redis-db"),
		CacheTTL:      v.GetDuration("cache-ttl"),
		MaxRetries:    v.GetInt("max-retries"),
		RetryBackoff:  v.GetDuration("retry-backoff"),
		LogLevel:      v.GetString("log-level"),
	}

	return cfg, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
