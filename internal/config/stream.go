package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// StreamConfig holds configuration for the stream command. Streaming scans
// never consult the snapshot cache, so there are no redis settings here.
type StreamConfig struct {
	RPCURL            string
	Factory           string
	Multicall         string
	TokenList         string
	Tokens            []string
	ChunkSize         int
	MaxTokens         int
	MaxPairs          int
	Checkpoint        string
	CheckpointEnabled bool
	MaxRetries        int
	RetryBackoff      time.Duration
	LogLevel          string
}

// LoadStream merges config file, environment variables, and flags into
// StreamConfig.
func LoadStream(cfgFile string, flags *pflag.FlagSet) (StreamConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("ROUTER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("chunk-size", 100)
	v.SetDefault("max-tokens", 120)
	v.SetDefault("max-pairs", 4000)
	v.SetDefault("checkpoint", "./data/checkpoint.json")
	v.SetDefault("checkpoint-enabled", true)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return StreamConfig{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return StreamConfig{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return StreamConfig{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := StreamConfig{
		RPCURL:            v.GetString("rpc"),
		Factory:           v.GetString("factory"),
		Multicall:         v.GetString("multicall"),
		TokenList:         v.GetString("tokenlist"),
		Tokens:            getStringSlice(v, "tokens"),
		ChunkSize:         v.GetInt("chunk-size"),
		MaxTokens:         v.GetInt("max-tokens"),
		MaxPairs:          v.GetInt("max-pairs"),
		Checkpoint:        v.GetString("checkpoint"),
		CheckpointEnabled: v.GetBool("checkpoint-enabled"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		LogLevel:          v.GetString("log-level"),
	}

	return cfg, nil
}
