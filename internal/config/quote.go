package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// QuoteConfig holds configuration for the quote command.
type QuoteConfig struct {
	RPCURL       string
	Factory      string
	Multicall    string
	Quoter       string
	TokenList    string
	TokenIn      string
	TokenOut     string
	Amount       string
	SlippageBps  int
	Intermediary string
	MaxRetries   int
	RetryBackoff time.Duration
	LogLevel     string
}

// LoadQuote merges config file, environment variables, and flags into
// QuoteConfig.
func LoadQuote(cfgFile string, flags *pflag.FlagSet) (QuoteConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("ROUTER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("slippage-bps", 50)
	v.SetDefault("intermediary", "WETH")
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return QuoteConfig{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return QuoteConfig{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return QuoteConfig{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := QuoteConfig{
		RPCURL:       v.GetString("rpc"),
		Factory:      v.GetString("factory"),
		Multicall:    v.GetString("multicall"),
		Quoter:       v.GetString("quoter"),
		TokenList:    v.GetString("tokenlist"),
		TokenIn:      v.GetString("token-in"),
		TokenOut:     v.GetString("token-out"),
		Amount:       v.GetString("amount"),
		SlippageBps:  v.GetInt("slippage-bps"),
		Intermediary: v.GetString("intermediary"),
		MaxRetries:   v.GetInt("max-retries"),
		RetryBackoff: v.GetDuration("retry-backoff"),
		LogLevel:     v.GetString("log-level"),
	}

	return cfg, nil
}
