// Package config loads the accountant daemon's configuration with viper.
//
// Settings come from accountant.yaml (searched in ./configs and .), then
// environment variables (genesis.seed → GENESIS_SEED), then defaults.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jmerrifield20/accountant/internal/genesis"
	"github.com/jmerrifield20/accountant/pkg/keys"
	"github.com/spf13/viper"
)

// Config is the daemon configuration.
type Config struct {
	RPC struct {
		Addr         string `mapstructure:"addr"`
		RateLimitRPS int    `mapstructure:"rate_limit_rps"`
		Workers      int    `mapstructure:"workers"`
	} `mapstructure:"rpc"`

	HTTP struct {
		Port         int      `mapstructure:"port"`
		CORSOrigins  []string `mapstructure:"cors_origins"`
		RateLimitRPS int      `mapstructure:"rate_limit_rps"`
	} `mapstructure:"http"`

	GRPC struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"grpc"`

	Genesis struct {
		Seed string `mapstructure:"seed"`
		// Balances is a list rather than a map because viper lowercases map
		// keys, which would corrupt base58 identities.
		Balances     []Balance `mapstructure:"balances"`
		MintMnemonic string    `mapstructure:"mint_mnemonic"`
		MintTokens   uint64    `mapstructure:"mint_tokens"`
	} `mapstructure:"genesis"`

	LogLevel string `mapstructure:"log_level"`
}

// Balance is one opening balance in the genesis section.
type Balance struct {
	Identity string `mapstructure:"identity"`
	Amount   uint64 `mapstructure:"amount"`
}

// Load reads the configuration. configFile overrides the search path when
// non-empty. found reports whether a config file was read.
func Load(configFile string) (cfg *Config, found bool, err error) {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("accountant")
		v.SetConfigType("yaml")
		v.AddConfigPath("configs")
		v.AddConfigPath(".")
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("rpc.addr", ":8000")
	v.SetDefault("rpc.rate_limit_rps", 200)
	v.SetDefault("rpc.workers", 64)
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("http.rate_limit_rps", 20)
	v.SetDefault("grpc.port", 9090)
	v.SetDefault("genesis.seed", "")
	v.SetDefault("genesis.mint_mnemonic", "")
	v.SetDefault("genesis.mint_tokens", 0)
	v.SetDefault("log_level", "info")

	found = true
	if err := v.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return nil, false, fmt.Errorf("read config: %w", err)
		}
		found = false
	}

	cfg = &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, false, fmt.Errorf("decode config: %w", err)
	}
	return cfg, found, nil
}

// BuildGenesis turns the genesis section into a genesis.Genesis.
func (c *Config) BuildGenesis() (*genesis.Genesis, error) {
	var allocs []genesis.Allocation
	for _, b := range c.Genesis.Balances {
		id, err := keys.ParseIdentity(b.Identity)
		if err != nil {
			return nil, fmt.Errorf("genesis balance %q: %w", b.Identity, err)
		}
		allocs = append(allocs, genesis.Allocation{Identity: id, Amount: b.Amount})
	}
	if c.Genesis.MintMnemonic != "" {
		mint, err := keys.FromMnemonic(c.Genesis.MintMnemonic, "")
		if err != nil {
			return nil, fmt.Errorf("genesis mint: %w", err)
		}
		allocs = append(allocs, genesis.Allocation{Identity: mint.Identity, Amount: c.Genesis.MintTokens})
	}
	return genesis.Build(c.Genesis.Seed, allocs)
}
