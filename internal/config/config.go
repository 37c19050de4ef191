// Package config loads the channel client configuration from file and
// environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RelayConfig tunes the relay connection.
type RelayConfig struct {
	Endpoint             string        `mapstructure:"endpoint"`
	Protocol             string        `mapstructure:"protocol"`
	DialTimeout          time.Duration `mapstructure:"dial_timeout"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout"`
	ReconnectBaseDelay   time.Duration `mapstructure:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `mapstructure:"reconnect_max_delay"`
	ReconnectMaxAttempts int           `mapstructure:"reconnect_max_attempts"`
}

// ChannelConfig tunes session lifecycle behavior.
type ChannelConfig struct {
	Quorum             int           `mapstructure:"quorum"`
	ChallengePeriod    time.Duration `mapstructure:"challenge_period"`
	CreateTimeout      time.Duration `mapstructure:"create_timeout"`
	ResyncTimeout      time.Duration `mapstructure:"resync_timeout"`
	StrictConfirmation bool          `mapstructure:"strict_confirmation"`
}

// WalletConfig locates the signing key.
type WalletConfig struct {
	KeyFile string `mapstructure:"key_file"`
}

// APIConfig tunes the HTTP gateway.
type APIConfig struct {
	ListenAddr string        `mapstructure:"listen_addr"`
	JWTSecret  string        `mapstructure:"jwt_secret"`
	JWTIssuer  string        `mapstructure:"jwt_issuer"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
}

// HistoryConfig locates the local settlement ledger.
type HistoryConfig struct {
	Path string `mapstructure:"path"`
}

// Config is the full client configuration.
type Config struct {
	Relay   RelayConfig   `mapstructure:"relay"`
	Channel ChannelConfig `mapstructure:"channel"`
	Wallet  WalletConfig  `mapstructure:"wallet"`
	API     APIConfig     `mapstructure:"api"`
	History HistoryConfig `mapstructure:"history"`
}

// Load reads configuration from the given file (optional), falling back to
// ./config.yaml, with PULSE_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("relay.endpoint", "wss://clearnet.pulse-remit.io/ws")
	v.SetDefault("relay.protocol", "pulse-remit.v1")
	v.SetDefault("relay.dial_timeout", 10*time.Second)
	v.SetDefault("relay.request_timeout", 15*time.Second)
	v.SetDefault("relay.reconnect_base_delay", 1*time.Second)
	v.SetDefault("relay.reconnect_max_delay", 30*time.Second)
	v.SetDefault("relay.reconnect_max_attempts", 5)

	v.SetDefault("channel.quorum", 2)
	v.SetDefault("channel.challenge_period", 1*time.Hour)
	v.SetDefault("channel.create_timeout", 15*time.Second)
	v.SetDefault("channel.resync_timeout", 10*time.Second)
	v.SetDefault("channel.strict_confirmation", false)

	v.SetDefault("wallet.key_file", "wallet.key")

	v.SetDefault("api.listen_addr", ":8090")
	v.SetDefault("api.jwt_issuer", "pulse-remit-channel")
	v.SetDefault("api.token_ttl", 24*time.Hour)

	v.SetDefault("history.path", "history.db")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.pulse-remit")
	}

	v.SetEnvPrefix("PULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the client cannot run with.
func (c *Config) Validate() error {
	if c.Relay.Endpoint == "" {
		return fmt.Errorf("relay endpoint is required")
	}
	if c.Relay.RequestTimeout <= 0 {
		return fmt.Errorf("relay request timeout must be positive")
	}
	if c.Channel.Quorum < 1 {
		return fmt.Errorf("channel quorum must be at least 1")
	}
	if c.Channel.ChallengePeriod <= 0 {
		return fmt.Errorf("channel challenge period must be positive")
	}
	return nil
}
