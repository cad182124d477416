// Package config loads environment configuration and persists wallet records.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config contains all configuration parameters for the wallet subsystem.
type Config struct {
	DataDir          string        `envconfig:"DATA_DIR" default:"./data"`
	Relays           []string      `envconfig:"RELAYS" default:"wss://relay.damus.io,wss://nos.lol,wss://relay.nostr.band"`
	RedisURL         string        `envconfig:"REDIS_URL"`     // empty = in-memory cache
	SparkAPIKey      string        `envconfig:"SPARK_API_KEY"` // node engine API key
	Nsec             string        `envconfig:"WALLET_NSEC"`   // owner identity key for backups
	LnAddressDomain  string        `envconfig:"LNADDRESS_DOMAIN" default:"spark.money"`
	DecryptTimeout   time.Duration `envconfig:"DECRYPT_TIMEOUT" default:"15s"`     // signer prompt guard
	RequestTimeout   time.Duration `envconfig:"REQUEST_TIMEOUT" default:"15s"`     // NWC round trip
	PublishTimeout   time.Duration `envconfig:"PUBLISH_TIMEOUT" default:"10s"`     // relay OK ack
	CoverageTimeout  time.Duration `envconfig:"COVERAGE_TIMEOUT" default:"8s"`     // per-relay backup probe
	UsernameDebounce time.Duration `envconfig:"USERNAME_DEBOUNCE" default:"400ms"` // lightning address typing
}

var cfg *Config

// Init loads configuration from environment variables.
func Init() error {
	c := &Config{}
	if err := envconfig.Process("", c); err != nil {
		return fmt.Errorf("failed to process config: %w", err)
	}
	for i, r := range c.Relays {
		c.Relays[i] = strings.TrimSpace(r)
	}
	cfg = c
	return nil
}

// Get returns the global configuration instance.
// Panics if Init() was not called.
func Get() *Config {
	if cfg == nil {
		panic("config not initialized, call Init() first")
	}
	return cfg
}

// SetForTest replaces the global config in tests.
func SetForTest(c *Config) {
	cfg = c
}
