package valkey

import (
	"errors"
	"time"
)

type Config struct {
	Addresses []string      `mapstructure:"addresses"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

func DefaultConfig() Config {
	return Config{
		Addresses: []string{"127.0.0.1:6379"},
		KeyPrefix: "resilience:",
		TTL:       24 * time.Hour,
	}
}

func (c Config) Validate() error {
	if len(c.Addresses) == 0 {
		return errors.New("at least one valkey address is required")
	}
	if c.TTL < 0 {
		return errors.New("ttl must not be negative")
	}
	return nil
}
