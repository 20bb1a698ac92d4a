package config

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Account AccountConfig
	API     APIConfig
	Log     LogConfig
}

type AccountConfig struct {
	Username string `env:"POLESTAR_USERNAME"`
	Password string `env:"POLESTAR_PASSWORD"`

	// VINs restricts the client to these vehicles. Empty means all vehicles
	// on the account.
	VINs []string `env:"POLESTAR_VINS"`
}

type APIConfig struct {
	// PublicAPIKey overrides the built-in key for the public image endpoint.
	PublicAPIKey string `env:"POLESTAR_PUBLIC_API_KEY"`

	TimeoutSeconds int `env:"POLESTAR_TIMEOUT_SECS, default=30"`
}

type LogConfig struct {
	Debug bool `env:"POLESTAR_DEBUG, default=false"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	if cfg.API.TimeoutSeconds <= 0 {
		return cfg, fmt.Errorf("POLESTAR_TIMEOUT_SECS must be positive")
	}

	return cfg, nil
}
