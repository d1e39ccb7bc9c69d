package config

import (
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Defaults returns the built-in propagation parameters. They match the
// constants the propagation semantics were tuned with: a two minute
// standing-time floor and a 30 minute interchange window.
func Defaults() PropagationConfig {
	return PropagationConfig{
		MinStandingTime:     2,
		MaxRepairIterations: 32,
		MaxConnectionGap:    30,
		DefaultTransferTime: 5,
	}
}

// Load reads and validates an application configuration file.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return cfg, err
	}
	for _, r := range cfg.Waiting.Rules {
		if err := v.Struct(r); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	def := Defaults()
	if cfg.Propagation.MinStandingTime == 0 {
		cfg.Propagation.MinStandingTime = def.MinStandingTime
	}
	if cfg.Propagation.MaxRepairIterations == 0 {
		cfg.Propagation.MaxRepairIterations = def.MaxRepairIterations
	}
	if cfg.Propagation.MaxConnectionGap == 0 {
		cfg.Propagation.MaxConnectionGap = def.MaxConnectionGap
	}
	if cfg.Propagation.DefaultTransferTime == 0 {
		cfg.Propagation.DefaultTransferTime = def.DefaultTransferTime
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 16181
	}
	if cfg.GTFSRT.ReadIntervalMS == 0 {
		cfg.GTFSRT.ReadIntervalMS = 30000
	}
}
