package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file. Environment variables in
// the file (${VAR} form) are expanded before parsing.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg AppConfig
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if cfg.Chain.RPCURL == "" {
		return nil, fmt.Errorf("chain.rpc_url is required")
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Chain.RPCTimeout == 0 {
		cfg.Chain.RPCTimeout = 30 * time.Second
	}
	if cfg.Sync.TickInterval == 0 {
		cfg.Sync.TickInterval = 2 * time.Second
	}
	if cfg.Sync.BatchSize == 0 {
		cfg.Sync.BatchSize = 4
	}
	if cfg.Sync.AllowedLag == 0 {
		cfg.Sync.AllowedLag = 64
	}
	if cfg.Sync.BackfillChunk == 0 {
		cfg.Sync.BackfillChunk = 500
	}
	if cfg.Sync.BlocksPerBatch == 0 {
		cfg.Sync.BlocksPerBatch = 32
	}
	if cfg.Sync.CheckpointEvery == 0 {
		cfg.Sync.CheckpointEvery = 10
	}
	if cfg.Sync.ReorgMaxDepth == 0 {
		cfg.Sync.ReorgMaxDepth = 100
	}
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 10
	}
}
