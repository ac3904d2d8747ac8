package config

import (
	"time"

	"github.com/openfloor/indexer/internal/infra/redis"
	"github.com/openfloor/indexer/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig    `yaml:"server"`
	Chain    ChainConfig     `yaml:"chain"`
	Redis    redis.Config    `yaml:"redis"`
	Logging  LoggingConfig   `yaml:"logging"`
	Database postgres.Config `yaml:"database"`
	Sync     SyncConfig      `yaml:"sync"`
	Worker   WorkerConfig    `yaml:"worker"`
}

// ServerConfig holds the health/metrics HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ChainConfig holds the chain connection and contract deployment set.
type ChainConfig struct {
	ID         uint64          `yaml:"id"`
	RPCURL     string          `yaml:"rpc_url"`
	RPCTimeout time.Duration   `yaml:"rpc_timeout"`
	Contracts  ContractsConfig `yaml:"contracts"`
}

// ContractsConfig lists the marketplace deployments on the active chain.
// Addresses are hex strings; empty lists disable the protocol's decoders.
type ContractsConfig struct {
	Seaport   []string `yaml:"seaport"`
	Wyvern    []string `yaml:"wyvern"`
	LooksRare []string `yaml:"looks_rare"`
	X2Y2      []string `yaml:"x2y2"`
	ZeroExV4  []string `yaml:"zeroex_v4"`
	Blur      []string `yaml:"blur"`
}

// SyncConfig bounds the scheduler and fetcher.
type SyncConfig struct {
	TickInterval    time.Duration `yaml:"tick_interval"`
	BatchSize       uint64        `yaml:"batch_size"`
	AllowedLag      uint64        `yaml:"allowed_lag"`
	BackfillChunk   uint64        `yaml:"backfill_chunk"`
	BlocksPerBatch  int           `yaml:"blocks_per_batch"`
	StartBlock      uint64        `yaml:"start_block"`
	CheckpointEvery uint64        `yaml:"checkpoint_every"`
	ReorgMaxDepth   int           `yaml:"reorg_max_depth"`
	FetchReceipts   bool          `yaml:"fetch_receipts"`
}

// WorkerConfig bounds queue consumption.
type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`
}
