package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
chain:
  id: 1
  rpc_url: http://localhost:8545
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want default 8080", cfg.Server.Port)
	}
	if cfg.Chain.RPCTimeout != 30*time.Second {
		t.Errorf("rpc timeout = %s, want default 30s", cfg.Chain.RPCTimeout)
	}
	if cfg.Sync.TickInterval != 2*time.Second {
		t.Errorf("tick interval = %s, want default 2s", cfg.Sync.TickInterval)
	}
	if cfg.Sync.BatchSize != 4 || cfg.Sync.AllowedLag != 64 {
		t.Errorf("sync defaults = %d/%d, want 4/64", cfg.Sync.BatchSize, cfg.Sync.AllowedLag)
	}
	if cfg.Sync.BackfillChunk != 500 || cfg.Sync.ReorgMaxDepth != 100 {
		t.Errorf("sync defaults = %d/%d, want 500/100", cfg.Sync.BackfillChunk, cfg.Sync.ReorgMaxDepth)
	}
	if cfg.Worker.Concurrency != 10 {
		t.Errorf("concurrency = %d, want default 10", cfg.Worker.Concurrency)
	}
}

func TestLoadParsesFullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
chain:
  id: 137
  rpc_url: http://localhost:8545
  rpc_timeout: 10s
  contracts:
    seaport:
      - "0x00000000000000ADc04C56Bf30aC9d3c0aAF14dC"
    looks_rare:
      - "0x59728544B08AB483533076417FbBB2fD0B17CE3a"
sync:
  tick_interval: 5s
  batch_size: 8
  start_block: 1000000
  fetch_receipts: true
worker:
  concurrency: 4
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Chain.ID != 137 {
		t.Errorf("chain id = %d, want 137", cfg.Chain.ID)
	}
	if cfg.Chain.RPCTimeout != 10*time.Second {
		t.Errorf("rpc timeout = %s, want 10s", cfg.Chain.RPCTimeout)
	}
	if len(cfg.Chain.Contracts.Seaport) != 1 || len(cfg.Chain.Contracts.LooksRare) != 1 {
		t.Errorf("contracts = %+v, want one seaport and one looksrare address", cfg.Chain.Contracts)
	}
	if len(cfg.Chain.Contracts.Blur) != 0 {
		t.Errorf("blur contracts = %v, want empty", cfg.Chain.Contracts.Blur)
	}
	if cfg.Sync.TickInterval != 5*time.Second || cfg.Sync.BatchSize != 8 {
		t.Errorf("sync = %s/%d, want 5s/8", cfg.Sync.TickInterval, cfg.Sync.BatchSize)
	}
	if cfg.Sync.StartBlock != 1000000 {
		t.Errorf("start block = %d, want 1000000", cfg.Sync.StartBlock)
	}
	if !cfg.Sync.FetchReceipts {
		t.Error("fetch receipts should be enabled")
	}
	if cfg.Worker.Concurrency != 4 {
		t.Errorf("concurrency = %d, want 4", cfg.Worker.Concurrency)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_RPC_URL", "http://node.internal:8545")

	path := writeConfig(t, `
chain:
  id: 1
  rpc_url: ${TEST_RPC_URL}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Chain.RPCURL != "http://node.internal:8545" {
		t.Errorf("rpc url = %q, want expanded env value", cfg.Chain.RPCURL)
	}
}

func TestLoadRequiresRPCURL(t *testing.T) {
	path := writeConfig(t, `
chain:
  id: 1
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing rpc url")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
