// Package health surfaces the indexer's only externally observable
// failure mode: the gap between the sync watermark and the chain head.
package health

// Status is the aggregated health level.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
)

// Report is the /status payload.
type Report struct {
	ChainID      uint64 `json:"chain_id"`
	Status       Status `json:"status"`
	HeadBlock    uint64 `json:"head_block"`
	Watermark    uint64 `json:"watermark"`
	BlockLag     uint64 `json:"block_lag"`
	FailedRanges bool   `json:"failed_ranges_pending"`
	DBHealthy    bool   `json:"db_healthy"`
}
