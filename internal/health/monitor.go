package health

import (
	"context"
	"sync"
	"time"

	"github.com/openfloor/indexer/internal/infra/storage"
)

// HeadFetcher returns the chain head.
type HeadFetcher interface {
	HeadBlock(ctx context.Context) (uint64, error)
}

// WatermarkLoader returns the current sync watermark.
type WatermarkLoader interface {
	Load(ctx context.Context) (uint64, bool, error)
}

// Pinger checks database connectivity.
type Pinger interface {
	Health(ctx context.Context) error
}

// Thresholds classify watermark lag.
type Thresholds struct {
	DegradedLag uint64
	CriticalLag uint64
}

func DefaultThresholds() Thresholds {
	return Thresholds{DegradedLag: 32, CriticalLag: 512}
}

// Monitor builds health reports. Checks are rate limited so probing
// load balancers do not turn into RPC traffic.
type Monitor struct {
	chainID    uint64
	head       HeadFetcher
	watermark  WatermarkLoader
	store      storage.Store
	db         Pinger
	thresholds Thresholds

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport Report
}

func NewMonitor(
	chainID uint64,
	head HeadFetcher,
	watermark WatermarkLoader,
	store storage.Store,
	db Pinger,
	thresholds Thresholds,
) *Monitor {
	return &Monitor{
		chainID:    chainID,
		head:       head,
		watermark:  watermark,
		store:      store,
		db:         db,
		thresholds: thresholds,
	}
}

// Check produces the current report, cached for 10 seconds.
func (m *Monitor) Check(ctx context.Context) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastCheck) < 10*time.Second && m.lastReport.ChainID != 0 {
		return m.lastReport
	}

	report := Report{ChainID: m.chainID, Status: StatusHealthy}

	report.DBHealthy = m.db.Health(ctx) == nil
	if !report.DBHealthy {
		report.Status = StatusCritical
	}

	head, err := m.head.HeadBlock(ctx)
	if err != nil {
		report.Status = worst(report.Status, StatusDegraded)
	} else {
		report.HeadBlock = head
	}

	wm, found, err := m.watermark.Load(ctx)
	if err == nil && found {
		report.Watermark = wm
		if head > wm {
			report.BlockLag = head - wm
		}
	}

	switch {
	case report.BlockLag >= m.thresholds.CriticalLag:
		report.Status = worst(report.Status, StatusCritical)
	case report.BlockLag >= m.thresholds.DegradedLag:
		report.Status = worst(report.Status, StatusDegraded)
	}

	if fr, err := m.store.FailedRanges().GetNext(ctx); err == nil && fr != nil {
		report.FailedRanges = true
		report.Status = worst(report.Status, StatusDegraded)
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}

func worst(a, b Status) Status {
	rank := map[Status]int{StatusHealthy: 0, StatusDegraded: 1, StatusCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
