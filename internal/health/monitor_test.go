package health

import (
	"context"
	"errors"
	"testing"

	"github.com/openfloor/indexer/internal/infra/storage"
	"github.com/openfloor/indexer/internal/infra/storage/memory"
)

type mockHead struct {
	head uint64
	err  error
}

func (m *mockHead) HeadBlock(ctx context.Context) (uint64, error) {
	return m.head, m.err
}

type mockWatermark struct {
	block uint64
	found bool
}

func (m *mockWatermark) Load(ctx context.Context) (uint64, bool, error) {
	return m.block, m.found, nil
}

type mockPinger struct {
	err error
}

func (m *mockPinger) Health(ctx context.Context) error {
	return m.err
}

func TestCheckHealthy(t *testing.T) {
	m := NewMonitor(1,
		&mockHead{head: 105},
		&mockWatermark{block: 100, found: true},
		memory.NewStore(),
		&mockPinger{},
		DefaultThresholds(),
	)

	report := m.Check(context.Background())
	if report.Status != StatusHealthy {
		t.Errorf("status = %s, want healthy", report.Status)
	}
	if report.BlockLag != 5 {
		t.Errorf("lag = %d, want 5", report.BlockLag)
	}
	if !report.DBHealthy {
		t.Error("db should be healthy")
	}
}

func TestCheckDegradedOnLag(t *testing.T) {
	m := NewMonitor(1,
		&mockHead{head: 200},
		&mockWatermark{block: 100, found: true},
		memory.NewStore(),
		&mockPinger{},
		DefaultThresholds(),
	)

	report := m.Check(context.Background())
	if report.Status != StatusDegraded {
		t.Errorf("status = %s, want degraded at lag 100", report.Status)
	}
}

func TestCheckCriticalOnDeepLag(t *testing.T) {
	m := NewMonitor(1,
		&mockHead{head: 1000},
		&mockWatermark{block: 100, found: true},
		memory.NewStore(),
		&mockPinger{},
		DefaultThresholds(),
	)

	report := m.Check(context.Background())
	if report.Status != StatusCritical {
		t.Errorf("status = %s, want critical at lag 900", report.Status)
	}
}

func TestCheckCriticalOnDBFailure(t *testing.T) {
	m := NewMonitor(1,
		&mockHead{head: 101},
		&mockWatermark{block: 100, found: true},
		memory.NewStore(),
		&mockPinger{err: errors.New("connection refused")},
		DefaultThresholds(),
	)

	report := m.Check(context.Background())
	if report.Status != StatusCritical {
		t.Errorf("status = %s, want critical when the db is down", report.Status)
	}
	if report.DBHealthy {
		t.Error("db healthy = true, want false")
	}
}

func TestCheckDegradedOnHeadFailure(t *testing.T) {
	m := NewMonitor(1,
		&mockHead{err: errors.New("rpc down")},
		&mockWatermark{block: 100, found: true},
		memory.NewStore(),
		&mockPinger{},
		DefaultThresholds(),
	)

	report := m.Check(context.Background())
	if report.Status != StatusDegraded {
		t.Errorf("status = %s, want degraded when the node is unreachable", report.Status)
	}
}

func TestCheckFlagsPendingFailedRanges(t *testing.T) {
	store := memory.NewStore()
	err := store.FailedRanges().Add(context.Background(), &storage.FailedRange{
		ID:        "fr-1",
		FromBlock: 10,
		ToBlock:   14,
		Status:    storage.FailedRangePending,
	})
	if err != nil {
		t.Fatal(err)
	}

	m := NewMonitor(1,
		&mockHead{head: 101},
		&mockWatermark{block: 100, found: true},
		store,
		&mockPinger{},
		DefaultThresholds(),
	)

	report := m.Check(context.Background())
	if !report.FailedRanges {
		t.Error("failed ranges flag not set")
	}
	if report.Status != StatusDegraded {
		t.Errorf("status = %s, want degraded with pending failed ranges", report.Status)
	}
}
