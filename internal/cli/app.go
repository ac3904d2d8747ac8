package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hibiken/asynq"

	"github.com/openfloor/indexer/internal/aggregate"
	"github.com/openfloor/indexer/internal/core/config"
	"github.com/openfloor/indexer/internal/decode"
	"github.com/openfloor/indexer/internal/fetch"
	"github.com/openfloor/indexer/internal/health"
	"github.com/openfloor/indexer/internal/infra/redis"
	"github.com/openfloor/indexer/internal/infra/rpc"
	"github.com/openfloor/indexer/internal/infra/storage/postgres"
	"github.com/openfloor/indexer/internal/queue"
	"github.com/openfloor/indexer/internal/reconcile"
	"github.com/openfloor/indexer/internal/reorg"
	"github.com/openfloor/indexer/internal/syncer"
)

// App is the composition root: every component wired and owned in one
// place so startup order and shutdown order stay explicit.
type App struct {
	cfg *config.AppConfig
	log *slog.Logger

	db          *postgres.DB
	rdb         *redis.Client
	queueClient *queue.Client

	scheduler      *syncer.Scheduler
	mainServer     *asynq.Server
	backfillServer *asynq.Server
	mux            *asynq.ServeMux
	healthServer   *health.Server

	cancel context.CancelFunc
}

func NewApp(ctx context.Context, cfg *config.AppConfig, log *slog.Logger) (*App, error) {
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrations: %w", err)
	}
	store := postgres.NewStore(db)

	rdb, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	redisOpt := asynq.RedisClientOpt{Addr: redisAddr(cfg.Redis.URL), Password: cfg.Redis.Password}
	queueClient := queue.NewClient(redisOpt, cfg.Chain.ID, log)

	rpcClient := rpc.NewHTTPClient(cfg.Chain.RPCURL, cfg.Chain.RPCTimeout)
	fetcher := fetch.New(rpcClient, fetch.Config{
		BlocksPerBatch: cfg.Sync.BlocksPerBatch,
		FetchReceipts:  cfg.Sync.FetchReceipts,
	}, log)

	registry := decode.NewRegistry(decode.ContractSet{
		Seaport:   parseAddresses(cfg.Chain.Contracts.Seaport),
		Wyvern:    parseAddresses(cfg.Chain.Contracts.Wyvern),
		LooksRare: parseAddresses(cfg.Chain.Contracts.LooksRare),
		X2Y2:      parseAddresses(cfg.Chain.Contracts.X2Y2),
		ZeroExV4:  parseAddresses(cfg.Chain.Contracts.ZeroExV4),
		Blur:      parseAddresses(cfg.Chain.Contracts.Blur),
	})

	// Price, attribution and wash scoring are external services plugged
	// in per deployment; royalties resolve on-chain via EIP-2981.
	aggregator := aggregate.New(nil, aggregate.NewEip2981Registry(rpcClient), nil, nil, log)

	reconciler := reconcile.New(store, queueClient, log)
	watermark := syncer.NewWatermarkManager(rdb, store, cfg.Chain.ID, cfg.Sync.CheckpointEvery, log)
	detector := reorg.NewDetector(reorg.Config{MaxDepth: cfg.Sync.ReorgMaxDepth}, store.Blocks())
	reorgHandler := reorg.NewHandler(store, reconciler, watermark)

	pipeline := syncer.NewPipeline(
		fetcher, registry, aggregator, reconciler, detector, reorgHandler, store, log)
	worker := syncer.NewWorker(pipeline, aggregator, watermark, store, log)

	mux := asynq.NewServeMux()
	worker.Register(mux)

	schedCfg := syncer.DefaultSchedulerConfig(cfg.Chain.ID)
	schedCfg.TickInterval = cfg.Sync.TickInterval
	schedCfg.BatchSize = cfg.Sync.BatchSize
	schedCfg.AllowedLag = cfg.Sync.AllowedLag
	schedCfg.BackfillChunk = cfg.Sync.BackfillChunk
	schedCfg.StartBlock = cfg.Sync.StartBlock
	scheduler := syncer.NewScheduler(schedCfg, fetcher, rdb, watermark, queueClient, store, log)

	monitor := health.NewMonitor(
		cfg.Chain.ID, fetcher, watermark, store, db, health.DefaultThresholds())

	return &App{
		cfg:            cfg,
		log:            log,
		db:             db,
		rdb:            rdb,
		queueClient:    queueClient,
		scheduler:      scheduler,
		mainServer:     queue.NewServer(redisOpt, cfg.Worker.Concurrency, log),
		backfillServer: queue.NewBackfillServer(redisOpt, log),
		mux:            mux,
		healthServer:   health.NewServer(monitor, cfg.Server.Port),
	}, nil
}

// Start launches the queue servers, the scheduler and the health
// endpoint. Non-blocking; Stop shuts everything down.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.mainServer.Start(a.mux); err != nil {
		return fmt.Errorf("start worker server: %w", err)
	}
	if err := a.backfillServer.Start(a.mux); err != nil {
		return fmt.Errorf("start backfill server: %w", err)
	}

	go func() {
		if err := a.healthServer.Start(); err != nil && err != http.ErrServerClosed {
			a.log.Error("health server failed", "error", err)
		}
	}()

	go func() {
		if err := a.scheduler.Run(runCtx); err != nil && runCtx.Err() == nil {
			a.log.Error("scheduler exited", "error", err)
		}
	}()

	return nil
}

// Stop shuts down in reverse dependency order: stop producing, drain
// workers, then close shared clients.
func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}

	a.mainServer.Shutdown()
	a.backfillServer.Shutdown()

	if err := a.healthServer.Stop(ctx); err != nil {
		a.log.Warn("health server shutdown", "error", err)
	}
	if err := a.queueClient.Close(); err != nil {
		a.log.Warn("queue client close", "error", err)
	}
	if err := a.rdb.Close(); err != nil {
		a.log.Warn("redis close", "error", err)
	}
	if err := a.db.Close(); err != nil {
		a.log.Warn("database close", "error", err)
	}
	return nil
}

func parseAddresses(hexes []string) []common.Address {
	if len(hexes) == 0 {
		return nil
	}
	out := make([]common.Address, 0, len(hexes))
	for _, h := range hexes {
		out = append(out, common.HexToAddress(h))
	}
	return out
}

// redisAddr extracts host:port from a redis URL for asynq, which takes
// a plain address rather than a URL.
func redisAddr(url string) string {
	addr := strings.TrimPrefix(url, "redis://")
	if i := strings.IndexByte(addr, '/'); i >= 0 {
		addr = addr[:i]
	}
	if i := strings.IndexByte(addr, '@'); i >= 0 {
		addr = addr[i+1:]
	}
	return addr
}
