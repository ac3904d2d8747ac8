package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfloor/indexer/internal/fetch"
	"github.com/openfloor/indexer/internal/infra/redis"
	"github.com/openfloor/indexer/internal/infra/rpc"
	"github.com/openfloor/indexer/internal/infra/storage/postgres"
	"github.com/openfloor/indexer/internal/syncer"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show watermark, head and lag for the configured chain",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, log, err := loadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := redis.NewClient(cfg.Redis)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	store := postgres.NewStore(db)
	watermark := syncer.NewWatermarkManager(rdb, store, cfg.Chain.ID, cfg.Sync.CheckpointEvery, log)

	wm, found, err := watermark.Load(ctx)
	if err != nil {
		log.Error("failed to load watermark", "error", err)
		os.Exit(1)
	}

	rpcClient := rpc.NewHTTPClient(cfg.Chain.RPCURL, cfg.Chain.RPCTimeout)
	fetcher := fetch.New(rpcClient, fetch.Config{}, log)
	head, err := fetcher.HeadBlock(ctx)
	if err != nil {
		log.Error("failed to fetch head", "error", err)
		os.Exit(1)
	}

	var lag uint64
	if found && head > wm {
		lag = head - wm
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	fmt.Fprintln(w, "CHAIN\tWATERMARK\tHEAD\tLAG")
	if found {
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\n", cfg.Chain.ID, wm, head, lag)
	} else {
		fmt.Fprintf(w, "%d\t<none>\t%d\t-\n", cfg.Chain.ID, head)
	}
	w.Flush()
}
