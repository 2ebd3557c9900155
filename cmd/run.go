package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentic-research/topoproc/api"
	"github.com/agentic-research/topoproc/internal/config"
	"github.com/agentic-research/topoproc/internal/datastore"
	"github.com/agentic-research/topoproc/internal/notify"
	"github.com/agentic-research/topoproc/internal/request"
)

var (
	requestsPath  string
	snapshotPaths []string
	snapshotStore string
	settle        time.Duration
	follow        bool
)

func init() {
	runCmd.Flags().StringVarP(&requestsPath, "requests", "r", "", "Request file or directory of *.hcl request files")
	runCmd.Flags().StringSliceVarP(&snapshotPaths, "snapshot", "s", nil, "Underlay snapshot JSON file (repeatable)")
	runCmd.Flags().StringVar(&snapshotStore, "snapshot-datastore", "operational", "Datastore snapshots are written to")
	runCmd.Flags().DurationVar(&settle, "settle", 500*time.Millisecond, "Time to let overlays settle before exiting")
	runCmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep running until interrupted")
	_ = runCmd.MarkFlagRequired("requests")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start overlay requests and feed them underlay snapshots",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.LoadSettings()
		if err != nil {
			return err
		}
		logger, err := settings.Logger()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		operational, cfgStore, err := openStores(settings, logger)
		if err != nil {
			return err
		}
		defer func() {
			_ = cfgStore.Close()
			_ = operational.Close()
		}()

		file, err := loadRequests(requestsPath)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		mgr := request.NewManager([]datastore.Store{operational, cfgStore}, request.Options{
			QueueCapacity: settings.QueueCapacity,
			MaxBatch:      settings.MaxBatch,
			Logger:        logger,
		})
		defer mgr.Close()

		events := eventLogger{logger: logger.Named("events")}
		for _, req := range file.Overlays {
			if err := mgr.Start(ctx, req); err != nil {
				return err
			}
			store := operational
			if typ, _ := datastore.ParseType(req.Datastore); typ == datastore.Config {
				store = cfgStore
			}
			d, err := notify.Register(store, req.Overlay, events, logger)
			if err != nil {
				return err
			}
			defer d.Close()
		}
		for _, c := range file.Copies {
			if err := mgr.StartCopy(ctx, c); err != nil {
				return err
			}
		}

		target := operational
		if typ, err := datastore.ParseType(snapshotStore); err != nil {
			return err
		} else if typ == datastore.Config {
			target = cfgStore
		}
		if err := loadSnapshots(ctx, target, snapshotPaths, logger); err != nil {
			return err
		}

		if follow {
			logger.Info("Running until interrupted", zap.Strings("requests", mgr.Running()))
			<-ctx.Done()
		} else {
			select {
			case <-time.After(settle):
			case <-ctx.Done():
			}
		}

		for _, id := range mgr.Running() {
			stats, _ := mgr.Stats(id)
			wrappers, _ := mgr.Wrappers(id)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d wrappers, %d batches, %d applied, %d dropped, %d chain restarts\n",
				id, len(wrappers), stats.Batches, stats.Applied, stats.Dropped, stats.ChainRestarts)
		}
		return nil
	},
}

func loadRequests(p string) (*api.File, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("stat requests: %w", err)
	}
	if info.IsDir() {
		return config.LoadRequestDir(osfs.New(p), ".")
	}
	return config.LoadRequests(osfs.New(filepath.Dir(p)), filepath.Base(p))
}

// loadSnapshots parses the snapshot files concurrently and writes them, in
// argument order, one transaction per file.
func loadSnapshots(ctx context.Context, store datastore.Store, paths []string, logger *zap.Logger) error {
	if len(paths) == 0 {
		return nil
	}
	parsed := make([][]config.Entry, len(paths))
	g, _ := errgroup.WithContext(ctx)
	for i, p := range paths {
		g.Go(func() error {
			entries, err := config.LoadSnapshot(osfs.New(filepath.Dir(p)), filepath.Base(p))
			if err != nil {
				return err
			}
			parsed[i] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	chain := store.CreateTransactionChain(nil)
	defer chain.Close()
	for i, entries := range parsed {
		tx := chain.NewReadWriteTx()
		for _, e := range entries {
			tx.Put(e.Path, e.Value)
		}
		if err := <-tx.Submit(); err != nil {
			return fmt.Errorf("write snapshot %s: %w", paths[i], err)
		}
		logger.Info("Loaded snapshot", zap.String("file", paths[i]), zap.Int("items", len(entries)))
	}
	return nil
}
