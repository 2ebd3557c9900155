package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentic-research/topoproc/internal/config"
	"github.com/agentic-research/topoproc/internal/datastore"
	"github.com/agentic-research/topoproc/internal/datastore/sqlitestore"
)

var rootCmd = &cobra.Command{
	Use:          "topoproc",
	Short:        "topoproc: incremental overlay topology processing",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(showCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// openStores opens the operational and config stores. The operational store
// is persisted when a database is configured; the config store always lives
// in memory.
func openStores(settings config.Settings, logger *zap.Logger) (operational, cfg datastore.Store, err error) {
	if settings.DB != "" {
		operational, err = sqlitestore.OpenStore(settings.DB, datastore.Operational, logger)
		if err != nil {
			return nil, nil, err
		}
	} else {
		operational, _ = datastore.NewMemoryStore(datastore.Operational, logger)
	}
	cfg, _ = datastore.NewMemoryStore(datastore.Config, logger)
	return operational, cfg, nil
}
