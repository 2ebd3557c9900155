package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/agentic-research/topoproc/internal/config"
	"github.com/agentic-research/topoproc/internal/datastore"
	"github.com/agentic-research/topoproc/internal/datastore/sqlitestore"
)

var showCmd = &cobra.Command{
	Use:   "show [topology]",
	Short: "Print the stored items of a topology (or all topologies)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.LoadSettings()
		if err != nil {
			return err
		}
		if settings.DB == "" {
			return fmt.Errorf("show needs TOPOPROC_DB to point at a database")
		}
		logger, err := settings.Logger()
		if err != nil {
			return err
		}
		store, err := sqlitestore.OpenStore(settings.DB, datastore.Operational, logger)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		prefix := datastore.RootPrefix
		if len(args) == 1 {
			prefix = datastore.TopologyPrefix(args[0])
		}
		entries, err := store.List(cmd.Context(), prefix)
		if err != nil {
			return err
		}
		paths := make([]string, 0, len(entries))
		for p := range entries {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", p, entries[p])
		}
		return nil
	},
}
