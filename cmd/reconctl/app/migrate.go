package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/recon-engine/internal/storage"
)

func (a *App) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "migrate",
		GroupID: "admin",
		Short:   "Apply database migrations",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.flags.Remote != "" {
				return fmt.Errorf("migrate runs against the local database only")
			}
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			dialect, err := storage.ParseDialect(cfg.Database.Driver)
			if err != nil {
				return err
			}
			store, err := storage.Open(cmd.Context(), dialect, cfg.Database.URL)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Migrate(); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "migrations applied to %s database\n", dialect)
			return nil
		},
	}
}
