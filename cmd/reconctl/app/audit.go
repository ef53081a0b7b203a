package app

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/recon-engine/pkg/audit"
)

func (a *App) auditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "audit",
		GroupID: "admin",
		Short:   "Inspect the audit log",
	}

	var file string
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Check the hash chain of an audit sink file",
		Long:  "Check the hash chain of an audit sink file. Defaults to audit.sink from the configuration.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" {
				cfg, err := a.loadConfig()
				if err != nil {
					return err
				}
				file = cfg.Audit.Sink
			}
			if file == "" || file == "stdout" {
				return errors.New("no audit sink file; pass --file or set audit.sink")
			}

			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("failed to open audit log: %w", err)
			}
			defer f.Close()
			entries, err := audit.ReadEntries(f)
			if err != nil {
				return err
			}

			rep := audit.VerifyLog(entries)
			if err := a.print(rep); err != nil {
				return err
			}
			if !rep.Valid {
				return fmt.Errorf("audit chain broken at entry %d", rep.FirstInvalid)
			}
			return nil
		},
	}
	verify.Flags().StringVarP(&file, "file", "f", "", "audit sink file")
	cmd.AddCommand(verify)
	return cmd
}
