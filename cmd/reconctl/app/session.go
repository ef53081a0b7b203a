package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/example/recon-engine/internal/recon"
)

func (a *App) sessionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "session",
		Aliases: []string{"sessions"},
		GroupID: "core",
		Short:   "Create and run reconciliation sessions",
	}
	cmd.AddCommand(
		a.sessionCreateCommand(),
		a.sessionListCommand(),
		a.sessionShowCommand(),
		a.sessionImportCommand(),
		a.sessionRunCommand(),
		a.sessionStopCommand(),
		a.sessionCancelCommand(),
	)
	return cmd
}

func (a *App) sessionCreateCommand() *cobra.Command {
	var account, from, to string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a session for an account and period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, err := parseDate("--from", from)
			if err != nil {
				return err
			}
			end, err := parseDate("--to", to)
			if err != nil {
				return err
			}
			ctx, ops, err := a.backend(cmd)
			if err != nil {
				return err
			}
			sess, err := ops.CreateSession(ctx, account, start, end)
			if err != nil {
				return err
			}
			return a.print(sess)
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account id")
	cmd.Flags().StringVar(&from, "from", "", "period start, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "period end, YYYY-MM-DD")
	for _, f := range []string{"account", "from", "to"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func (a *App) sessionListCommand() *cobra.Command {
	var account string
	var p recon.Pagination
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an account's sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, ops, err := a.backend(cmd)
			if err != nil {
				return err
			}
			list, err := ops.ListSessions(ctx, account, p)
			if err != nil {
				return err
			}
			return a.print(list)
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account id")
	cmd.Flags().IntVar(&p.Limit, "limit", 0, "page size")
	cmd.Flags().IntVar(&p.Offset, "offset", 0, "page offset")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func (a *App) sessionShowCommand() *cobra.Command {
	var p recon.Pagination
	var status string
	cmd := &cobra.Command{
		Use:   "show SESSION_ID",
		Short: "Show a session and a page of its matches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, ops, err := a.backend(cmd)
			if err != nil {
				return err
			}
			p.Status = recon.MatchStatus(status)
			view, err := ops.GetSession(ctx, args[0], p)
			if err != nil {
				return err
			}
			return a.print(view)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only matches in this status: suggested, confirmed, rejected")
	cmd.Flags().IntVar(&p.Limit, "limit", 0, "page size")
	cmd.Flags().IntVar(&p.Offset, "offset", 0, "page offset")
	return cmd
}

// statementFile is the YAML accepted by "session import". Dates and amounts
// are strings so amounts keep their exact decimal form.
type statementFile struct {
	Statements []statementLine `yaml:"statements"`
}

type statementLine struct {
	ID          string `yaml:"id"`
	AccountID   string `yaml:"account_id"`
	Date        string `yaml:"date"`
	Amount      string `yaml:"amount"`
	Description string `yaml:"description"`
	ExternalRef string `yaml:"external_ref"`
}

func (l statementLine) transaction(i int) (recon.StatementTransaction, error) {
	t := recon.StatementTransaction{
		ID:          l.ID,
		AccountID:   l.AccountID,
		Description: l.Description,
		ExternalRef: l.ExternalRef,
	}
	if l.Date != "" {
		d, err := parseDate(fmt.Sprintf("statements[%d].date", i), l.Date)
		if err != nil {
			return t, err
		}
		t.Date = d
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(l.Amount))
	if err != nil {
		return t, fmt.Errorf("statements[%d].amount %q is not a decimal", i, l.Amount)
	}
	t.Amount = amount
	return t, nil
}

func (a *App) sessionImportCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import SESSION_ID",
		Short: "Stage statement lines from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", file, err)
			}
			var doc statementFile
			if err := yaml.UnmarshalWithOptions(raw, &doc, yaml.Strict()); err != nil {
				return fmt.Errorf("failed to parse %s: %w", file, err)
			}
			txns := make([]recon.StatementTransaction, 0, len(doc.Statements))
			for i, l := range doc.Statements {
				t, err := l.transaction(i)
				if err != nil {
					return err
				}
				txns = append(txns, t)
			}

			ctx, ops, err := a.backend(cmd)
			if err != nil {
				return err
			}
			res, err := ops.ImportStatements(ctx, args[0], txns)
			if err != nil {
				return err
			}
			return a.print(res)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "statements file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (a *App) sessionRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run SESSION_ID",
		Short: "Run one matching pass",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, ops, err := a.backend(cmd)
			if err != nil {
				return err
			}
			res, err := ops.RunMatchingPass(ctx, args[0])
			if err != nil {
				return err
			}
			return a.print(res)
		},
	}
}

func (a *App) sessionStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop SESSION_ID",
		Short: "Ask a running pass to stop at its next batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, ops, err := a.backend(cmd)
			if err != nil {
				return err
			}
			sess, err := ops.StopPass(ctx, args[0])
			if err != nil {
				return err
			}
			return a.print(sess)
		},
	}
}

func (a *App) sessionCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel SESSION_ID",
		Short: "Cancel a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, ops, err := a.backend(cmd)
			if err != nil {
				return err
			}
			sess, err := ops.CancelSession(ctx, args[0])
			if err != nil {
				return err
			}
			return a.print(sess)
		},
	}
}

func (a *App) matchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "match",
		GroupID: "core",
		Short:   "Confirm or reject suggested matches",
	}
	resolve := func(use, short string, fn func(cmd *cobra.Command, id string) (*recon.Match, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " MATCH_ID",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := fn(cmd, args[0])
				if err != nil {
					return err
				}
				return a.print(m)
			},
		}
	}
	cmd.AddCommand(
		resolve("confirm", "Confirm a suggested match", func(cmd *cobra.Command, id string) (*recon.Match, error) {
			ctx, ops, err := a.backend(cmd)
			if err != nil {
				return nil, err
			}
			return ops.ConfirmMatch(ctx, id)
		}),
		resolve("reject", "Reject a suggested match", func(cmd *cobra.Command, id string) (*recon.Match, error) {
			ctx, ops, err := a.backend(cmd)
			if err != nil {
				return nil, err
			}
			return ops.RejectMatch(ctx, id)
		}),
	)
	return cmd
}

func parseDate(name, v string) (time.Time, error) {
	t, err := time.Parse(recon.DateLayout, strings.TrimSpace(v))
	if err != nil {
		return time.Time{}, fmt.Errorf("%s %q is not a YYYY-MM-DD date", name, v)
	}
	return t, nil
}
