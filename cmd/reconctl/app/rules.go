package app

import (
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/example/recon-engine/internal/recon"
)

// ruleFile is the document read by "rules import" and written by
// "rules export".
type ruleFile struct {
	AccountID string            `yaml:"account_id"`
	Rules     []recon.RuleInput `yaml:"rules"`
}

func (a *App) rulesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rules",
		GroupID: "core",
		Short:   "Manage matching rules",
	}
	cmd.AddCommand(a.rulesListCommand(), a.rulesExportCommand(), a.rulesImportCommand())
	return cmd
}

func (a *App) rulesListCommand() *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an account's rules in evaluation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, ops, err := a.backend(cmd)
			if err != nil {
				return err
			}
			list, err := ops.ListRules(ctx, account)
			if err != nil {
				return err
			}
			return a.print(list)
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account id")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func (a *App) rulesExportCommand() *cobra.Command {
	var account, file string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write an account's rules as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, ops, err := a.backend(cmd)
			if err != nil {
				return err
			}
			list, err := ops.ListRules(ctx, account)
			if err != nil {
				return err
			}

			doc := ruleFile{AccountID: account, Rules: make([]recon.RuleInput, 0, len(list))}
			for _, r := range list {
				enabled := r.Enabled
				doc.Rules = append(doc.Rules, recon.RuleInput{
					Name:       r.Name,
					Priority:   r.Priority,
					Conditions: r.Conditions,
					Actions:    r.Actions,
					Enabled:    &enabled,
				})
			}
			out, err := yaml.Marshal(doc)
			if err != nil {
				return fmt.Errorf("failed to encode rules: %w", err)
			}
			if file == "" || file == "-" {
				_, err = a.out.Write(out)
				return err
			}
			if err := os.WriteFile(file, out, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", file, err)
			}
			fmt.Fprintf(a.out, "exported %d rules to %s\n", len(doc.Rules), file)
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account id")
	cmd.Flags().StringVarP(&file, "file", "f", "", "output file (default stdout)")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func (a *App) rulesImportCommand() *cobra.Command {
	var account, file string
	var replace bool
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Create rules from a YAML file",
		Long: `Create rules from a YAML file of the form written by "rules export".

--account overrides the file's account_id. With --replace the account's existing
rules are deleted first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			doc, err := readRuleFile(file)
			if err != nil {
				return err
			}
			if account != "" {
				doc.AccountID = account
			}
			if doc.AccountID == "" {
				return errors.New("account_id is missing; set it in the file or pass --account")
			}

			ctx, ops, err := a.backend(cmd)
			if err != nil {
				return err
			}
			if replace {
				existing, err := ops.ListRules(ctx, doc.AccountID)
				if err != nil {
					return err
				}
				for _, r := range existing {
					if err := ops.DeleteRule(ctx, r.ID, r.Version); err != nil {
						return fmt.Errorf("failed to delete rule %s: %w", r.ID, err)
					}
				}
			}

			created := make([]recon.MatchRule, 0, len(doc.Rules))
			for i, in := range doc.Rules {
				rule, err := ops.CreateRule(ctx, doc.AccountID, in)
				if err != nil {
					return fmt.Errorf("rule %d (%s): %w", i, in.Name, err)
				}
				created = append(created, *rule)
			}
			return a.print(created)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "rules file")
	cmd.Flags().StringVar(&account, "account", "", "account id (overrides the file)")
	cmd.Flags().BoolVar(&replace, "replace", false, "delete the account's existing rules first")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readRuleFile(path string) (*ruleFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var doc ruleFile
	if err := yaml.UnmarshalWithOptions(raw, &doc, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &doc, nil
}
