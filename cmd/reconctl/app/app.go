// Package app builds the reconctl command tree.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/example/recon-engine/internal/bootstrap"
	"github.com/example/recon-engine/internal/config"
	"github.com/example/recon-engine/internal/recon"
	"github.com/example/recon-engine/internal/reconcile"
	"github.com/example/recon-engine/internal/rpc"
	"github.com/example/recon-engine/internal/security"
)

// Flags are the global flags of every command.
type Flags struct {
	ConfigFile string
	Remote     string
	Actor      string
	Output     string
	LogLevel   string

	TLSCA   string
	TLSCert string
	TLSKey  string
}

// App holds the backend a command talks to. Local mode runs the service
// in-process; remote mode calls recond over gRPC.
type App struct {
	flags  Flags
	out    io.Writer
	errOut io.Writer

	ops      reconcile.Operations
	closers  []func() error
	dialOpts []grpc.DialOption
}

func New(out, errOut io.Writer) *App {
	return &App{out: out, errOut: errOut}
}

// Execute runs the command line args.
func (a *App) Execute(ctx context.Context, args []string) error {
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(a.out)
	root.SetErr(a.errOut)
	defer a.close()
	return root.ExecuteContext(ctx)
}

func (a *App) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "reconctl",
		Short: "Manage bank statement reconciliation",
		Long: `reconctl creates and runs reconciliation sessions and maintains matching rules.

Without --remote it opens the configured database directly (see RECON_* variables
and recon.yaml). With --remote it talks to a running recond over gRPC.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.ConfigFile, "config", "", "config file (default ./recon.yaml or $RECON_CONFIG)")
	pf.StringVar(&a.flags.Remote, "remote", "", "recond gRPC address; empty runs locally")
	pf.StringVar(&a.flags.Actor, "actor", "", "identity recorded on decisions")
	pf.StringVarP(&a.flags.Output, "output", "o", "yaml", "output format: yaml, json")
	pf.StringVar(&a.flags.LogLevel, "log-level", "warn", "log level for local mode: debug, info, warn, error")
	pf.StringVar(&a.flags.TLSCA, "tls-ca", "", "CA bundle for --remote")
	pf.StringVar(&a.flags.TLSCert, "tls-cert", "", "client certificate for --remote")
	pf.StringVar(&a.flags.TLSKey, "tls-key", "", "client key for --remote")

	root.AddGroup(
		&cobra.Group{ID: "core", Title: "Reconciliation Commands:"},
		&cobra.Group{ID: "admin", Title: "Administration Commands:"},
	)
	root.AddCommand(
		a.sessionCommand(),
		a.matchCommand(),
		a.rulesCommand(),
		a.migrateCommand(),
		a.auditCommand(),
	)
	return root
}

// backend opens the operations surface on first use and applies --actor to
// ctx.
func (a *App) backend(cmd *cobra.Command) (context.Context, reconcile.Operations, error) {
	ctx := cmd.Context()
	if a.flags.Actor != "" {
		if !security.ValidActor(a.flags.Actor) {
			return nil, nil, fmt.Errorf("invalid --actor %q", a.flags.Actor)
		}
		ctx = recon.WithActor(ctx, a.flags.Actor)
	}
	if a.ops != nil {
		return ctx, a.ops, nil
	}

	if a.flags.Remote != "" {
		client, err := a.dialRemote()
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, client.Close)
		a.ops = client
		return ctx, a.ops, nil
	}

	cfg, err := a.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	svc, err := bootstrap.New(ctx, cfg, a.logger())
	if err != nil {
		return nil, nil, err
	}
	a.closers = append(a.closers, svc.Close)
	a.ops = svc.Service
	return ctx, a.ops, nil
}

func (a *App) dialRemote() (*rpc.Client, error) {
	tlsCfg := security.TLSConfig{CertFile: a.flags.TLSCert, KeyFile: a.flags.TLSKey, CAFile: a.flags.TLSCA}
	if tlsCfg.CAFile == "" && tlsCfg.CertFile == "" {
		return rpc.Dial(a.flags.Remote, nil, a.dialOpts...)
	}
	c, err := security.LoadClientTLSConfig(tlsCfg)
	if err != nil {
		return nil, err
	}
	return rpc.Dial(a.flags.Remote, c, a.dialOpts...)
}

func (a *App) loadConfig() (*config.Config, error) {
	return config.LoadFile(a.flags.ConfigFile)
}

func (a *App) logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(a.flags.LogLevel)); err != nil {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewJSONHandler(a.errOut, &slog.HandlerOptions{Level: level}))
}

func (a *App) close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	a.ops = nil
	if err := errors.Join(errs...); err != nil {
		fmt.Fprintln(a.errOut, "warning:", err)
	}
}
