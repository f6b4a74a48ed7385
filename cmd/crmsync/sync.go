package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/memohai/crmsync/cmd/crmsync/modules"
	"github.com/memohai/crmsync/internal/contactsync"
	"github.com/memohai/crmsync/internal/contactsync/pgstore"
)

type syncOptions struct {
	owner    string
	provider string
	configID string
}

func newSyncCommand(root *rootOptions) *cobra.Command {
	opts := &syncOptions{}
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync for an owner and wait for it to finish",
		Long: `Run a single reconciliation in the foreground and print its summary.
The config is looked up by --config-id, or by --owner and --provider.
The command fails when another run of the same config is in progress.`,
		Example: `  crmsync sync --owner 6f1c... --provider google
  crmsync sync --owner 6f1c... --config-id 0b7e...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd.Context(), root, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.owner, "owner", "", "owner (user) id")
	cmd.Flags().StringVar(&opts.provider, "provider", "google", "directory provider")
	cmd.Flags().StringVar(&opts.configID, "config-id", "", "sync config id (overrides --provider)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func runSync(ctx context.Context, root *rootOptions, opts *syncOptions, out io.Writer) error {
	var (
		engine *contactsync.Engine
		store  *pgstore.Store
	)
	app := fx.New(
		fx.Supply(modules.ConfigPath(root.configPath)),
		modules.InfraModule,
		modules.DomainModule,
		fx.Populate(&engine, &store),
		fx.NopLogger,
	)
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = app.Stop(stopCtx)
	}()

	configID := strings.TrimSpace(opts.configID)
	if configID == "" {
		cfg, err := store.GetConfigByProvider(ctx, opts.owner, opts.provider)
		if err != nil {
			return fmt.Errorf("find %s config: %w", opts.provider, err)
		}
		configID = cfg.ID
	}

	run, err := engine.Run(ctx, opts.owner, configID)
	if run.ID == "" {
		return err
	}
	printRun(out, run)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run %s failed: %w", run.ID, err)
	}
	return err
}

func printRun(out io.Writer, run contactsync.Run) {
	fmt.Fprintf(out, "run      %s\n", run.ID)
	fmt.Fprintf(out, "status   %s\n", run.Status)
	if run.Duration > 0 {
		fmt.Fprintf(out, "duration %s\n", run.Duration.Round(time.Millisecond))
	}
	fmt.Fprintf(out, "summary  %s\n", run.Counters.Summary())
	if run.Failure != "" {
		fmt.Fprintf(out, "failure  %s\n", run.Failure)
	}
	for _, item := range run.ErrorDetails {
		fmt.Fprintf(out, "  error: %s\n", item.Error())
	}
}
