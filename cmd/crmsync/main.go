// Package main is the crmsync entry point: the HTTP API with the auto-sync
// scheduler, database migrations and one-shot sync runs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		cancel()
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "crmsync",
		Short: "Two-way contact sync between the CRM and external directories",
		Long: `crmsync keeps CRM contacts in step with an external directory provider
such as Google Contacts. Each owner connects a provider once; runs then
reconcile both sides, either on demand or on a per-config schedule.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"path to the TOML config (defaults to $CONFIG_PATH, then config.toml)")

	cmd.AddCommand(
		newServeCommand(opts),
		newMigrateCommand(opts),
		newSyncCommand(opts),
		newTokenCommand(opts),
		newVersionCommand(),
	)
	return cmd
}
