// Package cli implements dattasctl, the operator command line. Commands
// build the registry from the environment and run privileged operations
// with the root origin.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"dattas/internal/app"
	"dattas/internal/platform/config"
	"dattas/internal/platform/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// LoadConfig defaults to config.Load.
	LoadConfig func() (config.Config, error)
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	return NewRootCommandWith(&RootOptions{LoadConfig: config.Load})
}

// NewRootCommandWith builds the command tree around opts.
func NewRootCommandWith(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dattasctl",
		Short: "Operate the dattas name registry",
		Long:  "Operator tooling for the dattas name registry: issue signing tokens, endow accounts and run privileged name operations.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewEndowCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewBalanceCommand(opts))
	cmd.AddCommand(NewForceCommand(opts))
	cmd.AddCommand(NewKillCommand(opts))

	return cmd
}

// ErrEphemeralBackend rejects state changes that would vanish when the
// command exits.
var ErrEphemeralBackend = errors.New("command changes state; set STORAGE_BACKEND to postgres or redis")

// withApp builds the registry, runs fn and closes the backends.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, a *app.App) error) error {
	return runApp(cmd, opts, false, fn)
}

// withDurableApp is withApp for commands that change state. It refuses the
// in-memory backend.
func withDurableApp(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, a *app.App) error) error {
	return runApp(cmd, opts, true, fn)
}

func runApp(cmd *cobra.Command, opts *RootOptions, durable bool, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := opts.LoadConfig()
	if err != nil {
		return err
	}
	if durable && cfg.Storage.Backend == config.BackendMemory {
		return ErrEphemeralBackend
	}
	level := "warn"
	if opts.Verbose {
		level = "debug"
	}
	log := logger.NewWithWriter(cmd.ErrOrStderr(), level, "text")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.Build(ctx, cfg, log, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			log.Warn("close backends", "error", cerr)
		}
	}()
	return fn(ctx, a)
}

// emit writes v as JSON or text depending on --format.
func emit(w io.Writer, opts *RootOptions, v any, text string) error {
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(w, text)
	return err
}

