// Package cli implements progressionctl, the operator command line for the
// progression engine.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/storyquest/progression-engine/config"
	"github.com/storyquest/progression-engine/internal/app"
	"github.com/storyquest/progression-engine/pkg/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	EnvFile string

	open Opener
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// Opener starts an engine for one command. release is called when the
// command finishes.
type Opener func(ctx context.Context, opts *RootOptions) (a *app.App, release func() error, err error)

// DefaultOpener loads configuration from the environment and connects the
// configured backends.
func DefaultOpener(ctx context.Context, opts *RootOptions) (*app.App, func() error, error) {
	var files []string
	if opts.EnvFile != "" {
		files = append(files, opts.EnvFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return nil, nil, err
	}
	if opts.Verbose {
		cfg.Observability.LogLevel = "debug"
	}
	log := app.NewLogger(cfg).With(logger.Component("progressionctl"))

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return a, a.Close, nil
}

// NewRootCommand creates the root command. A nil open uses DefaultOpener.
func NewRootCommand(open Opener) *cobra.Command {
	if open == nil {
		open = DefaultOpener
	}
	opts := &RootOptions{open: open}

	cmd := &cobra.Command{
		Use:   "progressionctl",
		Short: "Inspect and operate the progression engine",
		Long: `Inspect and operate the progression engine.

Every command runs one engine operation against the configured store
(STORE_DRIVER) and prints the result.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "dotenv file to load before the environment")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSeedCatalogCommand(opts))
	cmd.AddCommand(NewEnsureCommand(opts))
	cmd.AddCommand(NewAwardCommand(opts))
	cmd.AddCommand(NewUnlockCommand(opts))
	cmd.AddCommand(NewStreakCommand(opts))
	cmd.AddCommand(NewStoryCommand(opts))
	cmd.AddCommand(NewCohortCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewLeaderboardCommand(opts))
	cmd.AddCommand(NewAchievementsCommand(opts))

	return cmd
}

// run opens the engine, bounds the call by the query timeout and maps the
// returned error to an exit code.
func (o *RootOptions) run(cmd *cobra.Command, fn func(ctx context.Context, a *app.App, out *OutputFormatter) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, release, err := o.open(ctx, o)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start engine", err)
	}
	defer func() { _ = release() }()

	ctx, cancel := a.WithTimeout(ctx)
	defer cancel()

	out := &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
	if err := fn(ctx, a, out); err != nil {
		return classify(err)
	}
	return nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
