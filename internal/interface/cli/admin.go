package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/storyquest/progression-engine/internal/app"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	var status, down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if status && down {
				return NewExitError(ExitCommandError, "--status and --down are mutually exclusive")
			}
			return rootOpts.run(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				if status {
					return migrationStatus(ctx, a, out)
				}
				if down {
					return rollback(ctx, a, out)
				}
				if err := a.Migrate(ctx); err != nil {
					return err
				}
				return out.Success(map[string]string{"result": "migrated"}, func(w io.Writer) {
					fmt.Fprintln(w, "database schema is up to date")
				})
			})
		},
	}

	cmd.Flags().BoolVar(&status, "status", false, "list migrations instead of applying them")
	cmd.Flags().BoolVar(&down, "down", false, "revert the newest applied migration")
	return cmd
}

func rollback(ctx context.Context, a *app.App, out *OutputFormatter) error {
	m, err := a.RollbackMigration(ctx)
	if err != nil {
		return err
	}
	if m == nil {
		return out.Success(map[string]string{"result": "nothing to roll back"}, func(w io.Writer) {
			fmt.Fprintln(w, "no applied migrations")
		})
	}
	return out.Success(migrationRow{Version: m.Version, Name: m.Name}, func(w io.Writer) {
		fmt.Fprintf(w, "rolled back migration %d (%s)\n", m.Version, m.Name)
	})
}

// migrationRow is the printed form of a migration.
type migrationRow struct {
	Version   int        `json:"version"`
	Name      string     `json:"name"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
}

func migrationStatus(ctx context.Context, a *app.App, out *OutputFormatter) error {
	migrations, err := a.MigrationStatus(ctx)
	if err != nil {
		return err
	}
	result := make([]migrationRow, 0, len(migrations))
	for _, m := range migrations {
		row := migrationRow{Version: m.Version, Name: m.Name}
		if m.IsApplied {
			at := m.AppliedAt
			row.AppliedAt = &at
		}
		result = append(result, row)
	}
	return out.Success(result, func(io.Writer) {
		rows := make([]string, 0, len(result))
		for _, m := range result {
			applied := "pending"
			if m.AppliedAt != nil {
				applied = m.AppliedAt.Format(time.DateTime)
			}
			rows = append(rows, fmt.Sprintf("%d\t%s\t%s", m.Version, m.Name, applied))
		}
		out.Table("VERSION\tNAME\tAPPLIED", rows)
	})
}

// NewSeedCatalogCommand creates the seed-catalog command.
func NewSeedCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed-catalog",
		Short: "Upsert achievement definitions into the catalog",
		Long: `Upsert achievement definitions into the catalog.

Definitions come from --file, then PROGRESSION_CATALOG_FILE, then the
built-in catalog. Existing definitions with the same id are replaced.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.run(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				n, err := a.SeedCatalog(ctx, file)
				if err != nil {
					return err
				}
				return out.Success(map[string]int{"definitions": n}, func(w io.Writer) {
					fmt.Fprintf(w, "seeded %d achievement definitions\n", n)
				})
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML catalog file")
	return cmd
}
