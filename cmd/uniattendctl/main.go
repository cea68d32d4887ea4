// Command uniattendctl runs maintenance tasks against the attendance database.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"uniattend/internal/bootstrap"
	"uniattend/internal/clock"
	"uniattend/internal/config"
	"uniattend/internal/department"
	"uniattend/internal/realtime"
	"uniattend/internal/roster"
	"uniattend/internal/session"
	"uniattend/internal/store"
)

type rootOptions struct {
	Format string
	DSN    string
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "uniattendctl",
		Short:         "Maintenance tasks for the UniAttend backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format != "text" && opts.Format != "json" {
				return fmt.Errorf("invalid format %q: must be text or json", opts.Format)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.DSN, "database-url", "", "database url (defaults to DATABASE_URL)")

	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newBootstrapCommand(opts))
	cmd.AddCommand(newSweepCommand(opts))
	cmd.AddCommand(newImportCommand(opts))
	return cmd
}

// open loads config and connects; store.Open applies the schema.
func (o *rootOptions) open(ctx context.Context) (config.App, *store.DB, error) {
	cfg := config.Load()
	if o.DSN != "" {
		cfg.DatabaseURL = o.DSN
	}
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, db, nil
}

func (o *rootOptions) print(w io.Writer, text string, v any) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(w, text)
	return err
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			return opts.print(cmd.OutOrStdout(), "schema up to date", map[string]bool{"migrated": true})
		},
	}
}

func newBootstrapCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Seed the super admin from BOOTSTRAP_* settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			wrote, err := bootstrap.FromConfig(cmd.Context(), db, cfg, clock.Real())
			if err != nil {
				return err
			}
			msg := "super admin already present"
			if wrote {
				msg = "super admin seeded"
			}
			return opts.print(cmd.OutOrStdout(), msg, map[string]bool{"seeded": wrote})
		},
	}
}

func newSweepCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Close expired sessions once",
		Long: `Close every active session whose expiry has passed.

Events are published on the Redis bus when BUS_BACKEND=redis, otherwise they
are dropped since no socket clients are attached to this process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			var bus realtime.Bus = realtime.NewInMemory(1)
			if cfg.BusBackend == "redis" {
				rdb := store.NewRedis(cfg.RedisAddr)
				defer rdb.Close()
				bus = realtime.NewRedisBus(rdb.Client, cfg.BusChannel)
			}
			sweeper := session.NewSweeper(session.NewRepository(db.Client, db.LockClause()), realtime.NewBroadcaster(bus), clock.Real(), cfg.SweepInterval)
			n, err := sweeper.SweepOnce(cmd.Context())
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), fmt.Sprintf("closed %d expired session(s)", n), map[string]int{"closed": n})
		},
	}
}

func newImportCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import-roster <file.csv|file.xlsx>",
		Short: "Load a full class list into the roster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			svc := roster.NewService(db, department.NewRepository(db.Client), clock.Real(), cfg.BcryptCost)
			sum, err := svc.UploadFull(cmd.Context(), args[0], f)
			if err != nil {
				return err
			}
			text := fmt.Sprintf("%d rows: %d roster upserts, %d new accounts, %d errors",
				sum.TotalRows, sum.RosterUpserted, sum.NewStudentsAdded, sum.ErrorsCount)
			for _, e := range sum.Errors {
				text += "\n  " + e
			}
			return opts.print(cmd.OutOrStdout(), text, sum)
		},
	}
}
