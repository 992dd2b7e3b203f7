package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/libcirc/circulation-engine-go/circulation"
	"github.com/libcirc/circulation-engine-go/circulation/config"
	"github.com/libcirc/circulation-engine-go/circulation/postgresengine"
)

// rootOptions holds the global flags shared by all jobs.
type rootOptions struct {
	policyPath string
	verbose    bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "circjobs",
		Short:         "Periodic maintenance jobs for the circulation engine",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVar(&opts.policyPath, "policy", "", "path to the YAML policy file (operational defaults apply when omitted)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log storage queries")

	cmd.AddCommand(newExpireReservationsCommand(opts))
	cmd.AddCommand(newExpireSanctionsCommand(opts))
	cmd.AddCommand(newScanAlertsCommand(opts))

	return cmd
}

// jobRuntime bundles the shared wiring of one job run: connection pool,
// storage engine, policy and logger.
type jobRuntime struct {
	pool   *pgxpool.Pool
	store  *postgresengine.Store
	policy circulation.Policy
	logger *slog.Logger
}

func newJobRuntime(ctx context.Context, opts *rootOptions) (*jobRuntime, error) {
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	policy := circulation.DefaultPolicy(circulation.DefaultLocation())

	if opts.policyPath != "" {
		loaded, err := config.LoadPolicy(opts.policyPath)
		if err != nil {
			return nil, err
		}

		policy = loaded
	}

	pool, err := config.PostgresPGXPool(ctx)
	if err != nil {
		return nil, err
	}

	store, err := postgresengine.NewStoreFromPGXPool(pool, postgresengine.WithLogger(logger))
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &jobRuntime{
		pool:   pool,
		store:  store,
		policy: policy,
		logger: logger,
	}, nil
}

func (r *jobRuntime) close() {
	r.pool.Close()
}
