package main

import (
	"github.com/spf13/cobra"

	"github.com/libcirc/circulation-engine-go/circulation/loans"
	"github.com/libcirc/circulation-engine-go/circulation/reservations"
	"github.com/libcirc/circulation-engine-go/circulation/sanctions"
)

// newExpireReservationsCommand creates the reservation expiry sweep job.
// The sweep is a single guarded statement, so overlapping runs from several
// schedulers stay safe and re-running it is a no-op.
func newExpireReservationsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "expire-reservations",
		Short: "Transition pending reservations past their TTL to expired",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			runtime, err := newJobRuntime(ctx, opts)
			if err != nil {
				return err
			}
			defer runtime.close()

			registry := sanctions.NewRegistry(runtime.store, runtime.policy)
			loanService := loans.NewService(runtime.store, registry, registry, runtime.policy)
			reservationService := reservations.NewService(runtime.store, registry, loanService, runtime.policy)

			expired, err := reservationService.ExpireSweep(ctx)
			if err != nil {
				return err
			}

			runtime.logger.Info("reservation expiry sweep finished", "expired", expired)

			return nil
		},
	}
}

// newExpireSanctionsCommand creates the sanction expiry sweep job: active
// sanctions past their end date become expired, so listings and audits show
// them as terminal rather than stale blocks. Eligibility checks do not depend
// on the sweep - IsBlocked already honors end dates.
func newExpireSanctionsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "expire-sanctions",
		Short: "Transition active sanctions past their end date to expired",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			runtime, err := newJobRuntime(ctx, opts)
			if err != nil {
				return err
			}
			defer runtime.close()

			registry := sanctions.NewRegistry(runtime.store, runtime.policy)

			expired, err := registry.ExpireSweep(ctx)
			if err != nil {
				return err
			}

			runtime.logger.Info("sanction expiry sweep finished", "expired", expired)

			return nil
		},
	}
}
