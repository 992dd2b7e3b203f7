package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/libcirc/circulation-engine-go/circulation/notify"
)

// newScanAlertsCommand creates the alert scan job: due-soon, overdue and
// reservation-expiring facts, deduplicated per user, kind and civil date.
// Facts pass the dedup gate before delivery and are marked only after a
// successful send, so a failed delivery is retried on the next run.
func newScanAlertsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scan-alerts",
		Short: "Emit due-soon, overdue and reservation-expiring alert facts",
		Long: `Scans open loans and pending reservations for alert conditions and emits
one JSON fact per line on stdout for the downstream delivery pipeline.
The dedup gate guarantees at most one fact per user, kind and day.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			runtime, err := newJobRuntime(ctx, opts)
			if err != nil {
				return err
			}
			defer runtime.close()

			gate := notify.NewGate(runtime.store, runtime.policy.Window.Location)
			scanner := notify.NewScanner(runtime.store, gate, notify.WithLogger(runtime.logger))

			sent, err := scanner.Run(ctx, lineSender(cmd.OutOrStdout()))
			if err != nil {
				return err
			}

			runtime.logger.Info("alert scan finished", "sent", sent)

			return nil
		},
	}
}

// lineSender writes each fact as one JSON line for a downstream mailer.
func lineSender(out io.Writer) notify.Sender {
	return func(_ context.Context, fact notify.Fact) error {
		payload, err := fact.PayloadJSON()
		if err != nil {
			return err
		}

		_, err = fmt.Fprintf(out, "%s\n", payload)

		return err
	}
}
