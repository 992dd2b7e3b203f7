// circjobs runs the periodic maintenance jobs of the circulation engine
// against PostgreSQL: the reservation expiry sweep and the alert scan.
//
// The database DSN comes from the CIRCULATION_DB_DSN environment variable;
// the business policy from an optional YAML file (--policy).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
