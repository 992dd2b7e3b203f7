// Package postgresengine provides the PostgreSQL persistence engine for the
// circulation managers.
//
// One Store satisfies every manager storage interface. Construct it from a
// pgx pool, a sql.DB or a sqlx.DB:
//
//	store, err := postgresengine.NewStoreFromPGXPool(pool, postgresengine.WithLogger(logger))
//
// The engine never relies on long-lived locks: stock counters are written
// under the item's version check, entity transitions under their status
// check, and a lost race surfaces circulation.ErrConcurrencyConflict so the
// managers can re-read and retry. See schema.sql for the expected tables.
package postgresengine
