// Package adapters provide database adapter implementations for the
// PostgreSQL circulation store.
//
// This package implements the adapter pattern to support multiple PostgreSQL
// database libraries: pgx.Pool, sql.DB, and sqlx.DB. All adapters provide
// equivalent functionality through a common DBAdapter interface, including
// short transactions for the guarded stock and status writes, allowing the
// circulation store to work seamlessly with any supported connection type.
package adapters
