// Package config provides configuration helpers for the circulation engine.
//
// It loads the business policy (window, per-role loan rules, reservation TTL,
// sanction severity table) from a YAML file and contains factory functions
// for creating PostgreSQL connections using different drivers (pgx.Pool,
// sql.DB, sqlx.DB), with the DSN taken from the environment.
package config
