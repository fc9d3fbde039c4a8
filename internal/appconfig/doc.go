// Package appconfig loads credguardd configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then an
// optional .env file, then CREDGUARD_-prefixed environment variables. Nested
// keys map to env names by replacing dots with underscores, so
// lockout.threshold is read from CREDGUARD_LOCKOUT_THRESHOLD.
//
// The JWT signing key and the database URL are only ever read from the
// environment (CREDGUARD_JWT_SIGNING_KEY, CREDGUARD_DATABASE_URL).
package appconfig
