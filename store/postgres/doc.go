// Package postgres is a reference implementation of credguard.IdentityStore
// and credguard.SubscriptionLookup on PostgreSQL.
//
// The schema ships as embedded golang-migrate migrations; call Migrate
// before first use. Email uniqueness is case-insensitive and enforced by
// the database, so UpdateEmail races resolve to exactly one owner.
package postgres
