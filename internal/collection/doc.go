// Package collection persists the permanent card collection with gorm.
//
// Cards stack by identity: IdentityKey folds name, set code, and collector
// number into one comparison key, and a commit that adds a card whose key
// already exists increments that card's count and records a provenance row
// instead of creating a new card. Every commit is also written to a ledger
// (scan_commits) in the same transaction, so a scan can never be folded into
// the collection twice.
//
// SQLite (modernc driver, no cgo) is the default backend; PostgreSQL is
// selected with collection.driver = "postgres".
package collection
