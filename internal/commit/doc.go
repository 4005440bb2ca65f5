// Package commit finalizes reviewed scans by folding their accepted results
// into the card collection.
//
// A commit is all or nothing. The collection write and the scan's ledger row
// share one database transaction, so a failure leaves the collection
// untouched and the scan READY_FOR_REVIEW for another attempt. When a crash
// lands between the collection write and the status change, the next attempt
// finds the ledger row and only completes the scan.
package commit
