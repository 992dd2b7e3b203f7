// Package stock implements the stock ledger: every mutation of a catalog
// item's copy counters funnels through the pure debit/credit decisions in this
// package, never through direct field writes. The decisions are side-effect
// free; the storage engine persists the returned item under an optimistic
// version check and the callers retry on conflict.
package stock

import (
	"github.com/libcirc/circulation-engine-go/circulation"
)

// Ledger applies the configured stock policy to debit and credit decisions.
type Ledger struct {
	// LostReducesTotal permanently removes lost copies from the total count
	// instead of restoring their availability.
	LostReducesTotal bool
}

// CommitLoan debits available copies for a new loan. Fails with
// ErrInsufficientStock if the requested quantity exceeds what is available.
func (l Ledger) CommitLoan(item circulation.CatalogItem, qty int) (circulation.CatalogItem, error) {
	if qty <= 0 {
		return item, circulation.ErrInvalidQuantity
	}

	if qty > item.AvailableCopies {
		return item, circulation.ErrInsufficientStock
	}

	item.AvailableCopies -= qty

	return item, nil
}

// Reserve checks the reservation quota for one more provisional claim.
// Reservations do not decrement available copies (regular loans are not
// starved) but every currently counted hold reduces the quota:
// a claim is admitted only while available - holds > 0.
func (l Ledger) Reserve(item circulation.CatalogItem, currentHolds int) error {
	if item.AvailableCopies-currentHolds <= 0 {
		return circulation.ErrInsufficientStock
	}

	return nil
}

// Release credits available copies without touching totals, used when a
// provisional claim is withdrawn. Capped at the total so a double release
// can never inflate availability.
func (l Ledger) Release(item circulation.CatalogItem, qty int) (circulation.CatalogItem, error) {
	if qty <= 0 {
		return item, circulation.ErrInvalidQuantity
	}

	item.AvailableCopies += qty
	if item.AvailableCopies > item.TotalCopies {
		item.AvailableCopies = item.TotalCopies
	}

	return item, nil
}

// Restore credits the quantity committed at loan creation back to the item
// when the loan closes. Availability is restored for every outcome - a damaged
// or lost book still frees the slot for inventory correction - except that a
// lost outcome under LostReducesTotal removes the copies from the total
// instead.
func (l Ledger) Restore(item circulation.CatalogItem, outcome circulation.LoanStatus, qty int) (circulation.CatalogItem, error) {
	if qty <= 0 {
		return item, circulation.ErrInvalidQuantity
	}

	if outcome == circulation.LoanLost && l.LostReducesTotal {
		item.TotalCopies -= qty
		if item.TotalCopies < 0 {
			item.TotalCopies = 0
		}
		if item.AvailableCopies > item.TotalCopies {
			item.AvailableCopies = item.TotalCopies
		}

		return item, nil
	}

	return l.Release(item, qty)
}
