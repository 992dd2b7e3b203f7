package circulation

import (
	"github.com/google/uuid"
)

// CatalogItem is the stock-bearing view of a title in the catalog. The catalog
// module owns the bibliographic fields; the engine owns the copy counters and
// the version used for optimistic concurrency checks.
//
// Invariant: 0 <= AvailableCopies <= TotalCopies, and AvailableCopies equals
// TotalCopies minus the quantities of all currently active loans.
type CatalogItem struct {
	ID              uuid.UUID
	ISBN            string
	Title           string
	AuthorID        uuid.UUID
	CategoryID      uuid.UUID
	TotalCopies     int
	AvailableCopies int
	Active          bool
	Version         uint
}

// BuildCatalogItem creates a catalog item with all copies available.
func BuildCatalogItem(id uuid.UUID, isbn string, title string, authorID uuid.UUID, categoryID uuid.UUID, totalCopies int) CatalogItem {
	return CatalogItem{
		ID:              id,
		ISBN:            isbn,
		Title:           title,
		AuthorID:        authorID,
		CategoryID:      categoryID,
		TotalCopies:     totalCopies,
		AvailableCopies: totalCopies,
		Active:          true,
		Version:         0,
	}
}
