package postgresengine

// Default table names. All of them can be namespaced with WithTablePrefix.
const (
	defaultCatalogItemsTable  = "catalog_items"
	defaultUsersTable         = "users"
	defaultLoansTable         = "loans"
	defaultReservationsTable  = "reservations"
	defaultSanctionsTable     = "sanctions"
	defaultNotificationsTable = "notifications"
)

// Column names, shared across tables where the meaning is identical.
const (
	colItemID          = "item_id"
	colISBN            = "isbn"
	colTitle           = "title"
	colAuthorID        = "author_id"
	colCategoryID      = "category_id"
	colTotalCopies     = "total_copies"
	colAvailableCopies = "available_copies"
	colActive          = "active"
	colVersion         = "version"

	colUserID    = "user_id"
	colFullName  = "full_name"
	colEmail     = "email"
	colRole      = "role"
	colValidated = "validated"

	colLoanID       = "loan_id"
	colOperatorID   = "operator_id"
	colQuantity     = "quantity"
	colStatus       = "status"
	colCreatedAt    = "created_at"
	colDueAt        = "due_at"
	colReturnedAt   = "returned_at"
	colObservations = "observations"

	colReservationID = "reservation_id"
	colExpiresAt     = "expires_at"

	colSanctionID = "sanction_id"
	colDays       = "days"
	colAmount     = "amount"
	colReason     = "reason"
	colEndsAt     = "ends_at"

	colEventKind = "event_kind"
	colSentOn    = "sent_on"
	colSentAt    = "sent_at"
)

type tableNames struct {
	catalogItems  string
	users         string
	loans         string
	reservations  string
	sanctions     string
	notifications string
}

func defaultTableNames() tableNames {
	return tableNames{
		catalogItems:  defaultCatalogItemsTable,
		users:         defaultUsersTable,
		loans:         defaultLoansTable,
		reservations:  defaultReservationsTable,
		sanctions:     defaultSanctionsTable,
		notifications: defaultNotificationsTable,
	}
}

func (t tableNames) withPrefix(prefix string) tableNames {
	return tableNames{
		catalogItems:  prefix + t.catalogItems,
		users:         prefix + t.users,
		loans:         prefix + t.loans,
		reservations:  prefix + t.reservations,
		sanctions:     prefix + t.sanctions,
		notifications: prefix + t.notifications,
	}
}
