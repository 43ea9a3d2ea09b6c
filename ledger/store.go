/*
store.go - Persistence interfaces for the ledger engine

PURPOSE:
  Defines the boundary between domain logic and the database. The concrete
  implementations are store/sqlite (production) and ledger/store (in-memory,
  tests). The engine assumes the store is transactional: WithTx gives
  all-or-nothing semantics for multi-row writes, and readers never observe a
  transaction's uncommitted window.

WRITE DISCIPLINE:
  Entries are inserted, flipped to reversed via MarkReversed, and removed
  only by RemoveEntries (transfer rollback, both legs together). There is no
  general update.

SEE ALSO:
  - store/sqlite/sqlite.go: Production implementation
  - ledger/store/memory.go: In-memory implementation for tests
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// EntryFilter narrows List results. Zero values mean "no filter".
// From/To bound OccurredAt inclusively.
type EntryFilter struct {
	AccountID string
	CardID    string
	From      *time.Time
	To        *time.Time
}

// =============================================================================
// ENTRY STORE
// =============================================================================

// EntryStore persists ledger entries.
type EntryStore interface {
	// InsertEntry persists a single entry.
	InsertEntry(ctx context.Context, e Entry) error

	// InsertEntries persists multiple entries atomically; used for the two
	// legs of a transfer. Either all are durable or none is.
	InsertEntries(ctx context.Context, entries []Entry) error

	// GetEntry returns the entry owned by userID, or nil if absent.
	GetEntry(ctx context.Context, userID, entryID string) (*Entry, error)

	// ListEntries returns matching entries ordered by OccurredAt ascending,
	// reversed ones included.
	ListEntries(ctx context.Context, userID string, f EntryFilter) ([]Entry, error)

	// MarkReversed flips the reversed flag. ErrNotFound if absent,
	// ErrAlreadyReversed if already flagged.
	MarkReversed(ctx context.Context, userID, entryID string) error

	// RemoveEntries hard-deletes entries by id. Only the Transfer
	// Coordinator calls this, and only for paired legs.
	RemoveEntries(ctx context.Context, userID string, entryIDs []string) error

	// SumBalance pushes the balance reduction into the store: the signed sum
	// of non-reversed entries for the account with OccurredAt <= asOf.
	SumBalance(ctx context.Context, userID, accountID string, asOf time.Time) (decimal.Decimal, error)

	// ListTransferLegs returns Outflow entries tagged OriginTransfer, newest
	// first, paginated, plus the total count.
	ListTransferLegs(ctx context.Context, userID string, page, limit int) ([]Entry, int, error)

	// FindByOrigin returns entries whose Origin matches exactly.
	FindByOrigin(ctx context.Context, userID string, o Origin) ([]Entry, error)

	// HasOpeningBalance reports whether a non-reversed OpeningBalance entry
	// exists for the account.
	HasOpeningBalance(ctx context.Context, userID, accountID string) (bool, error)
}

// =============================================================================
// REFERENCE STORES
// =============================================================================

type AccountStore interface {
	GetAccount(ctx context.Context, userID, accountID string) (*Account, error)
	ListAccounts(ctx context.Context, userID string) ([]Account, error)
}

type BillStore interface {
	GetBill(ctx context.Context, userID, billID string) (*Bill, error)
	SaveBill(ctx context.Context, b Bill) error
	// BillsDueBetween returns bills with DueDate in [from, to].
	BillsDueBetween(ctx context.Context, userID string, from, to time.Time) ([]Bill, error)
	// BillsPaidBetween returns Paid bills with PaymentDate in [from, to].
	BillsPaidBetween(ctx context.Context, userID string, from, to time.Time) ([]Bill, error)
}

type ExpenseStore interface {
	InsertExpense(ctx context.Context, e Expense) error
	ExpensesBetween(ctx context.Context, userID string, from, to time.Time) ([]Expense, error)
}

type CardStore interface {
	ListCards(ctx context.Context, userID string) ([]Card, error)
}

type CategoryStore interface {
	ListGroups(ctx context.Context, userID string) ([]CategoryGroup, error)
}

// =============================================================================
// REPOSITORY - Everything the engine needs from storage
// =============================================================================

type Repository interface {
	EntryStore
	AccountStore
	BillStore
	ExpenseStore
	CardStore
	CategoryStore
}

// TxRepository adds multi-statement transactions.
type TxRepository interface {
	Repository

	// WithTx executes fn within one storage transaction. If fn returns an
	// error the transaction is rolled back, otherwise committed. Writes made
	// through the passed Repository are invisible to other readers until
	// commit.
	WithTx(ctx context.Context, fn func(Repository) error) error
}
