/*
Package ledger contains the core ledger engine for personal finances.

PURPOSE:
  This package holds the domain model and algorithms of the transaction
  ledger ("extrato"): entries, point-in-time balance calculation, the
  reversal state machine, and the paired-entry transfer protocol.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entry: One recorded movement of money into or out of a bank account
  - EntryKind: Inflow, Outflow, or OpeningBalance
  - Origin: Tagged reference back to whatever produced the entry
  - Cents: Exact monetary arithmetic via decimal.Decimal

DESIGN PRINCIPLES:
  1. Append-mostly: entries are created, flipped to reversed, and (for
     transfer rollback only) removed as a pair. Never edited.
  2. Precision: decimal.Decimal everywhere, rounded half-up to cents on
     every write. No floats in domain code.
  3. Typed origins: Origin is a discriminated reference, not a loose
     (string, string) pair, so new origin kinds cannot be confused.

SEE ALSO:
  - balance.go: Balance calculation from entries
  - reversal.go: Active -> Reversed state machine
  - transfer.go: Paired-leg transfer coordinator
  - store.go: Persistence interfaces
*/
package ledger

import (
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ENTRY KIND
// =============================================================================

type EntryKind string

const (
	KindInflow         EntryKind = "inflow"
	KindOutflow        EntryKind = "outflow"
	KindOpeningBalance EntryKind = "opening_balance"
)

// Valid reports whether k is one of the known kinds.
func (k EntryKind) Valid() bool {
	switch k {
	case KindInflow, KindOutflow, KindOpeningBalance:
		return true
	}
	return false
}

// =============================================================================
// ORIGIN - Tagged reference to whatever produced an entry
// =============================================================================

type OriginType string

const (
	OriginBill           OriginType = "bill"
	OriginExpense        OriginType = "expense"
	OriginManual         OriginType = "manual"
	OriginOpeningBalance OriginType = "opening_balance"
	OriginTransfer       OriginType = "transfer"
	OriginReversal       OriginType = "reversal"
)

// Origin points back at the operation that produced an entry.
//
// RefID semantics depend on Type:
//   - OriginBill / OriginExpense: id of the bill or expense
//   - OriginTransfer: transfer-group id shared by both legs
//   - OriginReversal: id of the reversed entry being compensated
//   - OriginManual / OriginOpeningBalance: empty
type Origin struct {
	Type  OriginType
	RefID string
}

// =============================================================================
// ENTRY - Atomic unit of the ledger
// =============================================================================

type Entry struct {
	ID        string
	UserID    string
	AccountID string
	CardID    string // optional
	Kind      EntryKind
	Amount    decimal.Decimal // non-negative, 2 fractional digits
	// OccurredAt is when the movement is effective. It drives ordering and
	// period filters and is distinct from CreatedAt.
	OccurredAt time.Time
	Reason     string
	Origin     Origin
	// Reversed entries are excluded from balances and reports.
	Reversed  bool
	CreatedAt time.Time
}

// Signed returns the entry's contribution to an account balance:
// +Amount for Inflow and OpeningBalance, -Amount for Outflow.
func (e Entry) Signed() decimal.Decimal {
	if e.Kind == KindOutflow {
		return e.Amount.Neg()
	}
	return e.Amount
}

// NewEntryID returns a ULID, sortable by creation time.
func NewEntryID() string {
	return ulid.Make().String()
}

// =============================================================================
// MONEY HELPERS
// =============================================================================

// Cents rounds a monetary value half-up to 2 fractional digits.
// Applied on every write so stored amounts are always exact cents.
func Cents(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Percent computes part/whole*100. A zero denominator yields 0, never a
// division error. Callers round at the report boundary, not here.
func Percent(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(decimal.NewFromInt(100))
}
