/*
reference.go - Reference entities consumed by the ledger and reports

These records are owned by the out-of-scope CRUD collaborator; the engine
only reads them (accounts, cards, category groups) or flips well-defined
fields (bill payment). Account deactivation is a soft flag and never
cascades to ledger history.
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a bank account owned by a user.
type Account struct {
	ID       string
	UserID   string
	Name     string
	BankName string
	Active   bool
}

// =============================================================================
// BILLS
// =============================================================================

type BillStatus string

const (
	BillPending   BillStatus = "pending"
	BillPaid      BillStatus = "paid"
	BillOverdue   BillStatus = "overdue"
	BillCancelled BillStatus = "cancelled"
)

// Bill is a payable. Paying it posts exactly one Outflow entry whose
// Origin points back at the bill.
type Bill struct {
	ID            string
	UserID        string
	Description   string
	Amount        decimal.Decimal
	DueDate       time.Time
	Status        BillStatus
	PaymentDate   *time.Time // set only on transition to Paid
	PaymentMethod string
	AccountID     string // set on payment
	CardID        string // optional
}

// Expense is a categorized spend. Creating it posts exactly one Outflow
// entry whose Origin points back at the expense.
type Expense struct {
	ID            string
	UserID        string
	Amount        decimal.Decimal
	Date          time.Time
	GroupID       string
	SubgroupName  string
	PaymentMethod string
	CardID        string // optional
	AccountID     string
}

// =============================================================================
// CARDS AND CATEGORIES
// =============================================================================

type CardKind string

const (
	CardCredit CardKind = "credit"
	CardDebit  CardKind = "debit"
)

type Card struct {
	ID          string
	UserID      string
	Name        string
	Kind        CardKind
	CreditLimit decimal.Decimal // credit cards only
	Active      bool
}

// CategoryGroup is a two-level expense taxonomy node: a group with an
// ordered list of subgroup names. Read-only reference data.
type CategoryGroup struct {
	ID        string
	UserID    string
	Name      string
	Subgroups []string
}
