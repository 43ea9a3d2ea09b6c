/*
posting.go - Ledger-emitting operations

Every mutating operation of the engine besides transfer and reversal lives
here: manual entries, the idempotent opening-balance posting, expense
creation, and bill payment. Expense and bill operations write the reference
row and its ledger entry inside one storage transaction.
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Poster posts ledger entries for user-facing operations.
type Poster struct {
	Store TxRepository
	Log   *zap.Logger
	Now   func() time.Time
}

func NewPoster(store TxRepository, log *zap.Logger) *Poster {
	return &Poster{Store: store, Log: log, Now: time.Now}
}

// =============================================================================
// MANUAL ENTRIES
// =============================================================================

// ManualInput describes a manual ledger posting.
type ManualInput struct {
	AccountID string
	CardID    string
	Kind      EntryKind // Inflow or Outflow only
	Amount    decimal.Decimal
	Date      time.Time
	Reason    string
}

// Manual posts a free-form Inflow or Outflow entry.
func (p *Poster) Manual(ctx context.Context, userID string, in ManualInput) (*Entry, error) {
	if in.Kind != KindInflow && in.Kind != KindOutflow {
		return nil, ErrInvalidKind
	}
	if !in.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if err := p.checkAccount(ctx, userID, in.AccountID); err != nil {
		return nil, err
	}

	e := Entry{
		ID:         NewEntryID(),
		UserID:     userID,
		AccountID:  in.AccountID,
		CardID:     in.CardID,
		Kind:       in.Kind,
		Amount:     Cents(in.Amount),
		OccurredAt: in.Date.UTC(),
		Reason:     in.Reason,
		Origin:     Origin{Type: OriginManual},
		CreatedAt:  p.Now().UTC(),
	}
	if err := p.Store.InsertEntry(ctx, e); err != nil {
		return nil, err
	}
	return &e, nil
}

// OpeningBalance establishes an account's starting balance. At most one
// non-reversed opening balance may exist per (user, account); reversing the
// first allows posting a second.
func (p *Poster) OpeningBalance(ctx context.Context, userID, accountID string, amount decimal.Decimal, date time.Time) (*Entry, error) {
	if amount.IsNegative() {
		return nil, ErrInvalidAmount
	}
	if err := p.checkAccount(ctx, userID, accountID); err != nil {
		return nil, err
	}

	e := Entry{
		ID:         NewEntryID(),
		UserID:     userID,
		AccountID:  accountID,
		Kind:       KindOpeningBalance,
		Amount:     Cents(amount),
		OccurredAt: date.UTC(),
		Reason:     "Opening balance",
		Origin:     Origin{Type: OriginOpeningBalance},
		CreatedAt:  p.Now().UTC(),
	}

	// The uniqueness check and the insert share one transaction so two
	// concurrent postings cannot both pass the guard.
	err := p.Store.WithTx(ctx, func(tx Repository) error {
		exists, err := tx.HasOpeningBalance(ctx, userID, accountID)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateOpeningBalance
		}
		return tx.InsertEntry(ctx, e)
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// =============================================================================
// EXPENSES
// =============================================================================

// PostExpense persists the expense and its single Outflow entry atomically.
func (p *Poster) PostExpense(ctx context.Context, expense Expense) (*Entry, error) {
	if !expense.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if err := p.checkAccount(ctx, expense.UserID, expense.AccountID); err != nil {
		return nil, err
	}
	if expense.ID == "" {
		expense.ID = NewEntryID()
	}
	expense.Amount = Cents(expense.Amount)
	expense.Date = expense.Date.UTC()

	e := Entry{
		ID:         NewEntryID(),
		UserID:     expense.UserID,
		AccountID:  expense.AccountID,
		CardID:     expense.CardID,
		Kind:       KindOutflow,
		Amount:     expense.Amount,
		OccurredAt: expense.Date,
		Reason:     "Expense: " + expense.SubgroupName,
		Origin:     Origin{Type: OriginExpense, RefID: expense.ID},
		CreatedAt:  p.Now().UTC(),
	}

	err := p.Store.WithTx(ctx, func(tx Repository) error {
		if err := tx.InsertExpense(ctx, expense); err != nil {
			return err
		}
		return tx.InsertEntry(ctx, e)
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// =============================================================================
// BILL PAYMENT
// =============================================================================

// PayBill transitions a bill to Paid and posts its Outflow entry, both in
// one transaction. Cancelled and already-paid bills cannot be paid.
func (p *Poster) PayBill(ctx context.Context, userID, billID, accountID, method string, when time.Time) (*Entry, error) {
	if err := p.checkAccount(ctx, userID, accountID); err != nil {
		return nil, err
	}

	bill, err := p.Store.GetBill(ctx, userID, billID)
	if err != nil {
		return nil, err
	}
	if bill == nil {
		return nil, ErrNotFound
	}
	if bill.Status == BillPaid || bill.Status == BillCancelled {
		return nil, ErrBillNotPayable
	}

	when = when.UTC()
	bill.Status = BillPaid
	bill.PaymentDate = &when
	bill.PaymentMethod = method
	bill.AccountID = accountID

	e := Entry{
		ID:         NewEntryID(),
		UserID:     userID,
		AccountID:  accountID,
		CardID:     bill.CardID,
		Kind:       KindOutflow,
		Amount:     Cents(bill.Amount),
		OccurredAt: when,
		Reason:     "Bill payment: " + bill.Description,
		Origin:     Origin{Type: OriginBill, RefID: bill.ID},
		CreatedAt:  p.Now().UTC(),
	}

	err = p.Store.WithTx(ctx, func(tx Repository) error {
		if err := tx.SaveBill(ctx, *bill); err != nil {
			return err
		}
		return tx.InsertEntry(ctx, e)
	})
	if err != nil {
		return nil, err
	}
	p.Log.Info("bill paid",
		zap.String("user_id", userID),
		zap.String("bill_id", billID),
		zap.String("amount", e.Amount.StringFixed(2)))
	return &e, nil
}

func (p *Poster) checkAccount(ctx context.Context, userID, accountID string) error {
	if accountID == "" {
		return ErrInvalidAccount
	}
	acct, err := p.Store.GetAccount(ctx, userID, accountID)
	if err != nil {
		return err
	}
	if acct == nil || !acct.Active {
		return ErrInvalidAccount
	}
	return nil
}
