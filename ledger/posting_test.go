package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/finbook/finbook/ledger"
	memstore "github.com/finbook/finbook/ledger/store"
)

func newPoster(m *memstore.Memory, now time.Time) *ledger.Poster {
	p := ledger.NewPoster(m, testLogger())
	p.Now = func() time.Time { return now }
	return p
}

// =============================================================================
// MANUAL ENTRIES
// =============================================================================

func TestManual_PostsEntry(t *testing.T) {
	m := newStore(t)
	poster := newPoster(m, at(10, 0))

	entry, err := poster.Manual(context.Background(), testUser, ledger.ManualInput{
		AccountID: "acct-1",
		Kind:      ledger.KindInflow,
		Amount:    d("42.50"),
		Date:      at(8, 0),
		Reason:    "Refund",
	})
	require.NoError(t, err)
	require.Equal(t, ledger.KindInflow, entry.Kind)
	require.Equal(t, ledger.OriginManual, entry.Origin.Type)
	require.True(t, entry.Amount.Equal(d("42.50")))
}

func TestManual_RejectsNonPostableKinds(t *testing.T) {
	// GIVEN: A manual posting request
	// WHEN: The kind is opening_balance or unknown
	// THEN: ErrInvalidKind; opening balances go through their own path

	m := newStore(t)
	poster := newPoster(m, at(10, 0))

	for _, kind := range []ledger.EntryKind{ledger.KindOpeningBalance, "bogus", ""} {
		_, err := poster.Manual(context.Background(), testUser, ledger.ManualInput{
			AccountID: "acct-1",
			Kind:      kind,
			Amount:    d("10.00"),
			Date:      at(8, 0),
		})
		require.ErrorIs(t, err, ledger.ErrInvalidKind, "kind %q", kind)
	}
}

func TestManual_RejectsUnknownAccount(t *testing.T) {
	m := newStore(t)
	poster := newPoster(m, at(10, 0))

	_, err := poster.Manual(context.Background(), testUser, ledger.ManualInput{
		AccountID: "missing",
		Kind:      ledger.KindOutflow,
		Amount:    d("10.00"),
		Date:      at(8, 0),
	})
	require.ErrorIs(t, err, ledger.ErrInvalidAccount)
}

// =============================================================================
// OPENING BALANCE
// =============================================================================

func TestOpeningBalance_OnePerAccount(t *testing.T) {
	// GIVEN: An account with a live opening balance
	// WHEN: A second opening balance is posted
	// THEN: ErrDuplicateOpeningBalance (conflict)

	m := newStore(t)
	poster := newPoster(m, at(10, 0))

	_, err := poster.OpeningBalance(context.Background(), testUser, "acct-1", d("1000.00"), at(1, 0))
	require.NoError(t, err)

	_, err = poster.OpeningBalance(context.Background(), testUser, "acct-1", d("900.00"), at(2, 0))
	require.ErrorIs(t, err, ledger.ErrDuplicateOpeningBalance)
	require.True(t, ledger.IsConflict(err))
}

func TestOpeningBalance_RepostableAfterReversal(t *testing.T) {
	// GIVEN: An opening balance that was reversed (wrong amount)
	// WHEN: A corrected opening balance is posted
	// THEN: It is accepted; the uniqueness rule counts live entries only

	m := newStore(t)
	poster := newPoster(m, at(10, 0))
	rev := newReverser(m, at(10, 0))

	first, err := poster.OpeningBalance(context.Background(), testUser, "acct-1", d("1000.00"), at(1, 0))
	require.NoError(t, err)

	_, err = rev.Reverse(context.Background(), testUser, first.ID)
	require.NoError(t, err)

	second, err := poster.OpeningBalance(context.Background(), testUser, "acct-1", d("1100.00"), at(1, 0))
	require.NoError(t, err)
	require.True(t, second.Amount.Equal(d("1100.00")))
}

func TestOpeningBalance_ZeroAllowedNegativeRejected(t *testing.T) {
	m := newStore(t)
	poster := newPoster(m, at(10, 0))

	_, err := poster.OpeningBalance(context.Background(), testUser, "acct-1", d("0"), at(1, 0))
	require.NoError(t, err)

	_, err = poster.OpeningBalance(context.Background(), testUser, "acct-2", d("-1.00"), at(1, 0))
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

func TestOpeningBalance_DifferentAccountsIndependent(t *testing.T) {
	m := newStore(t)
	poster := newPoster(m, at(10, 0))

	_, err := poster.OpeningBalance(context.Background(), testUser, "acct-1", d("100.00"), at(1, 0))
	require.NoError(t, err)
	_, err = poster.OpeningBalance(context.Background(), testUser, "acct-2", d("200.00"), at(1, 0))
	require.NoError(t, err)
}

// =============================================================================
// EXPENSES
// =============================================================================

func TestPostExpense_WritesRecordAndEntry(t *testing.T) {
	// GIVEN: A categorized expense
	// WHEN: It is posted
	// THEN: Both the expense record and its outflow entry exist, the entry
	//       origin pointing at the expense

	m := newStore(t)
	poster := newPoster(m, at(10, 0))

	entry, err := poster.PostExpense(context.Background(), ledger.Expense{
		UserID:       testUser,
		Amount:       d("50.00"),
		Date:         at(5, 0),
		GroupID:      "grp-food",
		SubgroupName: "Lunch",
		AccountID:    "acct-1",
	})
	require.NoError(t, err)
	require.Equal(t, ledger.KindOutflow, entry.Kind)
	require.Equal(t, ledger.OriginExpense, entry.Origin.Type)
	require.NotEmpty(t, entry.Origin.RefID)
	require.Equal(t, "Expense: Lunch", entry.Reason)

	expenses, err := m.ExpensesBetween(context.Background(), testUser, at(1, 0), at(31, 0))
	require.NoError(t, err)
	require.Len(t, expenses, 1)
	require.Equal(t, entry.Origin.RefID, expenses[0].ID)
}

func TestPostExpense_RejectsNonPositiveAmount(t *testing.T) {
	m := newStore(t)
	poster := newPoster(m, at(10, 0))

	_, err := poster.PostExpense(context.Background(), ledger.Expense{
		UserID:    testUser,
		Amount:    d("0"),
		Date:      at(5, 0),
		AccountID: "acct-1",
	})
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

// =============================================================================
// BILL PAYMENT
// =============================================================================

func putBill(m *memstore.Memory, id string, status ledger.BillStatus, amount string, due time.Time) {
	m.PutBill(ledger.Bill{
		ID:          id,
		UserID:      testUser,
		Description: "Electricity",
		Amount:      d(amount),
		DueDate:     due,
		Status:      status,
	})
}

func TestPayBill_PostsOutflowAndFlipsStatus(t *testing.T) {
	// GIVEN: A pending bill of 200.00
	// WHEN: It is paid from acct-1 on January 8
	// THEN: The bill becomes paid with payment metadata, and exactly one
	//       outflow entry exists with origin pointing at the bill

	m := newStore(t)
	poster := newPoster(m, at(10, 0))
	putBill(m, "bill-1", ledger.BillPending, "200.00", at(15, 0))

	entry, err := poster.PayBill(context.Background(), testUser, "bill-1", "acct-1", "debit", at(8, 0))
	require.NoError(t, err)
	require.Equal(t, ledger.KindOutflow, entry.Kind)
	require.Equal(t, ledger.OriginBill, entry.Origin.Type)
	require.Equal(t, "bill-1", entry.Origin.RefID)
	require.Equal(t, "Bill payment: Electricity", entry.Reason)
	require.True(t, entry.Amount.Equal(d("200.00")))

	bill, err := m.GetBill(context.Background(), testUser, "bill-1")
	require.NoError(t, err)
	require.Equal(t, ledger.BillPaid, bill.Status)
	require.NotNil(t, bill.PaymentDate)
	require.Equal(t, "acct-1", bill.AccountID)
	require.Equal(t, "debit", bill.PaymentMethod)
}

func TestPayBill_OverdueIsPayable(t *testing.T) {
	m := newStore(t)
	poster := newPoster(m, at(10, 0))
	putBill(m, "bill-1", ledger.BillOverdue, "80.00", at(2, 0))

	_, err := poster.PayBill(context.Background(), testUser, "bill-1", "acct-1", "debit", at(8, 0))
	require.NoError(t, err)
}

func TestPayBill_PaidOrCancelledRejected(t *testing.T) {
	// GIVEN: Bills already paid or cancelled
	// WHEN: Payment is attempted
	// THEN: ErrBillNotPayable (conflict); paying twice must not post a
	//       second outflow

	m := newStore(t)
	poster := newPoster(m, at(10, 0))
	putBill(m, "bill-paid", ledger.BillPaid, "80.00", at(2, 0))
	putBill(m, "bill-cancelled", ledger.BillCancelled, "80.00", at(2, 0))

	_, err := poster.PayBill(context.Background(), testUser, "bill-paid", "acct-1", "debit", at(8, 0))
	require.ErrorIs(t, err, ledger.ErrBillNotPayable)
	require.True(t, ledger.IsConflict(err))

	_, err = poster.PayBill(context.Background(), testUser, "bill-cancelled", "acct-1", "debit", at(8, 0))
	require.ErrorIs(t, err, ledger.ErrBillNotPayable)

	entries, err := m.ListEntries(context.Background(), testUser, ledger.EntryFilter{})
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestPayBill_NotFound(t *testing.T) {
	m := newStore(t)
	poster := newPoster(m, at(10, 0))

	_, err := poster.PayBill(context.Background(), testUser, "missing", "acct-1", "debit", at(8, 0))
	require.ErrorIs(t, err, ledger.ErrNotFound)
}
