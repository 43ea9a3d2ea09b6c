package dashboard_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finbook/finbook/dashboard"
	"github.com/finbook/finbook/ledger"
	memstore "github.com/finbook/finbook/ledger/store"
)

const testUser = "user-1"

func d(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

func jan(day int) time.Time {
	return time.Date(2026, time.January, day, 12, 0, 0, 0, time.UTC)
}

func newFixture(t *testing.T) (*memstore.Memory, *dashboard.Assembler) {
	t.Helper()
	m := memstore.NewMemory()
	m.PutAccount(ledger.Account{ID: "acct-1", UserID: testUser, Name: "Checking", Active: true})
	m.PutGroup(ledger.CategoryGroup{ID: "grp-food", UserID: testUser, Name: "Food", Subgroups: []string{"Groceries", "Lunch"}})

	calc := ledger.NewCalculator(m)
	asm := dashboard.NewAssembler(m, calc, time.Minute, zap.NewNop())
	return m, asm
}

func seedEntry(t *testing.T, m *memstore.Memory, kind ledger.EntryKind, amount string, when time.Time, origin ledger.Origin) {
	t.Helper()
	require.NoError(t, m.InsertEntry(context.Background(), ledger.Entry{
		ID:         ledger.NewEntryID(),
		UserID:     testUser,
		AccountID:  "acct-1",
		Kind:       kind,
		Amount:     d(amount),
		OccurredAt: when,
		Origin:     origin,
		CreatedAt:  when,
	}))
}

// seedJanuary loads the canonical scenario: opening 1000.00 on Jan 1, a
// 50.00 Food/Lunch expense on Jan 5, a 200.00 bill paid on Jan 8.
func seedJanuary(t *testing.T, m *memstore.Memory) {
	t.Helper()

	seedEntry(t, m, ledger.KindOpeningBalance, "1000.00", jan(1),
		ledger.Origin{Type: ledger.OriginOpeningBalance})

	expenseID := ledger.NewEntryID()
	require.NoError(t, m.InsertExpense(context.Background(), ledger.Expense{
		ID:           expenseID,
		UserID:       testUser,
		Amount:       d("50.00"),
		Date:         jan(5),
		GroupID:      "grp-food",
		SubgroupName: "Lunch",
		AccountID:    "acct-1",
	}))
	seedEntry(t, m, ledger.KindOutflow, "50.00", jan(5),
		ledger.Origin{Type: ledger.OriginExpense, RefID: expenseID})

	paid := jan(8)
	m.PutBill(ledger.Bill{
		ID:            "bill-1",
		UserID:        testUser,
		Description:   "Rent",
		Amount:        d("200.00"),
		DueDate:       jan(15),
		Status:        ledger.BillPaid,
		PaymentDate:   &paid,
		PaymentMethod: "debit",
		AccountID:     "acct-1",
	})
	seedEntry(t, m, ledger.KindOutflow, "200.00", paid,
		ledger.Origin{Type: ledger.OriginBill, RefID: "bill-1"})
}

func TestDashboard_Scenario(t *testing.T) {
	// GIVEN: Opening 1000.00, a 50.00 Lunch expense, a 200.00 paid bill
	// WHEN: The January 2026 dashboard is assembled
	// THEN: Totals, category report, bill totals, comparison, and the
	//       balance evolution all reflect that history

	m, asm := newFixture(t)
	seedJanuary(t, m)

	doc, err := asm.Dashboard(context.Background(), testUser, 1, 2026)
	require.NoError(t, err)

	require.Equal(t, 1, doc.Period.Month)
	require.Equal(t, 2026, doc.Period.Year)

	// Ledger totals for the period.
	require.Equal(t, 50.0, doc.Totals.ExpenseTotal)
	require.Equal(t, 1000.0, doc.Totals.InflowTotal)
	require.Equal(t, 250.0, doc.Totals.OutflowTotal)
	require.Equal(t, 750.0, doc.Totals.Net)

	// Bill totals over bills due in January.
	require.Equal(t, 1, doc.Bills.PaidCount)
	require.Equal(t, 200.0, doc.Bills.PaidValue)
	require.Equal(t, 0, doc.Bills.PendingCount)

	// One category group, one subgroup, both at 100%.
	require.Len(t, doc.CategoryReport, 1)
	require.Equal(t, "Food", doc.CategoryReport[0].GroupName)
	require.Equal(t, 100.0, doc.CategoryReport[0].PercentOfOverall)
	require.Len(t, doc.CategoryReport[0].Subgroups, 1)
	require.Equal(t, "Lunch", doc.CategoryReport[0].Subgroups[0].Name)
	require.Equal(t, 100.0, doc.CategoryReport[0].Subgroups[0].PercentOfGroup)

	// Comparison: Dec 2025, Jan 2026, Feb 2026 in order.
	require.Len(t, doc.MonthComparison, 3)
	require.Equal(t, 12, doc.MonthComparison[0].Month)
	require.Equal(t, 2025, doc.MonthComparison[0].Year)
	require.Equal(t, 1, doc.MonthComparison[1].Month)
	require.Equal(t, 50.0, doc.MonthComparison[1].ExpenseTotal)
	require.Equal(t, 200.0, doc.MonthComparison[1].PaidBillTotal)
	require.Equal(t, 2, doc.MonthComparison[2].Month)

	// Balance evolution: the January point carries the end-of-month 750.
	require.Len(t, doc.BalanceEvolution, 1)
	series := doc.BalanceEvolution[0]
	require.Equal(t, "Checking", series.AccountName)
	require.Len(t, series.Points, 6)
	last := series.Points[len(series.Points)-1]
	require.Equal(t, 1, last.Month)
	require.Equal(t, 2026, last.Year)
	require.Equal(t, 750.0, last.Balance)
	// Months before the opening balance are flat zero.
	require.Equal(t, 0.0, series.Points[0].Balance)
}

func TestDashboard_InvalidPeriod(t *testing.T) {
	_, asm := newFixture(t)

	for _, tc := range []struct{ month, year int }{
		{0, 2026}, {13, 2026}, {1, 2019}, {1, 2031},
	} {
		_, err := asm.Dashboard(context.Background(), testUser, tc.month, tc.year)
		require.ErrorIs(t, err, ledger.ErrInvalidPeriod, "month=%d year=%d", tc.month, tc.year)
	}
}

func TestDashboard_CacheServedAndInvalidated(t *testing.T) {
	// GIVEN: A cached January dashboard
	// WHEN: New data lands without invalidation, then with it
	// THEN: The stale document is served until InvalidateUser drops it

	m, asm := newFixture(t)
	seedJanuary(t, m)

	doc1, err := asm.Dashboard(context.Background(), testUser, 1, 2026)
	require.NoError(t, err)
	require.Equal(t, 50.0, doc1.Totals.ExpenseTotal)

	require.NoError(t, m.InsertExpense(context.Background(), ledger.Expense{
		ID:           ledger.NewEntryID(),
		UserID:       testUser,
		Amount:       d("25.00"),
		Date:         jan(20),
		GroupID:      "grp-food",
		SubgroupName: "Groceries",
		AccountID:    "acct-1",
	}))

	stale, err := asm.Dashboard(context.Background(), testUser, 1, 2026)
	require.NoError(t, err)
	require.Equal(t, 50.0, stale.Totals.ExpenseTotal)

	asm.InvalidateUser(testUser)

	fresh, err := asm.Dashboard(context.Background(), testUser, 1, 2026)
	require.NoError(t, err)
	require.Equal(t, 75.0, fresh.Totals.ExpenseTotal)
}

func TestDashboard_InvalidateIsPerUser(t *testing.T) {
	// Another user's cached documents survive an invalidation.
	m, asm := newFixture(t)
	seedJanuary(t, m)

	_, err := asm.Dashboard(context.Background(), testUser, 1, 2026)
	require.NoError(t, err)

	asm.InvalidateUser("someone-else")

	_, ok := asm.Cache.Get(testUser + "|1|2026")
	require.True(t, ok)
}

func TestDashboard_FailedReadSurfaces(t *testing.T) {
	// GIVEN: The entry listing read fails
	// WHEN: The dashboard is built
	// THEN: The error surfaces as-is and no degraded document is cached

	m, asm := newFixture(t)
	seedJanuary(t, m)

	readErr := errors.New("read failure")
	m.FailNextListEntries(1, readErr)

	_, err := asm.Dashboard(context.Background(), testUser, 1, 2026)
	require.ErrorIs(t, err, readErr)

	_, ok := asm.Cache.Get(testUser + "|1|2026")
	require.False(t, ok)

	// The next build reads cleanly and caches.
	doc, err := asm.Dashboard(context.Background(), testUser, 1, 2026)
	require.NoError(t, err)
	require.Equal(t, 50.0, doc.Totals.ExpenseTotal)
}

func TestDashboard_EmptyMonth(t *testing.T) {
	// A month with no data assembles cleanly with zeroed sections.
	_, asm := newFixture(t)

	doc, err := asm.Dashboard(context.Background(), testUser, 6, 2026)
	require.NoError(t, err)
	require.Equal(t, 0.0, doc.Totals.ExpenseTotal)
	require.Empty(t, doc.CategoryReport)
	require.Empty(t, doc.PaymentMethodReport)
	require.Len(t, doc.MonthComparison, 3)
}
