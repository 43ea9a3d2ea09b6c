package report_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/finbook/finbook/ledger"
	"github.com/finbook/finbook/report"
)

func d(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

func day(n int) time.Time {
	return time.Date(2026, time.January, n, 0, 0, 0, 0, time.UTC)
}

func expense(groupID, subgroup, amount, method, cardID string) ledger.Expense {
	return ledger.Expense{
		ID:            ledger.NewEntryID(),
		UserID:        "user-1",
		Amount:        d(amount),
		Date:          day(5),
		GroupID:       groupID,
		SubgroupName:  subgroup,
		PaymentMethod: method,
		CardID:        cardID,
		AccountID:     "acct-1",
	}
}

func paidBill(amount, method, cardID string) ledger.Bill {
	paid := day(8)
	return ledger.Bill{
		ID:            ledger.NewEntryID(),
		UserID:        "user-1",
		Description:   "Bill",
		Amount:        d(amount),
		DueDate:       day(15),
		Status:        ledger.BillPaid,
		PaymentDate:   &paid,
		PaymentMethod: method,
		CardID:        cardID,
	}
}

// =============================================================================
// CATEGORY REPORT
// =============================================================================

var testGroups = []ledger.CategoryGroup{
	{ID: "grp-food", UserID: "user-1", Name: "Food", Subgroups: []string{"Groceries", "Lunch", "Dining"}},
	{ID: "grp-transport", UserID: "user-1", Name: "Transport", Subgroups: []string{"Fuel", "Transit"}},
	{ID: "grp-empty", UserID: "user-1", Name: "Hobbies", Subgroups: []string{"Books"}},
}

func TestCategories_RollupAndPercentages(t *testing.T) {
	// GIVEN: 60 + 40 in Food (Groceries, Lunch) and 100 in Transport (Fuel)
	// WHEN: The category report is built
	// THEN: Group totals sum the subgroups, PercentOfOverall splits 50/50,
	//       PercentOfGroup splits Food 60/40, and groups sort by total

	expenses := []ledger.Expense{
		expense("grp-food", "Groceries", "60.00", "debit", ""),
		expense("grp-food", "Lunch", "40.00", "debit", ""),
		expense("grp-transport", "Fuel", "100.00", "credit", ""),
	}

	rows := report.Categories(expenses, testGroups)
	require.Len(t, rows, 2, "zero-expense groups are omitted")

	for _, r := range rows {
		require.True(t, r.PercentOfOverall.Equal(d("50")), "%s: %s", r.GroupName, r.PercentOfOverall)
	}

	var food report.CategoryGroupReport
	for _, r := range rows {
		if r.GroupID == "grp-food" {
			food = r
		}
	}
	require.Equal(t, "Food", food.GroupName)
	require.True(t, food.GroupTotal.Equal(d("100.00")))
	require.Len(t, food.Subgroups, 2)
	// Declared order: Groceries before Lunch.
	require.Equal(t, "Groceries", food.Subgroups[0].Name)
	require.True(t, food.Subgroups[0].PercentOfGroup.Equal(d("60")))
	require.Equal(t, "Lunch", food.Subgroups[1].Name)
	require.True(t, food.Subgroups[1].PercentOfGroup.Equal(d("40")))
}

func TestCategories_SubgroupTotalsEqualGroupTotal(t *testing.T) {
	expenses := []ledger.Expense{
		expense("grp-food", "Groceries", "12.34", "debit", ""),
		expense("grp-food", "Groceries", "7.66", "debit", ""),
		expense("grp-food", "Dining", "30.00", "debit", ""),
	}

	rows := report.Categories(expenses, testGroups)
	require.Len(t, rows, 1)

	sum := decimal.Zero
	for _, s := range rows[0].Subgroups {
		sum = sum.Add(s.Value)
	}
	require.True(t, sum.Equal(rows[0].GroupTotal))
}

func TestCategories_UndeclaredSubgroupAppended(t *testing.T) {
	// GIVEN: An expense in a subgroup the reference data does not declare
	// WHEN: The report is built
	// THEN: The subgroup still appears, after the declared ones

	expenses := []ledger.Expense{
		expense("grp-food", "Lunch", "10.00", "debit", ""),
		expense("grp-food", "Snacks", "5.00", "debit", ""),
	}

	rows := report.Categories(expenses, testGroups)
	require.Len(t, rows, 1)
	require.Len(t, rows[0].Subgroups, 2)
	require.Equal(t, "Lunch", rows[0].Subgroups[0].Name)
	require.Equal(t, "Snacks", rows[0].Subgroups[1].Name)
}

func TestCategories_Empty(t *testing.T) {
	rows := report.Categories(nil, testGroups)
	require.Empty(t, rows)
}

// =============================================================================
// PAYMENT-METHOD REPORT
// =============================================================================

func TestPaymentMethods_UnionOfExpensesAndBills(t *testing.T) {
	// GIVEN: Expenses on debit, a bill on debit, a bill on transfer
	// WHEN: The payment-method report is built
	// THEN: Debit combines both sources, percentages cover the grand total

	expenses := []ledger.Expense{
		expense("grp-food", "Lunch", "30.00", "debit", ""),
	}
	bills := []ledger.Bill{
		paidBill("50.00", "debit", ""),
		paidBill("20.00", "transfer", ""),
	}

	rows := report.PaymentMethods(expenses, bills)
	require.Len(t, rows, 2)

	// Sorted descending by combined total: debit 80, transfer 20.
	require.Equal(t, "debit", rows[0].Method)
	require.True(t, rows[0].ExpenseTotal.Equal(d("30.00")))
	require.True(t, rows[0].BillTotal.Equal(d("50.00")))
	require.True(t, rows[0].CombinedTotal.Equal(d("80.00")))
	require.True(t, rows[0].PercentOfGrandTotal.Equal(d("80")))

	require.Equal(t, "transfer", rows[1].Method)
	require.True(t, rows[1].PercentOfGrandTotal.Equal(d("20")))

	percentSum := rows[0].PercentOfGrandTotal.Add(rows[1].PercentOfGrandTotal)
	require.True(t, percentSum.Equal(d("100")))
}

func TestPaymentMethods_NoData(t *testing.T) {
	rows := report.PaymentMethods(nil, nil)
	require.Empty(t, rows)
}

// =============================================================================
// CARD REPORT
// =============================================================================

func TestCards_CreditUtilization(t *testing.T) {
	// GIVEN: A credit card with a 1000 limit carrying 250 of period spend
	// WHEN: The card report is built
	// THEN: Utilization 25%, available 750

	cards := []ledger.Card{
		{ID: "card-1", UserID: "user-1", Name: "Visa", Kind: ledger.CardCredit, CreditLimit: d("1000.00"), Active: true},
	}
	expenses := []ledger.Expense{
		expense("grp-food", "Lunch", "150.00", "credit", "card-1"),
	}
	bills := []ledger.Bill{
		paidBill("100.00", "credit", "card-1"),
	}

	rows := report.Cards(cards, expenses, bills)
	require.Len(t, rows, 1)
	require.True(t, rows[0].CombinedTotal.Equal(d("250.00")))
	require.NotNil(t, rows[0].UtilizationPercent)
	require.True(t, rows[0].UtilizationPercent.Equal(d("25")))
	require.True(t, rows[0].Available.Equal(d("750.00")))
}

func TestCards_DebitHasNoUtilization(t *testing.T) {
	cards := []ledger.Card{
		{ID: "card-2", UserID: "user-1", Name: "Debit", Kind: ledger.CardDebit, Active: true},
	}
	expenses := []ledger.Expense{
		expense("grp-food", "Lunch", "40.00", "debit", "card-2"),
	}

	rows := report.Cards(cards, expenses, nil)
	require.Len(t, rows, 1)
	require.Nil(t, rows[0].UtilizationPercent)
}

func TestCards_InactiveOmittedZeroSpendKept(t *testing.T) {
	// GIVEN: An inactive card and an active card with no period spend
	// WHEN: The card report is built
	// THEN: The inactive card is dropped; the idle active card shows zero

	cards := []ledger.Card{
		{ID: "card-old", UserID: "user-1", Name: "Old", Kind: ledger.CardCredit, CreditLimit: d("500"), Active: false},
		{ID: "card-idle", UserID: "user-1", Name: "Idle", Kind: ledger.CardDebit, Active: true},
	}

	rows := report.Cards(cards, nil, nil)
	require.Len(t, rows, 1)
	require.Equal(t, "card-idle", rows[0].CardID)
	require.True(t, rows[0].CombinedTotal.IsZero())
}

func TestCards_ZeroLimitCreditReportsZeroUtilization(t *testing.T) {
	// Percent defends the zero denominator with 0 rather than dividing.
	cards := []ledger.Card{
		{ID: "card-3", UserID: "user-1", Name: "NoLimit", Kind: ledger.CardCredit, Active: true},
	}
	expenses := []ledger.Expense{
		expense("grp-food", "Lunch", "10.00", "credit", "card-3"),
	}

	rows := report.Cards(cards, expenses, nil)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].UtilizationPercent)
	require.True(t, rows[0].UtilizationPercent.IsZero())
}

// =============================================================================
// MONTH COMPARISON
// =============================================================================

func TestMonthSummary(t *testing.T) {
	p := report.MonthPeriod(1, 2026)
	expenses := []ledger.Expense{
		expense("grp-food", "Lunch", "120.00", "debit", ""),
	}
	bills := []ledger.Bill{
		paidBill("200.00", "debit", ""),
	}

	row := report.MonthSummary(p, expenses, bills)
	require.Equal(t, 1, row.Month)
	require.Equal(t, 2026, row.Year)
	require.True(t, row.ExpenseTotal.Equal(d("120.00")))
	require.True(t, row.PaidBillTotal.Equal(d("200.00")))
	require.True(t, row.CombinedTotal.Equal(d("320.00")))
	require.True(t, row.Balance.Equal(d("80.00")))
}
