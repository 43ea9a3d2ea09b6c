/*
Package report derives the aggregated financial reports: the two-level
category tree, payment-method totals, card utilization, and the
month-over-month comparison.

Everything here is a pure function of period data plus reference data; the
package never touches storage and never mutates its inputs. Monetary values
stay in decimal.Decimal through every intermediate sum; percentages are
computed against the documented denominator, defend against zero with 0,
and are rounded to 2 places only at the report boundary.
*/
package report

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/finbook/finbook/ledger"
)

// =============================================================================
// CATEGORY REPORT
// =============================================================================

type Subgroup struct {
	Name           string
	Value          decimal.Decimal
	PercentOfGroup decimal.Decimal
}

type CategoryGroupReport struct {
	GroupID          string
	GroupName        string
	GroupTotal       decimal.Decimal
	PercentOfOverall decimal.Decimal
	Subgroups        []Subgroup
}

// Categories groups the period's expenses by group, then subgroup. Groups
// with no matching expenses are omitted; the result is sorted descending by
// group total. Subgroups follow the group's declared order, with names not
// present in the reference data appended by value.
func Categories(expenses []ledger.Expense, groups []ledger.CategoryGroup) []CategoryGroupReport {
	type bucket struct {
		total decimal.Decimal
		subs  map[string]decimal.Decimal
	}
	buckets := make(map[string]*bucket)
	overall := decimal.Zero

	for _, e := range expenses {
		b, ok := buckets[e.GroupID]
		if !ok {
			b = &bucket{total: decimal.Zero, subs: make(map[string]decimal.Decimal)}
			buckets[e.GroupID] = b
		}
		b.total = b.total.Add(e.Amount)
		b.subs[e.SubgroupName] = b.subs[e.SubgroupName].Add(e.Amount)
		overall = overall.Add(e.Amount)
	}

	groupName := make(map[string]string, len(groups))
	declared := make(map[string][]string, len(groups))
	for _, g := range groups {
		groupName[g.ID] = g.Name
		declared[g.ID] = g.Subgroups
	}

	out := make([]CategoryGroupReport, 0, len(buckets))
	for groupID, b := range buckets {
		r := CategoryGroupReport{
			GroupID:          groupID,
			GroupName:        groupName[groupID],
			GroupTotal:       b.total,
			PercentOfOverall: ledger.Percent(b.total, overall).Round(2),
		}

		seen := make(map[string]bool, len(b.subs))
		for _, name := range declared[groupID] {
			if value, ok := b.subs[name]; ok {
				r.Subgroups = append(r.Subgroups, Subgroup{
					Name:           name,
					Value:          value,
					PercentOfGroup: ledger.Percent(value, b.total).Round(2),
				})
				seen[name] = true
			}
		}
		var extras []Subgroup
		for name, value := range b.subs {
			if !seen[name] {
				extras = append(extras, Subgroup{
					Name:           name,
					Value:          value,
					PercentOfGroup: ledger.Percent(value, b.total).Round(2),
				})
			}
		}
		sort.Slice(extras, func(i, j int) bool { return extras[i].Value.GreaterThan(extras[j].Value) })
		r.Subgroups = append(r.Subgroups, extras...)

		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].GroupTotal.GreaterThan(out[j].GroupTotal) })
	return out
}

// =============================================================================
// PAYMENT-METHOD REPORT
// =============================================================================

type PaymentMethodReport struct {
	Method              string
	ExpenseTotal        decimal.Decimal
	BillTotal           decimal.Decimal
	CombinedTotal       decimal.Decimal
	PercentOfGrandTotal decimal.Decimal
}

// PaymentMethods unions expense and paid-bill amounts by payment method.
// Zero-total rows are omitted; sorted descending by combined total.
func PaymentMethods(expenses []ledger.Expense, paidBills []ledger.Bill) []PaymentMethodReport {
	type bucket struct{ expense, bill decimal.Decimal }
	buckets := make(map[string]*bucket)
	get := func(method string) *bucket {
		b, ok := buckets[method]
		if !ok {
			b = &bucket{}
			buckets[method] = b
		}
		return b
	}

	grand := decimal.Zero
	for _, e := range expenses {
		b := get(e.PaymentMethod)
		b.expense = b.expense.Add(e.Amount)
		grand = grand.Add(e.Amount)
	}
	for _, bill := range paidBills {
		b := get(bill.PaymentMethod)
		b.bill = b.bill.Add(bill.Amount)
		grand = grand.Add(bill.Amount)
	}

	out := make([]PaymentMethodReport, 0, len(buckets))
	for method, b := range buckets {
		combined := b.expense.Add(b.bill)
		if combined.IsZero() {
			continue
		}
		out = append(out, PaymentMethodReport{
			Method:              method,
			ExpenseTotal:        b.expense,
			BillTotal:           b.bill,
			CombinedTotal:       combined,
			PercentOfGrandTotal: ledger.Percent(combined, grand).Round(2),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CombinedTotal.GreaterThan(out[j].CombinedTotal) })
	return out
}

// =============================================================================
// CARD UTILIZATION REPORT
// =============================================================================

type CardReport struct {
	CardID        string
	Name          string
	Kind          ledger.CardKind
	CombinedTotal decimal.Decimal
	CreditLimit   decimal.Decimal
	Available     decimal.Decimal
	// UtilizationPercent is nil for debit cards.
	UtilizationPercent *decimal.Decimal
}

// Cards sums period expenses and paid bills per active card. Credit cards
// report utilization against their limit; debit cards report none.
func Cards(cards []ledger.Card, expenses []ledger.Expense, paidBills []ledger.Bill) []CardReport {
	totals := make(map[string]decimal.Decimal)
	for _, e := range expenses {
		if e.CardID != "" {
			totals[e.CardID] = totals[e.CardID].Add(e.Amount)
		}
	}
	for _, b := range paidBills {
		if b.CardID != "" {
			totals[b.CardID] = totals[b.CardID].Add(b.Amount)
		}
	}

	out := make([]CardReport, 0, len(cards))
	for _, c := range cards {
		if !c.Active {
			continue
		}
		r := CardReport{
			CardID:        c.ID,
			Name:          c.Name,
			Kind:          c.Kind,
			CombinedTotal: totals[c.ID],
		}
		if c.Kind == ledger.CardCredit {
			util := ledger.Percent(r.CombinedTotal, c.CreditLimit).Round(2)
			r.UtilizationPercent = &util
			r.CreditLimit = c.CreditLimit
			r.Available = c.CreditLimit.Sub(r.CombinedTotal)
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CombinedTotal.GreaterThan(out[j].CombinedTotal) })
	return out
}

// =============================================================================
// MONTH COMPARISON
// =============================================================================

type ComparisonRow struct {
	Month         int
	Year          int
	ExpenseTotal  decimal.Decimal
	PaidBillTotal decimal.Decimal
	CombinedTotal decimal.Decimal
	Balance       decimal.Decimal // paidBillTotal - expenseTotal
}

// MonthSummary aggregates one month for the comparison report.
func MonthSummary(p Period, expenses []ledger.Expense, paidBills []ledger.Bill) ComparisonRow {
	expenseTotal := decimal.Zero
	for _, e := range expenses {
		expenseTotal = expenseTotal.Add(e.Amount)
	}
	billTotal := decimal.Zero
	for _, b := range paidBills {
		billTotal = billTotal.Add(b.Amount)
	}
	return ComparisonRow{
		Month:         p.Month,
		Year:          p.Year,
		ExpenseTotal:  expenseTotal,
		PaidBillTotal: billTotal,
		CombinedTotal: expenseTotal.Add(billTotal),
		Balance:       billTotal.Sub(expenseTotal),
	}
}
