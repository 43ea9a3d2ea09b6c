/*
Package dashboard assembles the aggregated dashboard document for one
(user, month, year): bill totals, period ledger totals, the category /
payment-method / card reports, the three-month comparison, and the
per-account balance-evolution series.

The assembler is read-only and cache-friendly: documents are cached with a
short TTL and the cache is explicitly constructed and injected (no global
store handle, no module-level cache map). Every ledger-affecting mutation
calls InvalidateUser.
*/
package dashboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/finbook/finbook/ledger"
	"github.com/finbook/finbook/report"
)

const (
	// DefaultTTL keeps dashboards fresh enough between mutations.
	DefaultTTL = 30 * time.Second

	// evolutionMonths is the trailing window of the balance-evolution series.
	evolutionMonths = 6
)

// =============================================================================
// DOCUMENT - The merged dashboard response
// =============================================================================

type PeriodInfo struct {
	Month int `json:"month"`
	Year  int `json:"year"`
}

type BillTotals struct {
	PendingCount int     `json:"pendingCount"`
	PendingValue float64 `json:"pendingValue"`
	PaidCount    int     `json:"paidCount"`
	PaidValue    float64 `json:"paidValue"`
	OverdueCount int     `json:"overdueCount"`
	OverdueValue float64 `json:"overdueValue"`
}

type LedgerTotals struct {
	ExpenseTotal float64 `json:"expenseTotal"`
	InflowTotal  float64 `json:"inflowTotal"`
	OutflowTotal float64 `json:"outflowTotal"`
	Net          float64 `json:"net"`
}

type SubgroupDTO struct {
	Name           string  `json:"name"`
	Value          float64 `json:"value"`
	PercentOfGroup float64 `json:"percentOfGroup"`
}

type CategoryDTO struct {
	GroupID          string        `json:"groupId"`
	GroupName        string        `json:"groupName"`
	GroupTotal       float64       `json:"groupTotal"`
	PercentOfOverall float64       `json:"percentOfOverall"`
	Subgroups        []SubgroupDTO `json:"subgroups"`
}

type PaymentMethodDTO struct {
	Method              string  `json:"method"`
	ExpenseTotal        float64 `json:"expenseTotal"`
	BillTotal           float64 `json:"billTotal"`
	CombinedTotal       float64 `json:"combinedTotal"`
	PercentOfGrandTotal float64 `json:"percentOfGrandTotal"`
}

type CardDTO struct {
	CardID             string   `json:"cardId"`
	Name               string   `json:"name"`
	Kind               string   `json:"kind"`
	CombinedTotal      float64  `json:"combinedTotal"`
	CreditLimit        float64  `json:"creditLimit,omitempty"`
	Available          float64  `json:"available,omitempty"`
	UtilizationPercent *float64 `json:"utilizationPercent"`
}

type ComparisonDTO struct {
	Month         int     `json:"month"`
	Year          int     `json:"year"`
	ExpenseTotal  float64 `json:"expenseTotal"`
	PaidBillTotal float64 `json:"paidBillTotal"`
	CombinedTotal float64 `json:"combinedTotal"`
	Balance       float64 `json:"balance"`
}

type EvolutionPoint struct {
	Month   int     `json:"month"`
	Year    int     `json:"year"`
	Balance float64 `json:"balance"`
}

type AccountSeries struct {
	AccountID   string           `json:"accountId"`
	AccountName string           `json:"accountName"`
	Points      []EvolutionPoint `json:"points"`
}

type Document struct {
	Period              PeriodInfo         `json:"period"`
	Bills               BillTotals         `json:"bills"`
	Totals              LedgerTotals       `json:"totals"`
	CategoryReport      []CategoryDTO      `json:"categoryReport"`
	PaymentMethodReport []PaymentMethodDTO `json:"paymentMethodReport"`
	CardReport          []CardDTO          `json:"cardReport"`
	MonthComparison     []ComparisonDTO    `json:"monthComparison"`
	BalanceEvolution    []AccountSeries    `json:"balanceEvolution"`
}

// =============================================================================
// ASSEMBLER
// =============================================================================

// Assembler merges calculator and report outputs into one document.
type Assembler struct {
	Store ledger.Repository
	Calc  *ledger.Calculator
	Cache *gocache.Cache
	Log   *zap.Logger
}

func NewAssembler(store ledger.Repository, calc *ledger.Calculator, ttl time.Duration, log *zap.Logger) *Assembler {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Assembler{
		Store: store,
		Calc:  calc,
		Cache: gocache.New(ttl, 2*ttl),
		Log:   log,
	}
}

func cacheKey(userID string, month, year int) string {
	return fmt.Sprintf("%s|%d|%d", userID, month, year)
}

// InvalidateUser drops every cached dashboard for the user. Called after
// each ledger-affecting mutation.
func (a *Assembler) InvalidateUser(userID string) {
	prefix := userID + "|"
	for key := range a.Cache.Items() {
		if strings.HasPrefix(key, prefix) {
			a.Cache.Delete(key)
		}
	}
}

// Dashboard builds (or serves from cache) the document for one period.
func (a *Assembler) Dashboard(ctx context.Context, userID string, month, year int) (*Document, error) {
	if month < 1 || month > 12 || year < 2020 || year > 2030 {
		return nil, ledger.ErrInvalidPeriod
	}

	key := cacheKey(userID, month, year)
	if cached, ok := a.Cache.Get(key); ok {
		return cached.(*Document), nil
	}

	p := report.MonthPeriod(month, year)

	expenses, err := a.Store.ExpensesBetween(ctx, userID, p.Start, p.End)
	if err != nil {
		return nil, err
	}
	paidBills, err := a.Store.BillsPaidBetween(ctx, userID, p.Start, p.End)
	if err != nil {
		return nil, err
	}
	dueBills, err := a.Store.BillsDueBetween(ctx, userID, p.Start, p.End)
	if err != nil {
		return nil, err
	}
	cards, err := a.Store.ListCards(ctx, userID)
	if err != nil {
		return nil, err
	}
	groups, err := a.Store.ListGroups(ctx, userID)
	if err != nil {
		return nil, err
	}

	totals, err := a.ledgerTotals(ctx, userID, p, expenses)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		Period:              PeriodInfo{Month: p.Month, Year: p.Year},
		Bills:               billTotals(dueBills),
		Totals:              totals,
		CategoryReport:      categoryDTOs(report.Categories(expenses, groups)),
		PaymentMethodReport: paymentDTOs(report.PaymentMethods(expenses, paidBills)),
		CardReport:          cardDTOs(report.Cards(cards, expenses, paidBills)),
	}

	comparison, err := a.monthComparison(ctx, userID, p)
	if err != nil {
		return nil, err
	}
	doc.MonthComparison = comparison

	evolution, err := a.balanceEvolution(ctx, userID, p)
	if err != nil {
		return nil, err
	}
	doc.BalanceEvolution = evolution

	a.Cache.SetDefault(key, doc)
	return doc, nil
}

func (a *Assembler) ledgerTotals(ctx context.Context, userID string, p report.Period, expenses []ledger.Expense) (LedgerTotals, error) {
	totals := LedgerTotals{}

	expenseTotal := decimal.Zero
	for _, e := range expenses {
		expenseTotal = expenseTotal.Add(e.Amount)
	}
	totals.ExpenseTotal = money(expenseTotal)

	entries, err := a.Store.ListEntries(ctx, userID, ledger.EntryFilter{From: &p.Start, To: &p.End})
	if err != nil {
		return LedgerTotals{}, err
	}
	inflow, outflow := decimal.Zero, decimal.Zero
	for _, e := range entries {
		if e.Reversed {
			continue
		}
		switch e.Kind {
		case ledger.KindOutflow:
			outflow = outflow.Add(e.Amount)
		default: // Inflow and OpeningBalance
			inflow = inflow.Add(e.Amount)
		}
	}
	totals.InflowTotal = money(inflow)
	totals.OutflowTotal = money(outflow)
	totals.Net = money(inflow.Sub(outflow))
	return totals, nil
}

func (a *Assembler) monthComparison(ctx context.Context, userID string, p report.Period) ([]ComparisonDTO, error) {
	periods := []report.Period{p.Prev(), p, p.Next()}
	out := make([]ComparisonDTO, 0, len(periods))
	for _, mp := range periods {
		expenses, err := a.Store.ExpensesBetween(ctx, userID, mp.Start, mp.End)
		if err != nil {
			return nil, err
		}
		bills, err := a.Store.BillsPaidBetween(ctx, userID, mp.Start, mp.End)
		if err != nil {
			return nil, err
		}
		row := report.MonthSummary(mp, expenses, bills)
		out = append(out, ComparisonDTO{
			Month:         row.Month,
			Year:          row.Year,
			ExpenseTotal:  money(row.ExpenseTotal),
			PaidBillTotal: money(row.PaidBillTotal),
			CombinedTotal: money(row.CombinedTotal),
			Balance:       money(row.Balance),
		})
	}
	return out, nil
}

func (a *Assembler) balanceEvolution(ctx context.Context, userID string, p report.Period) ([]AccountSeries, error) {
	accounts, err := a.Store.ListAccounts(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(accounts))
	for i, acct := range accounts {
		ids[i] = acct.ID
	}

	boundaries := p.Window(evolutionMonths)
	series, err := a.Calc.Series(ctx, userID, ids, boundaries)
	if err != nil {
		return nil, err
	}

	out := make([]AccountSeries, 0, len(accounts))
	for _, acct := range accounts {
		s := AccountSeries{AccountID: acct.ID, AccountName: acct.Name}
		for _, pt := range series[acct.ID] {
			s.Points = append(s.Points, EvolutionPoint{
				Month:   int(pt.At.Month()),
				Year:    pt.At.Year(),
				Balance: money(pt.Balance),
			})
		}
		out = append(out, s)
	}
	return out, nil
}

// =============================================================================
// DTO CONVERSION
// =============================================================================

// money renders a decimal as a 2-decimal JSON number. Rounding happens
// here, at the boundary, never during summation.
func money(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}

func billTotals(bills []ledger.Bill) BillTotals {
	t := BillTotals{}
	pending, paid, overdue := decimal.Zero, decimal.Zero, decimal.Zero
	for _, b := range bills {
		switch b.Status {
		case ledger.BillPending:
			t.PendingCount++
			pending = pending.Add(b.Amount)
		case ledger.BillPaid:
			t.PaidCount++
			paid = paid.Add(b.Amount)
		case ledger.BillOverdue:
			t.OverdueCount++
			overdue = overdue.Add(b.Amount)
		}
	}
	t.PendingValue = money(pending)
	t.PaidValue = money(paid)
	t.OverdueValue = money(overdue)
	return t
}

func categoryDTOs(rows []report.CategoryGroupReport) []CategoryDTO {
	out := make([]CategoryDTO, 0, len(rows))
	for _, r := range rows {
		dto := CategoryDTO{
			GroupID:          r.GroupID,
			GroupName:        r.GroupName,
			GroupTotal:       money(r.GroupTotal),
			PercentOfOverall: money(r.PercentOfOverall),
		}
		for _, s := range r.Subgroups {
			dto.Subgroups = append(dto.Subgroups, SubgroupDTO{
				Name:           s.Name,
				Value:          money(s.Value),
				PercentOfGroup: money(s.PercentOfGroup),
			})
		}
		out = append(out, dto)
	}
	return out
}

func paymentDTOs(rows []report.PaymentMethodReport) []PaymentMethodDTO {
	out := make([]PaymentMethodDTO, 0, len(rows))
	for _, r := range rows {
		out = append(out, PaymentMethodDTO{
			Method:              r.Method,
			ExpenseTotal:        money(r.ExpenseTotal),
			BillTotal:           money(r.BillTotal),
			CombinedTotal:       money(r.CombinedTotal),
			PercentOfGrandTotal: money(r.PercentOfGrandTotal),
		})
	}
	return out
}

func cardDTOs(rows []report.CardReport) []CardDTO {
	out := make([]CardDTO, 0, len(rows))
	for _, r := range rows {
		dto := CardDTO{
			CardID:        r.CardID,
			Name:          r.Name,
			Kind:          string(r.Kind),
			CombinedTotal: money(r.CombinedTotal),
		}
		if r.UtilizationPercent != nil {
			util := money(*r.UtilizationPercent)
			dto.UtilizationPercent = &util
			dto.CreditLimit = money(r.CreditLimit)
			dto.Available = money(r.Available)
		}
		out = append(out, dto)
	}
	return out
}
