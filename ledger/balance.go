/*
balance.go - Point-in-time balance reconstruction

An account's balance at instant T is the signed sum over non-reversed
entries with OccurredAt <= T: +amount for Inflow and OpeningBalance,
-amount for Outflow. The balance is always derived from entries; there is
no stored balance field to drift out of sync.

Two equivalent paths exist and must agree to the cent:
  - AsOf: a single aggregation pushed into the store (hot path for one
    account at one instant).
  - Series: one range read swept in the application, producing balances at
    every requested boundary for every account. Reports use this for the
    6-month evolution window instead of a per-(account, month) full scan.
*/
package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Calculator derives balances from the entry store. Read-only.
type Calculator struct {
	Store EntryStore
}

func NewCalculator(store EntryStore) *Calculator {
	return &Calculator{Store: store}
}

// AsOf returns the account balance at the given instant (inclusive).
func (c *Calculator) AsOf(ctx context.Context, userID, accountID string, at time.Time) (decimal.Decimal, error) {
	return c.Store.SumBalance(ctx, userID, accountID, at)
}

// SeriesPoint is one (boundary, balance) sample of an account's series.
type SeriesPoint struct {
	At      time.Time
	Balance decimal.Decimal
}

// Series computes, for every account id in accountIDs, the balance at each
// boundary instant. Boundaries are sorted ascending; the result slice for an
// account is index-aligned with that order.
//
// One ListEntries call covers all boundaries: entries are replayed once per
// account with a cursor over the sorted boundaries.
func (c *Calculator) Series(ctx context.Context, userID string, accountIDs []string, boundaries []time.Time) (map[string][]SeriesPoint, error) {
	sorted := make([]time.Time, len(boundaries))
	copy(sorted, boundaries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	out := make(map[string][]SeriesPoint, len(accountIDs))
	if len(sorted) == 0 {
		return out, nil
	}

	last := sorted[len(sorted)-1]
	entries, err := c.Store.ListEntries(ctx, userID, EntryFilter{To: &last})
	if err != nil {
		return nil, err
	}

	byAccount := make(map[string][]Entry)
	for _, e := range entries {
		if e.Reversed {
			continue
		}
		byAccount[e.AccountID] = append(byAccount[e.AccountID], e)
	}

	for _, accountID := range accountIDs {
		acctEntries := byAccount[accountID] // already ordered by OccurredAt
		points := make([]SeriesPoint, 0, len(sorted))
		running := decimal.Zero
		i := 0
		for _, boundary := range sorted {
			for i < len(acctEntries) && !acctEntries[i].OccurredAt.After(boundary) {
				running = running.Add(acctEntries[i].Signed())
				i++
			}
			points = append(points, SeriesPoint{At: boundary, Balance: running})
		}
		out[accountID] = points
	}
	return out, nil
}
