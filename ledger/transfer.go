/*
transfer.go - Paired-entry transfer protocol

A transfer between two accounts is exactly two ledger entries sharing one
transfer-group id: an Outflow on the source and an Inflow on the
destination, same amount, same timestamp. Both legs are written through one
atomic store write; a failure between legs must leave zero legs.

Pairing on read/delete is a direct lookup by group id. Legacy data created
before the shared-id convention (or left by a past partial failure) has no
group id, so deletion keeps a best-effort recovery chain: match by the
account name embedded in the reason text, then by amount inside a narrow
time window. That chain is recovery, not production pairing.
*/
package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// pairWindow bounds the legacy amount-based pair search. Legs are written
// with one timestamp, so a genuine pair sits well inside it.
const pairWindow = 90 * time.Second

// Coordinator creates, lists, and rolls back transfers.
type Coordinator struct {
	Store Repository
	Log   *zap.Logger
	Now   func() time.Time
}

func NewCoordinator(store Repository, log *zap.Logger) *Coordinator {
	return &Coordinator{Store: store, Log: log, Now: time.Now}
}

// Result summarizes a created transfer.
type Result struct {
	GroupID     string
	OutflowID   string
	InflowID    string
	Source      string // account name
	Destination string // account name
	Amount      decimal.Decimal
	At          time.Time
}

// =============================================================================
// CREATE
// =============================================================================

// Create writes both legs of a transfer as one atomic unit.
func (c *Coordinator) Create(ctx context.Context, userID, sourceID, destID string, amount decimal.Decimal, reason string) (*Result, error) {
	if sourceID == destID {
		return nil, ErrSameAccount
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	source, err := c.activeAccount(ctx, userID, sourceID)
	if err != nil {
		return nil, err
	}
	dest, err := c.activeAccount(ctx, userID, destID)
	if err != nil {
		return nil, err
	}

	now := c.Now().UTC()
	groupID := uuid.NewString()
	amount = Cents(amount)

	outReason := "Transfer to " + dest.Name
	inReason := "Transfer from " + source.Name
	if reason != "" {
		outReason += ": " + reason
		inReason += ": " + reason
	}

	legs := []Entry{
		{
			ID:         NewEntryID(),
			UserID:     userID,
			AccountID:  source.ID,
			Kind:       KindOutflow,
			Amount:     amount,
			OccurredAt: now,
			Reason:     outReason,
			Origin:     Origin{Type: OriginTransfer, RefID: groupID},
			CreatedAt:  now,
		},
		{
			ID:         NewEntryID(),
			UserID:     userID,
			AccountID:  dest.ID,
			Kind:       KindInflow,
			Amount:     amount,
			OccurredAt: now,
			Reason:     inReason,
			Origin:     Origin{Type: OriginTransfer, RefID: groupID},
			CreatedAt:  now,
		},
	}

	// InsertEntries is the store's atomic multi-document write: both legs
	// or neither.
	if err := c.Store.InsertEntries(ctx, legs); err != nil {
		return nil, err
	}

	c.Log.Info("transfer created",
		zap.String("user_id", userID),
		zap.String("group_id", groupID),
		zap.String("amount", amount.StringFixed(2)))

	return &Result{
		GroupID:     groupID,
		OutflowID:   legs[0].ID,
		InflowID:    legs[1].ID,
		Source:      source.Name,
		Destination: dest.Name,
		Amount:      amount,
		At:          now,
	}, nil
}

// activeAccount resolves a transfer endpoint. A missing or foreign account
// surfaces as ErrNotFound; an existing-but-deactivated one is a validation
// failure.
func (c *Coordinator) activeAccount(ctx context.Context, userID, accountID string) (*Account, error) {
	if accountID == "" {
		return nil, ErrInvalidAccount
	}
	acct, err := c.Store.GetAccount(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, ErrNotFound
	}
	if !acct.Active {
		return nil, ErrInvalidAccount
	}
	return acct, nil
}

// =============================================================================
// LIST
// =============================================================================

// View is one transfer as reported to clients: the Outflow leg paired on
// read with its Inflow leg. PairFound is false when the matching leg cannot
// be located; that is reported, never raised as an error.
type View struct {
	EntryID     string
	GroupID     string
	Source      string
	Destination string
	Amount      decimal.Decimal
	At          time.Time
	Reason      string
	PairFound   bool
}

// Page describes a page of transfer views.
type Page struct {
	Transfers []View
	PageNum   int
	Limit     int
	Total     int
}

// List returns Outflow transfer legs, newest first.
func (c *Coordinator) List(ctx context.Context, userID string, page, limit int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	legs, total, err := c.Store.ListTransferLegs(ctx, userID, page, limit)
	if err != nil {
		return nil, err
	}

	accounts, err := c.accountNames(ctx, userID)
	if err != nil {
		return nil, err
	}

	views := make([]View, 0, len(legs))
	for _, leg := range legs {
		v := View{
			EntryID: leg.ID,
			GroupID: leg.Origin.RefID,
			Source:  accounts[leg.AccountID],
			Amount:  leg.Amount,
			At:      leg.OccurredAt,
			Reason:  leg.Reason,
		}
		if pair := c.findPairByGroup(ctx, userID, leg); pair != nil {
			v.Destination = accounts[pair.AccountID]
			v.PairFound = true
		}
		views = append(views, v)
	}

	return &Page{Transfers: views, PageNum: page, Limit: limit, Total: total}, nil
}

func (c *Coordinator) accountNames(ctx context.Context, userID string) (map[string]string, error) {
	accounts, err := c.Store.ListAccounts(ctx, userID)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(accounts))
	for _, a := range accounts {
		names[a.ID] = a.Name
	}
	return names, nil
}

func (c *Coordinator) findPairByGroup(ctx context.Context, userID string, leg Entry) *Entry {
	if leg.Origin.RefID == "" {
		return nil
	}
	siblings, err := c.Store.FindByOrigin(ctx, userID, leg.Origin)
	if err != nil {
		return nil
	}
	for i := range siblings {
		if siblings[i].ID != leg.ID && siblings[i].Kind == KindInflow {
			return &siblings[i]
		}
	}
	return nil
}

// =============================================================================
// DELETE
// =============================================================================

// Deletion removes a transfer's legs. LegsRemoved is 1 when no pair could
// be located (half-paired transfer) and 2 for a full pair.
type Deletion struct {
	LegsRemoved int
}

// Delete rolls back a transfer: the named Outflow leg plus its pair,
// removed together. The pair is found by group id; for legacy legs the
// recovery chain in findPairFallback applies.
func (c *Coordinator) Delete(ctx context.Context, userID, entryID string) (*Deletion, error) {
	leg, err := c.Store.GetEntry(ctx, userID, entryID)
	if err != nil {
		return nil, err
	}
	if leg == nil || leg.Origin.Type != OriginTransfer || leg.Kind != KindOutflow {
		return nil, ErrNotFound
	}

	pair := c.findPairByGroup(ctx, userID, *leg)
	if pair == nil {
		pair = c.findPairFallback(ctx, userID, *leg)
	}

	ids := []string{leg.ID}
	if pair != nil {
		ids = append(ids, pair.ID)
	} else {
		c.Log.Warn("transfer pair not found; removing single leg",
			zap.String("user_id", userID),
			zap.String("entry_id", leg.ID))
	}

	if err := c.Store.RemoveEntries(ctx, userID, ids); err != nil {
		return nil, err
	}
	return &Deletion{LegsRemoved: len(ids)}, nil
}

// findPairFallback is the legacy recovery chain: destination account name
// parsed from the reason text first, then amount within pairWindow across
// other accounts. Best effort only.
func (c *Coordinator) findPairFallback(ctx context.Context, userID string, leg Entry) *Entry {
	from := leg.OccurredAt.Add(-pairWindow)
	to := leg.OccurredAt.Add(pairWindow)

	if name := destNameFromReason(leg.Reason); name != "" {
		if acct := c.accountByName(ctx, userID, name); acct != nil {
			candidates, err := c.Store.ListEntries(ctx, userID, EntryFilter{
				AccountID: acct.ID, From: &from, To: &to,
			})
			if err == nil {
				if pair := closestPair(candidates, leg); pair != nil {
					return pair
				}
			}
		}
	}

	candidates, err := c.Store.ListEntries(ctx, userID, EntryFilter{From: &from, To: &to})
	if err != nil {
		return nil
	}
	return closestPair(candidates, leg)
}

func (c *Coordinator) accountByName(ctx context.Context, userID, name string) *Account {
	accounts, err := c.Store.ListAccounts(ctx, userID)
	if err != nil {
		return nil
	}
	for i := range accounts {
		if accounts[i].Name == name {
			return &accounts[i]
		}
	}
	return nil
}

// destNameFromReason extracts the destination account name from a source
// leg reason of the form "Transfer to <name>[: <free text>]".
func destNameFromReason(reason string) string {
	const prefix = "Transfer to "
	if !strings.HasPrefix(reason, prefix) {
		return ""
	}
	rest := strings.TrimPrefix(reason, prefix)
	if i := strings.Index(rest, ":"); i >= 0 {
		rest = rest[:i]
	}
	return strings.TrimSpace(rest)
}

func closestPair(candidates []Entry, leg Entry) *Entry {
	var best *Entry
	var bestGap time.Duration
	for i := range candidates {
		e := &candidates[i]
		if e.ID == leg.ID || e.Kind != KindInflow || e.Origin.Type != OriginTransfer {
			continue
		}
		if e.AccountID == leg.AccountID || !e.Amount.Equal(leg.Amount) {
			continue
		}
		gap := e.OccurredAt.Sub(leg.OccurredAt)
		if gap < 0 {
			gap = -gap
		}
		if best == nil || gap < bestGap {
			best, bestGap = e, gap
		}
	}
	return best
}
