// Package store provides an in-memory ledger.TxRepository for tests and
// development. Semantics mirror store/sqlite: atomic batches, snapshot
// isolation for WithTx (copy-on-write, swap on commit), entries ordered by
// OccurredAt.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finbook/finbook/ledger"
)

type state struct {
	entries  []ledger.Entry // ordered by OccurredAt asc, CreatedAt asc
	accounts map[string]ledger.Account
	bills    map[string]ledger.Bill
	expenses []ledger.Expense
	cards    []ledger.Card
	groups   []ledger.CategoryGroup
}

func (s *state) clone() *state {
	c := &state{
		entries:  append([]ledger.Entry(nil), s.entries...),
		accounts: make(map[string]ledger.Account, len(s.accounts)),
		bills:    make(map[string]ledger.Bill, len(s.bills)),
		expenses: append([]ledger.Expense(nil), s.expenses...),
		cards:    append([]ledger.Card(nil), s.cards...),
		groups:   append([]ledger.CategoryGroup(nil), s.groups...),
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.bills {
		c.bills[k] = v
	}
	return c
}

// Memory is the in-memory repository.
type Memory struct {
	mu   sync.RWMutex
	data *state

	// failInserts makes the next n entry inserts fail with failErr.
	// Test hook for partial-failure and retry paths.
	failInserts int
	failErr     error

	// failLists does the same for entry listing (failed-read paths).
	failLists   int
	failListErr error
}

func NewMemory() *Memory {
	return &Memory{data: &state{
		accounts: make(map[string]ledger.Account),
		bills:    make(map[string]ledger.Bill),
	}}
}

// FailNextInserts makes the next n entry inserts (including legs inside a
// batch) fail with err.
func (m *Memory) FailNextInserts(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failInserts = n
	m.failErr = err
}

func (m *Memory) takeFailure() error {
	if m.failInserts > 0 {
		m.failInserts--
		return m.failErr
	}
	return nil
}

// FailNextListEntries makes the next n ListEntries calls fail with err.
func (m *Memory) FailNextListEntries(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failLists = n
	m.failListErr = err
}

// =============================================================================
// SEEDING (tests and dev server)
// =============================================================================

func (m *Memory) PutAccount(a ledger.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.accounts[a.ID] = a
}

func (m *Memory) PutBill(b ledger.Bill) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.bills[b.ID] = b
}

func (m *Memory) PutCard(c ledger.Card) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.cards = append(m.data.cards, c)
}

func (m *Memory) PutGroup(g ledger.CategoryGroup) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.groups = append(m.data.groups, g)
}

// =============================================================================
// ENTRY STORE
// =============================================================================

func insertSorted(entries []ledger.Entry, e ledger.Entry) []ledger.Entry {
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].OccurredAt.After(e.OccurredAt)
	})
	entries = append(entries, ledger.Entry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = e
	return entries
}

func (m *Memory) InsertEntry(_ context.Context, e ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	m.data.entries = insertSorted(m.data.entries, e)
	return nil
}

func (m *Memory) InsertEntries(_ context.Context, entries []ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Apply to a copy, swap on success: either all legs land or none.
	next := append([]ledger.Entry(nil), m.data.entries...)
	for _, e := range entries {
		if err := m.takeFailure(); err != nil {
			return err
		}
		next = insertSorted(next, e)
	}
	m.data.entries = next
	return nil
}

func (m *Memory) GetEntry(_ context.Context, userID, entryID string) (*ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.data.entries {
		if m.data.entries[i].ID == entryID && m.data.entries[i].UserID == userID {
			e := m.data.entries[i]
			return &e, nil
		}
	}
	return nil, nil
}

func matches(e ledger.Entry, userID string, f ledger.EntryFilter) bool {
	if e.UserID != userID {
		return false
	}
	if f.AccountID != "" && e.AccountID != f.AccountID {
		return false
	}
	if f.CardID != "" && e.CardID != f.CardID {
		return false
	}
	if f.From != nil && e.OccurredAt.Before(*f.From) {
		return false
	}
	if f.To != nil && e.OccurredAt.After(*f.To) {
		return false
	}
	return true
}

func (m *Memory) ListEntries(_ context.Context, userID string, f ledger.EntryFilter) ([]ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLists > 0 {
		m.failLists--
		return nil, m.failListErr
	}
	var out []ledger.Entry
	for _, e := range m.data.entries {
		if matches(e, userID, f) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) MarkReversed(_ context.Context, userID, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.data.entries {
		if m.data.entries[i].ID == entryID && m.data.entries[i].UserID == userID {
			if m.data.entries[i].Reversed {
				return ledger.ErrAlreadyReversed
			}
			m.data.entries[i].Reversed = true
			return nil
		}
	}
	return ledger.ErrNotFound
}

func (m *Memory) RemoveEntries(_ context.Context, userID string, entryIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := make(map[string]bool, len(entryIDs))
	for _, id := range entryIDs {
		drop[id] = true
	}
	kept := m.data.entries[:0]
	for _, e := range m.data.entries {
		if drop[e.ID] && e.UserID == userID {
			continue
		}
		kept = append(kept, e)
	}
	m.data.entries = kept
	return nil
}

func (m *Memory) SumBalance(_ context.Context, userID, accountID string, asOf time.Time) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sum := decimal.Zero
	for _, e := range m.data.entries {
		if e.UserID != userID || e.AccountID != accountID || e.Reversed {
			continue
		}
		if e.OccurredAt.After(asOf) {
			continue
		}
		sum = sum.Add(e.Signed())
	}
	return sum, nil
}

func (m *Memory) ListTransferLegs(_ context.Context, userID string, page, limit int) ([]ledger.Entry, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var legs []ledger.Entry
	for _, e := range m.data.entries {
		if e.UserID == userID && e.Kind == ledger.KindOutflow && e.Origin.Type == ledger.OriginTransfer {
			legs = append(legs, e)
		}
	}
	// Newest first.
	sort.Slice(legs, func(i, j int) bool { return legs[i].OccurredAt.After(legs[j].OccurredAt) })

	total := len(legs)
	start := (page - 1) * limit
	if start >= total {
		return nil, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return legs[start:end], total, nil
}

func (m *Memory) FindByOrigin(_ context.Context, userID string, o ledger.Origin) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Entry
	for _, e := range m.data.entries {
		if e.UserID == userID && e.Origin == o {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) HasOpeningBalance(_ context.Context, userID, accountID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.data.entries {
		if e.UserID == userID && e.AccountID == accountID &&
			e.Kind == ledger.KindOpeningBalance && !e.Reversed {
			return true, nil
		}
	}
	return false, nil
}

// =============================================================================
// REFERENCE STORES
// =============================================================================

func (m *Memory) GetAccount(_ context.Context, userID, accountID string) (*ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.data.accounts[accountID]
	if !ok || a.UserID != userID {
		return nil, nil
	}
	return &a, nil
}

func (m *Memory) ListAccounts(_ context.Context, userID string) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Account
	for _, a := range m.data.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) GetBill(_ context.Context, userID, billID string) (*ledger.Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.data.bills[billID]
	if !ok || b.UserID != userID {
		return nil, nil
	}
	return &b, nil
}

func (m *Memory) SaveBill(_ context.Context, b ledger.Bill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.bills[b.ID] = b
	return nil
}

func (m *Memory) BillsDueBetween(_ context.Context, userID string, from, to time.Time) ([]ledger.Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Bill
	for _, b := range m.data.bills {
		if b.UserID == userID && !b.DueDate.Before(from) && !b.DueDate.After(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *Memory) BillsPaidBetween(_ context.Context, userID string, from, to time.Time) ([]ledger.Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Bill
	for _, b := range m.data.bills {
		if b.UserID != userID || b.Status != ledger.BillPaid || b.PaymentDate == nil {
			continue
		}
		if b.PaymentDate.Before(from) || b.PaymentDate.After(to) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (m *Memory) InsertExpense(_ context.Context, e ledger.Expense) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.expenses = append(m.data.expenses, e)
	return nil
}

func (m *Memory) ExpensesBetween(_ context.Context, userID string, from, to time.Time) ([]ledger.Expense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Expense
	for _, e := range m.data.expenses {
		if e.UserID == userID && !e.Date.Before(from) && !e.Date.After(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) ListCards(_ context.Context, userID string) ([]ledger.Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Card
	for _, c := range m.data.cards {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) ListGroups(_ context.Context, userID string) ([]ledger.CategoryGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.CategoryGroup
	for _, g := range m.data.groups {
		if g.UserID == userID {
			out = append(out, g)
		}
	}
	return out, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn against a snapshot copy and swaps it in on success.
// Concurrent readers never observe a half-applied transaction.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	tx := &txView{parent: m, data: snapshot}
	if err := fn(tx); err != nil {
		return err
	}
	m.data = snapshot
	return nil
}

// txView is an unlocked Repository over a snapshot; the parent's mutex is
// held for the whole transaction.
type txView struct {
	parent *Memory
	data   *state
}

func (t *txView) InsertEntry(_ context.Context, e ledger.Entry) error {
	if err := t.parent.takeFailure(); err != nil {
		return err
	}
	t.data.entries = insertSorted(t.data.entries, e)
	return nil
}

func (t *txView) InsertEntries(ctx context.Context, entries []ledger.Entry) error {
	for _, e := range entries {
		if err := t.InsertEntry(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (t *txView) GetEntry(_ context.Context, userID, entryID string) (*ledger.Entry, error) {
	for i := range t.data.entries {
		if t.data.entries[i].ID == entryID && t.data.entries[i].UserID == userID {
			e := t.data.entries[i]
			return &e, nil
		}
	}
	return nil, nil
}

func (t *txView) ListEntries(_ context.Context, userID string, f ledger.EntryFilter) ([]ledger.Entry, error) {
	var out []ledger.Entry
	for _, e := range t.data.entries {
		if matches(e, userID, f) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *txView) MarkReversed(_ context.Context, userID, entryID string) error {
	for i := range t.data.entries {
		if t.data.entries[i].ID == entryID && t.data.entries[i].UserID == userID {
			if t.data.entries[i].Reversed {
				return ledger.ErrAlreadyReversed
			}
			t.data.entries[i].Reversed = true
			return nil
		}
	}
	return ledger.ErrNotFound
}

func (t *txView) RemoveEntries(_ context.Context, userID string, entryIDs []string) error {
	drop := make(map[string]bool, len(entryIDs))
	for _, id := range entryIDs {
		drop[id] = true
	}
	kept := t.data.entries[:0]
	for _, e := range t.data.entries {
		if drop[e.ID] && e.UserID == userID {
			continue
		}
		kept = append(kept, e)
	}
	t.data.entries = kept
	return nil
}

func (t *txView) SumBalance(_ context.Context, userID, accountID string, asOf time.Time) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, e := range t.data.entries {
		if e.UserID != userID || e.AccountID != accountID || e.Reversed || e.OccurredAt.After(asOf) {
			continue
		}
		sum = sum.Add(e.Signed())
	}
	return sum, nil
}

func (t *txView) ListTransferLegs(_ context.Context, userID string, page, limit int) ([]ledger.Entry, int, error) {
	// Transfer listing is a read-only page endpoint; nothing calls it from
	// inside a transaction. Fail loudly rather than fabricate an empty page.
	return nil, 0, errors.New("transfer listing is not supported inside a transaction")
}

func (t *txView) FindByOrigin(_ context.Context, userID string, o ledger.Origin) ([]ledger.Entry, error) {
	var out []ledger.Entry
	for _, e := range t.data.entries {
		if e.UserID == userID && e.Origin == o {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *txView) HasOpeningBalance(_ context.Context, userID, accountID string) (bool, error) {
	for _, e := range t.data.entries {
		if e.UserID == userID && e.AccountID == accountID &&
			e.Kind == ledger.KindOpeningBalance && !e.Reversed {
			return true, nil
		}
	}
	return false, nil
}

func (t *txView) GetAccount(_ context.Context, userID, accountID string) (*ledger.Account, error) {
	a, ok := t.data.accounts[accountID]
	if !ok || a.UserID != userID {
		return nil, nil
	}
	return &a, nil
}

func (t *txView) ListAccounts(_ context.Context, userID string) ([]ledger.Account, error) {
	var out []ledger.Account
	for _, a := range t.data.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *txView) GetBill(_ context.Context, userID, billID string) (*ledger.Bill, error) {
	b, ok := t.data.bills[billID]
	if !ok || b.UserID != userID {
		return nil, nil
	}
	return &b, nil
}

func (t *txView) SaveBill(_ context.Context, b ledger.Bill) error {
	t.data.bills[b.ID] = b
	return nil
}

func (t *txView) BillsDueBetween(_ context.Context, userID string, from, to time.Time) ([]ledger.Bill, error) {
	var out []ledger.Bill
	for _, b := range t.data.bills {
		if b.UserID == userID && !b.DueDate.Before(from) && !b.DueDate.After(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (t *txView) BillsPaidBetween(_ context.Context, userID string, from, to time.Time) ([]ledger.Bill, error) {
	var out []ledger.Bill
	for _, b := range t.data.bills {
		if b.UserID != userID || b.Status != ledger.BillPaid || b.PaymentDate == nil {
			continue
		}
		if b.PaymentDate.Before(from) || b.PaymentDate.After(to) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (t *txView) InsertExpense(_ context.Context, e ledger.Expense) error {
	t.data.expenses = append(t.data.expenses, e)
	return nil
}

func (t *txView) ExpensesBetween(_ context.Context, userID string, from, to time.Time) ([]ledger.Expense, error) {
	var out []ledger.Expense
	for _, e := range t.data.expenses {
		if e.UserID == userID && !e.Date.Before(from) && !e.Date.After(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *txView) ListCards(_ context.Context, userID string) ([]ledger.Card, error) {
	var out []ledger.Card
	for _, c := range t.data.cards {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (t *txView) ListGroups(_ context.Context, userID string) ([]ledger.CategoryGroup, error) {
	var out []ledger.CategoryGroup
	for _, g := range t.data.groups {
		if g.UserID == userID {
			out = append(out, g)
		}
	}
	return out, nil
}
