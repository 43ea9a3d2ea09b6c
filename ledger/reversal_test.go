package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/finbook/finbook/ledger"
	memstore "github.com/finbook/finbook/ledger/store"
)

func newReverser(m *memstore.Memory, now time.Time) *ledger.Reverser {
	r := ledger.NewReverser(m, testLogger())
	r.Now = func() time.Time { return now }
	r.Sleep = func(time.Duration) {} // no real backoff in tests
	return r
}

func TestReverse_OutflowPostsCompensation(t *testing.T) {
	// GIVEN: An outflow of 75.00 dated January 5, reason "Groceries"
	// WHEN: It is reversed on January 20
	// THEN: The entry is flagged and a compensating inflow is posted,
	//       dated January 20 (not the original date), reason prefixed,
	//       origin pointing back at the reversed entry

	m := newStore(t)
	now := at(20, 14)
	rev := newReverser(m, now)

	e := ledger.Entry{
		ID:         ledger.NewEntryID(),
		UserID:     testUser,
		AccountID:  "acct-1",
		Kind:       ledger.KindOutflow,
		Amount:     d("75.00"),
		OccurredAt: at(5, 0),
		Reason:     "Groceries",
		Origin:     ledger.Origin{Type: ledger.OriginManual},
		CreatedAt:  at(5, 0),
	}
	require.NoError(t, m.InsertEntry(context.Background(), e))

	comp, err := rev.Reverse(context.Background(), testUser, e.ID)
	require.NoError(t, err)
	require.NotNil(t, comp)

	require.Equal(t, ledger.KindInflow, comp.Kind)
	require.Equal(t, "acct-1", comp.AccountID)
	require.True(t, comp.Amount.Equal(d("75.00")))
	require.Equal(t, now, comp.OccurredAt)
	require.Equal(t, "Reversal: Groceries", comp.Reason)
	require.Equal(t, ledger.OriginReversal, comp.Origin.Type)
	require.Equal(t, e.ID, comp.Origin.RefID)

	flagged, err := m.GetEntry(context.Background(), testUser, e.ID)
	require.NoError(t, err)
	require.True(t, flagged.Reversed)
}

func TestReverse_InflowPostsNothing(t *testing.T) {
	// GIVEN: An inflow entry
	// WHEN: It is reversed
	// THEN: The flag flips but no compensating entry appears; exclusion
	//       from balances alone undoes an inflow

	m := newStore(t)
	rev := newReverser(m, at(20, 0))

	e := seedEntry(t, m, "acct-1", ledger.KindInflow, "300.00", at(5, 0))

	comp, err := rev.Reverse(context.Background(), testUser, e.ID)
	require.NoError(t, err)
	require.Nil(t, comp)

	entries, err := m.ListEntries(context.Background(), testUser, ledger.EntryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.True(t, entries[0].Reversed)
}

func TestReverse_OpeningBalancePostsNothing(t *testing.T) {
	// GIVEN: An opening balance entry
	// WHEN: It is reversed
	// THEN: No compensation; the account may receive a new opening balance

	m := newStore(t)
	rev := newReverser(m, at(20, 0))

	e := seedEntry(t, m, "acct-1", ledger.KindOpeningBalance, "1000.00", at(1, 0))

	comp, err := rev.Reverse(context.Background(), testUser, e.ID)
	require.NoError(t, err)
	require.Nil(t, comp)

	has, err := m.HasOpeningBalance(context.Background(), testUser, "acct-1")
	require.NoError(t, err)
	require.False(t, has)
}

func TestReverse_NotFound(t *testing.T) {
	m := newStore(t)
	rev := newReverser(m, at(20, 0))

	_, err := rev.Reverse(context.Background(), testUser, "missing")
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestReverse_Twice_Conflict(t *testing.T) {
	// GIVEN: An entry already reversed
	// WHEN: It is reversed again
	// THEN: ErrAlreadyReversed, and no second compensation is posted

	m := newStore(t)
	rev := newReverser(m, at(20, 0))

	e := seedEntry(t, m, "acct-1", ledger.KindOutflow, "75.00", at(5, 0))

	_, err := rev.Reverse(context.Background(), testUser, e.ID)
	require.NoError(t, err)

	_, err = rev.Reverse(context.Background(), testUser, e.ID)
	require.ErrorIs(t, err, ledger.ErrAlreadyReversed)
	require.True(t, ledger.IsConflict(err))

	compensations, err := m.FindByOrigin(context.Background(), testUser,
		ledger.Origin{Type: ledger.OriginReversal, RefID: e.ID})
	require.NoError(t, err)
	require.Len(t, compensations, 1)
}

func TestReverse_CompensationRetriesThenSucceeds(t *testing.T) {
	// GIVEN: The store fails the first two compensation inserts
	// WHEN: An outflow is reversed
	// THEN: The third attempt lands and the reversal succeeds

	m := newStore(t)
	rev := newReverser(m, at(20, 0))

	e := seedEntry(t, m, "acct-1", ledger.KindOutflow, "75.00", at(5, 0))
	m.FailNextInserts(2, ledger.ErrUnavailable)

	comp, err := rev.Reverse(context.Background(), testUser, e.ID)
	require.NoError(t, err)
	require.NotNil(t, comp)
}

func TestReverse_CompensationExhaustsRetries(t *testing.T) {
	// GIVEN: The store fails every compensation insert
	// WHEN: An outflow is reversed
	// THEN: ErrUnavailable (retryable), the flag stays set, and the
	//       compensation was never posted

	m := newStore(t)
	rev := newReverser(m, at(20, 0))

	e := seedEntry(t, m, "acct-1", ledger.KindOutflow, "75.00", at(5, 0))
	m.FailNextInserts(3, ledger.ErrUnavailable)

	_, err := rev.Reverse(context.Background(), testUser, e.ID)
	require.ErrorIs(t, err, ledger.ErrUnavailable)
	require.True(t, ledger.IsRetryable(err))

	flagged, err := m.GetEntry(context.Background(), testUser, e.ID)
	require.NoError(t, err)
	require.True(t, flagged.Reversed)

	compensations, err := m.FindByOrigin(context.Background(), testUser,
		ledger.Origin{Type: ledger.OriginReversal, RefID: e.ID})
	require.NoError(t, err)
	require.Empty(t, compensations)
}

func TestReverse_CompensationNonTransientNotRetried(t *testing.T) {
	// GIVEN: The store rejects compensation inserts with a permanent error
	// WHEN: An outflow is reversed
	// THEN: That error surfaces after a single attempt; retrying a
	//       non-transient failure cannot help

	m := newStore(t)
	rev := newReverser(m, at(20, 0))

	e := seedEntry(t, m, "acct-1", ledger.KindOutflow, "75.00", at(5, 0))
	permanent := errors.New("malformed entry rejected")
	m.FailNextInserts(3, permanent)

	_, err := rev.Reverse(context.Background(), testUser, e.ID)
	require.ErrorIs(t, err, permanent)
	require.False(t, ledger.IsRetryable(err))

	// Only one of the three armed failures was consumed.
	spare := ledger.Entry{
		ID: ledger.NewEntryID(), UserID: testUser, AccountID: "acct-1",
		Kind: ledger.KindInflow, Amount: d("1.00"),
		OccurredAt: at(6, 0), Origin: ledger.Origin{Type: ledger.OriginManual},
		CreatedAt: at(6, 0),
	}
	require.Error(t, m.InsertEntry(context.Background(), spare))
	require.Error(t, m.InsertEntry(context.Background(), spare))
	require.NoError(t, m.InsertEntry(context.Background(), spare))
}

func TestReverse_CompensationStopsOnCancelledContext(t *testing.T) {
	// GIVEN: A transient failure and an already-cancelled context
	// WHEN: An outflow is reversed
	// THEN: The retry loop returns the context error instead of sleeping

	m := newStore(t)
	rev := newReverser(m, at(20, 0))

	e := seedEntry(t, m, "acct-1", ledger.KindOutflow, "75.00", at(5, 0))

	// The memory store ignores cancellation on its own calls, so the flag
	// still sticks; the retry loop must notice before sleeping.
	ctx, cancel := context.WithCancel(context.Background())
	m.FailNextInserts(1, ledger.ErrUnavailable)
	cancel()

	_, err := rev.Reverse(ctx, testUser, e.ID)
	require.ErrorIs(t, err, context.Canceled)
}

func TestReverse_BalanceAfterOutflowReversal(t *testing.T) {
	// GIVEN: Opening 1000 and an outflow 200
	// WHEN: The outflow is reversed
	// THEN: The reversed outflow drops out of aggregation AND the
	//       compensating inflow posts, so both neutralizations apply:
	//       1000 - (200 gone) + 200 = 1200 after the compensation date

	m := newStore(t)
	rev := newReverser(m, at(20, 0))
	calc := ledger.NewCalculator(m)

	seedEntry(t, m, "acct-1", ledger.KindOpeningBalance, "1000.00", at(1, 0))
	e := seedEntry(t, m, "acct-1", ledger.KindOutflow, "200.00", at(5, 0))

	_, err := rev.Reverse(context.Background(), testUser, e.ID)
	require.NoError(t, err)

	balance, err := calc.AsOf(context.Background(), testUser, "acct-1", at(31, 0))
	require.NoError(t, err)
	require.True(t, balance.Equal(d("1200.00")), "got %s", balance)

	// Before the compensation posts, only the exclusion applies.
	balance, err = calc.AsOf(context.Background(), testUser, "acct-1", at(10, 0))
	require.NoError(t, err)
	require.True(t, balance.Equal(d("1000.00")), "got %s", balance)
}
