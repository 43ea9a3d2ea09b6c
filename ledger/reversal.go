/*
reversal.go - Active -> Reversed state machine

Reversing an entry flips its reversed flag, which excludes it from every
balance and report. For Outflow entries a compensating Inflow is also
posted, dated now (not the original date), with Origin pointing back at the
reversed entry. Inflow and OpeningBalance reversals post nothing; the
asymmetry is deliberate (see DESIGN.md).

The flag and the compensation are two separate writes, not one storage
transaction. If the compensation insert fails transiently after the flag
stuck, we retry it with bounded linear backoff before surfacing
ErrUnavailable; non-transient failures surface immediately. The
flag itself is never retried: a re-run must hit the AlreadyReversed guard,
never double-post compensation.
*/
package ledger

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	reversalAttempts = 3
	reversalBackoff  = 200 * time.Millisecond
)

// Reverser flips ledger entries from active to reversed.
type Reverser struct {
	Store EntryStore
	Log   *zap.Logger

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
	// Sleep is injectable for tests; defaults to time.Sleep.
	Sleep func(time.Duration)
}

func NewReverser(store EntryStore, log *zap.Logger) *Reverser {
	return &Reverser{Store: store, Log: log, Now: time.Now, Sleep: time.Sleep}
}

// Reverse marks the entry reversed and, for Outflow entries, posts the
// compensating Inflow. Returns the compensating entry, or nil when the kind
// does not compensate.
func (r *Reverser) Reverse(ctx context.Context, userID, entryID string) (*Entry, error) {
	entry, err := r.Store.GetEntry(ctx, userID, entryID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, ErrNotFound
	}
	if entry.Reversed {
		return nil, ErrAlreadyReversed
	}

	if err := r.Store.MarkReversed(ctx, userID, entryID); err != nil {
		return nil, err
	}

	if entry.Kind != KindOutflow {
		return nil, nil
	}

	now := r.Now().UTC()
	compensation := Entry{
		ID:         NewEntryID(),
		UserID:     entry.UserID,
		AccountID:  entry.AccountID,
		Kind:       KindInflow,
		Amount:     Cents(entry.Amount),
		OccurredAt: now,
		Reason:     "Reversal: " + entry.Reason,
		Origin:     Origin{Type: OriginReversal, RefID: entry.ID},
		CreatedAt:  now,
	}

	var insertErr error
	for attempt := 1; attempt <= reversalAttempts; attempt++ {
		insertErr = r.Store.InsertEntry(ctx, compensation)
		if insertErr == nil {
			return &compensation, nil
		}
		r.Log.Warn("compensating entry insert failed",
			zap.String("user_id", userID),
			zap.String("entry_id", entryID),
			zap.Int("attempt", attempt),
			zap.Error(insertErr))
		// Only transient storage failures can succeed on retry; anything
		// else surfaces as-is with the flag already set.
		if !IsRetryable(insertErr) {
			return nil, insertErr
		}
		if attempt < reversalAttempts {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			r.Sleep(reversalBackoff * time.Duration(attempt))
		}
	}

	// The entry is flagged reversed with no compensation posted; surface a
	// retryable error so the caller knows the state is transiently short.
	r.Log.Error("reversal compensation exhausted retries",
		zap.String("user_id", userID),
		zap.String("entry_id", entryID),
		zap.Error(insertErr))
	return nil, ErrUnavailable
}
