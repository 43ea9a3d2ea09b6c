/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements ledger.TxRepository using SQLite. In production, the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

MONEY REPRESENTATION:
  Amounts are stored as INTEGER cents. Every amount entering the store is
  already rounded to two decimals, so the conversion is lossless and SQL
  SUM over cents agrees bit-for-bit with a decimal sweep over the same
  rows. Never store money as REAL.

TIME REPRESENTATION:
  Timestamps are stored as UTC text in a fixed-width layout so that
  lexicographic comparison equals chronological comparison. Range queries
  on occurred_at rely on this.

WRITE DISCIPLINE:
  The entries table is append-mostly: inserts, the reversed-flag flip, and
  the paired hard delete used by transfer rollback. No general UPDATE.

KEY INDEXES:
  idx_entries_account_date: Balance reduction (hot path)
  idx_entries_opening:      One live opening balance per (user, account);
                            partial unique, violation maps to
                            ledger.ErrDuplicateOpeningBalance
  idx_entries_origin:       Origin lookups (pairing, reversal audit)

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/finbook/finbook/ledger"
)

// timeLayout is fixed-width RFC3339 with nanoseconds so stored strings
// sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

// toCents converts a 2-decimal amount to integer cents for storage.
func toCents(d decimal.Decimal) int64 {
	return d.Round(2).Shift(2).IntPart()
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

// Store implements ledger.TxRepository using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ ledger.TxRepository = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Ledger entries (append-mostly)
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		card_id TEXT,
		kind TEXT NOT NULL,
		amount_cents INTEGER NOT NULL,
		occurred_at TEXT NOT NULL,
		reason TEXT,
		origin_type TEXT NOT NULL,
		origin_ref TEXT,
		reversed INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	-- Balance reduction (hot path)
	CREATE INDEX IF NOT EXISTS idx_entries_account_date
		ON entries(user_id, account_id, occurred_at);

	-- At most one live opening balance per (user, account). Reversing the
	-- opening balance lifts the constraint, so a corrected one can be posted.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_opening
		ON entries(user_id, account_id)
		WHERE kind = 'opening_balance' AND reversed = 0;

	-- Origin lookups (transfer pairing, reversal audit)
	CREATE INDEX IF NOT EXISTS idx_entries_origin
		ON entries(user_id, origin_type, origin_ref);

	-- Transfer listing
	CREATE INDEX IF NOT EXISTS idx_entries_transfer
		ON entries(user_id, occurred_at DESC)
		WHERE kind = 'outflow' AND origin_type = 'transfer';

	-- Accounts
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		bank_name TEXT,
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_user ON accounts(user_id);

	-- Bills
	CREATE TABLE IF NOT EXISTS bills (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		description TEXT NOT NULL,
		amount_cents INTEGER NOT NULL,
		due_date TEXT NOT NULL,
		status TEXT NOT NULL,
		payment_date TEXT,
		payment_method TEXT,
		account_id TEXT,
		card_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_bills_user_due ON bills(user_id, due_date);
	CREATE INDEX IF NOT EXISTS idx_bills_user_paid
		ON bills(user_id, payment_date) WHERE payment_date IS NOT NULL;

	-- Expenses
	CREATE TABLE IF NOT EXISTS expenses (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		amount_cents INTEGER NOT NULL,
		date TEXT NOT NULL,
		group_id TEXT NOT NULL,
		subgroup_name TEXT NOT NULL,
		payment_method TEXT,
		card_id TEXT,
		account_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_expenses_user_date ON expenses(user_id, date);

	-- Cards
	CREATE TABLE IF NOT EXISTS cards (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		credit_limit_cents INTEGER NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_cards_user ON cards(user_id);

	-- Category groups (subgroups as a JSON array, read-only reference data)
	CREATE TABLE IF NOT EXISTS category_groups (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		subgroups_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_groups_user ON category_groups(user_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so the query helpers work
// inside and outside storage transactions.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// ENTRY STORE (ledger.EntryStore interface)
// =============================================================================

const entryColumns = `id, user_id, account_id, card_id, kind, amount_cents,
	occurred_at, reason, origin_type, origin_ref, reversed, created_at`

// InsertEntry persists a single entry.
func (s *Store) InsertEntry(ctx context.Context, e ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertEntry(ctx, s.db, e)
}

func (s *Store) insertEntry(ctx context.Context, db dbtx, e ledger.Entry) error {
	query := `
		INSERT INTO entries
		(id, user_id, account_id, card_id, kind, amount_cents, occurred_at,
		 reason, origin_type, origin_ref, reversed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		e.ID,
		e.UserID,
		e.AccountID,
		nullString(e.CardID),
		string(e.Kind),
		toCents(e.Amount),
		fmtTime(e.OccurredAt),
		e.Reason,
		string(e.Origin.Type),
		nullString(e.Origin.RefID),
		boolInt(e.Reversed),
		fmtTime(e.CreatedAt),
	)

	if err != nil {
		if isOpeningBalanceConflict(err) {
			return ledger.ErrDuplicateOpeningBalance
		}
		return fmt.Errorf("failed to insert entry: %w", err)
	}

	return nil
}

// InsertEntries persists multiple entries atomically.
func (s *Store) InsertEntries(ctx context.Context, entries []ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, e := range entries {
		if err := s.insertEntry(ctx, sqlTx, e); err != nil {
			return err
		}
	}

	return sqlTx.Commit()
}

// GetEntry returns the entry owned by userID, or nil if absent.
func (s *Store) GetEntry(ctx context.Context, userID, entryID string) (*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getEntry(ctx, s.db, userID, entryID)
}

func (s *Store) getEntry(ctx context.Context, db dbtx, userID, entryID string) (*ledger.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries WHERE user_id = ? AND id = ?`

	entries, err := queryEntries(ctx, db, query, userID, entryID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// ListEntries returns matching entries ordered by OccurredAt ascending.
func (s *Store) ListEntries(ctx context.Context, userID string, f ledger.EntryFilter) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listEntries(ctx, s.db, userID, f)
}

func (s *Store) listEntries(ctx context.Context, db dbtx, userID string, f ledger.EntryFilter) ([]ledger.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries WHERE user_id = ?`
	args := []any{userID}

	if f.AccountID != "" {
		query += ` AND account_id = ?`
		args = append(args, f.AccountID)
	}
	if f.CardID != "" {
		query += ` AND card_id = ?`
		args = append(args, f.CardID)
	}
	if f.From != nil {
		query += ` AND occurred_at >= ?`
		args = append(args, fmtTime(*f.From))
	}
	if f.To != nil {
		query += ` AND occurred_at <= ?`
		args = append(args, fmtTime(*f.To))
	}
	query += ` ORDER BY occurred_at ASC, created_at ASC`

	return queryEntries(ctx, db, query, args...)
}

// MarkReversed flips the reversed flag exactly once.
func (s *Store) MarkReversed(ctx context.Context, userID, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.markReversed(ctx, s.db, userID, entryID)
}

func (s *Store) markReversed(ctx context.Context, db dbtx, userID, entryID string) error {
	var reversed int
	err := db.QueryRowContext(ctx,
		"SELECT reversed FROM entries WHERE user_id = ? AND id = ?",
		userID, entryID,
	).Scan(&reversed)
	if err == sql.ErrNoRows {
		return ledger.ErrNotFound
	}
	if err != nil {
		return err
	}
	if reversed != 0 {
		return ledger.ErrAlreadyReversed
	}

	_, err = db.ExecContext(ctx,
		"UPDATE entries SET reversed = 1 WHERE user_id = ? AND id = ? AND reversed = 0",
		userID, entryID,
	)
	return err
}

// RemoveEntries hard-deletes entries by id.
func (s *Store) RemoveEntries(ctx context.Context, userID string, entryIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.removeEntries(ctx, s.db, userID, entryIDs)
}

func (s *Store) removeEntries(ctx context.Context, db dbtx, userID string, entryIDs []string) error {
	if len(entryIDs) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(entryIDs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(entryIDs)+1)
	args = append(args, userID)
	for _, id := range entryIDs {
		args = append(args, id)
	}

	_, err := db.ExecContext(ctx,
		"DELETE FROM entries WHERE user_id = ? AND id IN ("+placeholders+")",
		args...,
	)
	return err
}

// SumBalance computes the signed sum of non-reversed entries for the
// account up to asOf, entirely in SQL over integer cents.
func (s *Store) SumBalance(ctx context.Context, userID, accountID string, asOf time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sumBalance(ctx, s.db, userID, accountID, asOf)
}

func (s *Store) sumBalance(ctx context.Context, db dbtx, userID, accountID string, asOf time.Time) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(CASE WHEN kind = 'outflow' THEN -amount_cents ELSE amount_cents END), 0)
		FROM entries
		WHERE user_id = ? AND account_id = ? AND reversed = 0 AND occurred_at <= ?
	`

	var cents int64
	err := db.QueryRowContext(ctx, query, userID, accountID, fmtTime(asOf)).Scan(&cents)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum balance: %w", err)
	}
	return fromCents(cents), nil
}

// ListTransferLegs returns Outflow transfer legs, newest first, paginated.
func (s *Store) ListTransferLegs(ctx context.Context, userID string, page, limit int) ([]ledger.Entry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listTransferLegs(ctx, s.db, userID, page, limit)
}

func (s *Store) listTransferLegs(ctx context.Context, db dbtx, userID string, page, limit int) ([]ledger.Entry, int, error) {
	where := `user_id = ? AND kind = 'outflow' AND origin_type = 'transfer'`

	var total int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entries WHERE "+where, userID,
	).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + entryColumns + ` FROM entries WHERE ` + where + `
		ORDER BY occurred_at DESC, created_at DESC
		LIMIT ? OFFSET ?`

	entries, err := queryEntries(ctx, db, query, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// FindByOrigin returns entries whose Origin matches exactly.
func (s *Store) FindByOrigin(ctx context.Context, userID string, o ledger.Origin) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.findByOrigin(ctx, s.db, userID, o)
}

func (s *Store) findByOrigin(ctx context.Context, db dbtx, userID string, o ledger.Origin) ([]ledger.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries
		WHERE user_id = ? AND origin_type = ? AND origin_ref = ?
		ORDER BY occurred_at ASC, created_at ASC`

	return queryEntries(ctx, db, query, userID, string(o.Type), o.RefID)
}

// HasOpeningBalance reports whether a non-reversed opening balance exists.
func (s *Store) HasOpeningBalance(ctx context.Context, userID, accountID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.hasOpeningBalance(ctx, s.db, userID, accountID)
}

func (s *Store) hasOpeningBalance(ctx context.Context, db dbtx, userID, accountID string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries
		 WHERE user_id = ? AND account_id = ? AND kind = 'opening_balance' AND reversed = 0`,
		userID, accountID,
	).Scan(&count)
	return count > 0, err
}

func queryEntries(ctx context.Context, db dbtx, query string, args ...any) ([]ledger.Entry, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (ledger.Entry, error) {
	var (
		e          ledger.Entry
		cardID     sql.NullString
		kind       string
		cents      int64
		occurredAt string
		originType string
		originRef  sql.NullString
		reversed   int
		createdAt  string
	)

	err := rows.Scan(
		&e.ID, &e.UserID, &e.AccountID, &cardID, &kind, &cents,
		&occurredAt, &e.Reason, &originType, &originRef, &reversed, &createdAt,
	)
	if err != nil {
		return e, fmt.Errorf("failed to scan entry: %w", err)
	}

	e.CardID = cardID.String
	e.Kind = ledger.EntryKind(kind)
	e.Amount = fromCents(cents)
	e.OccurredAt = parseTime(occurredAt)
	e.Origin = ledger.Origin{Type: ledger.OriginType(originType), RefID: originRef.String}
	e.Reversed = reversed != 0
	e.CreatedAt = parseTime(createdAt)

	return e, nil
}

// =============================================================================
// ACCOUNT STORE
// =============================================================================

// SaveAccount upserts an account record.
func (s *Store) SaveAccount(ctx context.Context, a ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO accounts (id, user_id, name, bank_name, active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			bank_name = excluded.bank_name,
			active = excluded.active
	`

	_, err := s.db.ExecContext(ctx, query, a.ID, a.UserID, a.Name, a.BankName, boolInt(a.Active))
	return err
}

// GetAccount retrieves an account by ID, or nil if absent.
func (s *Store) GetAccount(ctx context.Context, userID, accountID string) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getAccount(ctx, s.db, userID, accountID)
}

func (s *Store) getAccount(ctx context.Context, db dbtx, userID, accountID string) (*ledger.Account, error) {
	var a ledger.Account
	var active int

	err := db.QueryRowContext(ctx,
		"SELECT id, user_id, name, bank_name, active FROM accounts WHERE user_id = ? AND id = ?",
		userID, accountID,
	).Scan(&a.ID, &a.UserID, &a.Name, &a.BankName, &active)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	a.Active = active != 0
	return &a, nil
}

// ListAccounts returns all accounts for the user.
func (s *Store) ListAccounts(ctx context.Context, userID string) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listAccounts(ctx, s.db, userID)
}

func (s *Store) listAccounts(ctx context.Context, db dbtx, userID string) ([]ledger.Account, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, user_id, name, bank_name, active FROM accounts WHERE user_id = ? ORDER BY name",
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		var a ledger.Account
		var active int
		if err := rows.Scan(&a.ID, &a.UserID, &a.Name, &a.BankName, &active); err != nil {
			return nil, err
		}
		a.Active = active != 0
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// =============================================================================
// BILL STORE
// =============================================================================

const billColumns = `id, user_id, description, amount_cents, due_date, status,
	payment_date, payment_method, account_id, card_id`

// GetBill retrieves a bill by ID, or nil if absent.
func (s *Store) GetBill(ctx context.Context, userID, billID string) (*ledger.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getBill(ctx, s.db, userID, billID)
}

func (s *Store) getBill(ctx context.Context, db dbtx, userID, billID string) (*ledger.Bill, error) {
	query := `SELECT ` + billColumns + ` FROM bills WHERE user_id = ? AND id = ?`

	bills, err := queryBills(ctx, db, query, userID, billID)
	if err != nil {
		return nil, err
	}
	if len(bills) == 0 {
		return nil, nil
	}
	return &bills[0], nil
}

// SaveBill upserts a bill record.
func (s *Store) SaveBill(ctx context.Context, b ledger.Bill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveBill(ctx, s.db, b)
}

func (s *Store) saveBill(ctx context.Context, db dbtx, b ledger.Bill) error {
	query := `
		INSERT INTO bills
		(id, user_id, description, amount_cents, due_date, status,
		 payment_date, payment_method, account_id, card_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description = excluded.description,
			amount_cents = excluded.amount_cents,
			due_date = excluded.due_date,
			status = excluded.status,
			payment_date = excluded.payment_date,
			payment_method = excluded.payment_method,
			account_id = excluded.account_id,
			card_id = excluded.card_id
	`

	var paymentDate *string
	if b.PaymentDate != nil {
		d := fmtTime(*b.PaymentDate)
		paymentDate = &d
	}

	_, err := db.ExecContext(ctx, query,
		b.ID, b.UserID, b.Description, toCents(b.Amount),
		fmtTime(b.DueDate), string(b.Status),
		paymentDate, nullString(b.PaymentMethod),
		nullString(b.AccountID), nullString(b.CardID),
	)
	return err
}

// BillsDueBetween returns bills with DueDate in [from, to].
func (s *Store) BillsDueBetween(ctx context.Context, userID string, from, to time.Time) ([]ledger.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + billColumns + ` FROM bills
		WHERE user_id = ? AND due_date >= ? AND due_date <= ?
		ORDER BY due_date ASC`

	return queryBills(ctx, s.db, query, userID, fmtTime(from), fmtTime(to))
}

// BillsPaidBetween returns paid bills with PaymentDate in [from, to].
func (s *Store) BillsPaidBetween(ctx context.Context, userID string, from, to time.Time) ([]ledger.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.billsPaidBetween(ctx, s.db, userID, from, to)
}

func (s *Store) billsPaidBetween(ctx context.Context, db dbtx, userID string, from, to time.Time) ([]ledger.Bill, error) {
	query := `SELECT ` + billColumns + ` FROM bills
		WHERE user_id = ? AND status = 'paid'
		  AND payment_date >= ? AND payment_date <= ?
		ORDER BY payment_date ASC`

	return queryBills(ctx, db, query, userID, fmtTime(from), fmtTime(to))
}

func queryBills(ctx context.Context, db dbtx, query string, args ...any) ([]ledger.Bill, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bills: %w", err)
	}
	defer rows.Close()

	var bills []ledger.Bill
	for rows.Next() {
		var (
			b             ledger.Bill
			cents         int64
			dueDate       string
			status        string
			paymentDate   sql.NullString
			paymentMethod sql.NullString
			accountID     sql.NullString
			cardID        sql.NullString
		)
		if err := rows.Scan(
			&b.ID, &b.UserID, &b.Description, &cents, &dueDate, &status,
			&paymentDate, &paymentMethod, &accountID, &cardID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan bill: %w", err)
		}

		b.Amount = fromCents(cents)
		b.DueDate = parseTime(dueDate)
		b.Status = ledger.BillStatus(status)
		if paymentDate.Valid {
			t := parseTime(paymentDate.String)
			b.PaymentDate = &t
		}
		b.PaymentMethod = paymentMethod.String
		b.AccountID = accountID.String
		b.CardID = cardID.String

		bills = append(bills, b)
	}
	return bills, rows.Err()
}

// =============================================================================
// EXPENSE STORE
// =============================================================================

// InsertExpense persists an expense record.
func (s *Store) InsertExpense(ctx context.Context, e ledger.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertExpense(ctx, s.db, e)
}

func (s *Store) insertExpense(ctx context.Context, db dbtx, e ledger.Expense) error {
	query := `
		INSERT INTO expenses
		(id, user_id, amount_cents, date, group_id, subgroup_name,
		 payment_method, card_id, account_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		e.ID, e.UserID, toCents(e.Amount), fmtTime(e.Date),
		e.GroupID, e.SubgroupName, nullString(e.PaymentMethod),
		nullString(e.CardID), nullString(e.AccountID),
	)
	if err != nil {
		return fmt.Errorf("failed to insert expense: %w", err)
	}
	return nil
}

// ExpensesBetween returns expenses with Date in [from, to].
func (s *Store) ExpensesBetween(ctx context.Context, userID string, from, to time.Time) ([]ledger.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.expensesBetween(ctx, s.db, userID, from, to)
}

func (s *Store) expensesBetween(ctx context.Context, db dbtx, userID string, from, to time.Time) ([]ledger.Expense, error) {
	query := `
		SELECT id, user_id, amount_cents, date, group_id, subgroup_name,
		       payment_method, card_id, account_id
		FROM expenses
		WHERE user_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`

	rows, err := db.QueryContext(ctx, query, userID, fmtTime(from), fmtTime(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query expenses: %w", err)
	}
	defer rows.Close()

	var expenses []ledger.Expense
	for rows.Next() {
		var (
			e             ledger.Expense
			cents         int64
			date          string
			paymentMethod sql.NullString
			cardID        sql.NullString
			accountID     sql.NullString
		)
		if err := rows.Scan(
			&e.ID, &e.UserID, &cents, &date, &e.GroupID, &e.SubgroupName,
			&paymentMethod, &cardID, &accountID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}

		e.Amount = fromCents(cents)
		e.Date = parseTime(date)
		e.PaymentMethod = paymentMethod.String
		e.CardID = cardID.String
		e.AccountID = accountID.String

		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

// =============================================================================
// CARD AND CATEGORY STORES
// =============================================================================

// SaveCard upserts a card record.
func (s *Store) SaveCard(ctx context.Context, c ledger.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO cards (id, user_id, name, kind, credit_limit_cents, active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			credit_limit_cents = excluded.credit_limit_cents,
			active = excluded.active
	`

	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.UserID, c.Name, string(c.Kind), toCents(c.CreditLimit), boolInt(c.Active),
	)
	return err
}

// ListCards returns all cards for the user.
func (s *Store) ListCards(ctx context.Context, userID string) ([]ledger.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listCards(ctx, s.db, userID)
}

func (s *Store) listCards(ctx context.Context, db dbtx, userID string) ([]ledger.Card, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, user_id, name, kind, credit_limit_cents, active FROM cards WHERE user_id = ? ORDER BY name",
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cards []ledger.Card
	for rows.Next() {
		var c ledger.Card
		var kind string
		var limitCents int64
		var active int
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &kind, &limitCents, &active); err != nil {
			return nil, err
		}
		c.Kind = ledger.CardKind(kind)
		c.CreditLimit = fromCents(limitCents)
		c.Active = active != 0
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// SaveGroup upserts a category group record.
func (s *Store) SaveGroup(ctx context.Context, g ledger.CategoryGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	subgroupsJSON, _ := json.Marshal(g.Subgroups)

	query := `
		INSERT INTO category_groups (id, user_id, name, subgroups_json)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			subgroups_json = excluded.subgroups_json
	`

	_, err := s.db.ExecContext(ctx, query, g.ID, g.UserID, g.Name, string(subgroupsJSON))
	return err
}

// ListGroups returns all category groups for the user.
func (s *Store) ListGroups(ctx context.Context, userID string) ([]ledger.CategoryGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listGroups(ctx, s.db, userID)
}

func (s *Store) listGroups(ctx context.Context, db dbtx, userID string) ([]ledger.CategoryGroup, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, user_id, name, subgroups_json FROM category_groups WHERE user_id = ? ORDER BY name",
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []ledger.CategoryGroup
	for rows.Next() {
		var g ledger.CategoryGroup
		var subgroupsJSON string
		if err := rows.Scan(&g.ID, &g.UserID, &g.Name, &subgroupsJSON); err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(subgroupsJSON), &g.Subgroups)
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxRepository interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore routes every call through the open transaction. The parent's
// mutex is already held for the duration of WithTx.
type txStore struct {
	tx     *sql.Tx
	parent *Store
}

var _ ledger.Repository = (*txStore)(nil)

func (ts *txStore) InsertEntry(ctx context.Context, e ledger.Entry) error {
	return ts.parent.insertEntry(ctx, ts.tx, e)
}

func (ts *txStore) InsertEntries(ctx context.Context, entries []ledger.Entry) error {
	for _, e := range entries {
		if err := ts.parent.insertEntry(ctx, ts.tx, e); err != nil {
			return err
		}
	}
	return nil
}

func (ts *txStore) GetEntry(ctx context.Context, userID, entryID string) (*ledger.Entry, error) {
	return ts.parent.getEntry(ctx, ts.tx, userID, entryID)
}

func (ts *txStore) ListEntries(ctx context.Context, userID string, f ledger.EntryFilter) ([]ledger.Entry, error) {
	return ts.parent.listEntries(ctx, ts.tx, userID, f)
}

func (ts *txStore) MarkReversed(ctx context.Context, userID, entryID string) error {
	return ts.parent.markReversed(ctx, ts.tx, userID, entryID)
}

func (ts *txStore) RemoveEntries(ctx context.Context, userID string, entryIDs []string) error {
	return ts.parent.removeEntries(ctx, ts.tx, userID, entryIDs)
}

func (ts *txStore) SumBalance(ctx context.Context, userID, accountID string, asOf time.Time) (decimal.Decimal, error) {
	return ts.parent.sumBalance(ctx, ts.tx, userID, accountID, asOf)
}

func (ts *txStore) ListTransferLegs(ctx context.Context, userID string, page, limit int) ([]ledger.Entry, int, error) {
	return ts.parent.listTransferLegs(ctx, ts.tx, userID, page, limit)
}

func (ts *txStore) FindByOrigin(ctx context.Context, userID string, o ledger.Origin) ([]ledger.Entry, error) {
	return ts.parent.findByOrigin(ctx, ts.tx, userID, o)
}

func (ts *txStore) HasOpeningBalance(ctx context.Context, userID, accountID string) (bool, error) {
	return ts.parent.hasOpeningBalance(ctx, ts.tx, userID, accountID)
}

func (ts *txStore) GetAccount(ctx context.Context, userID, accountID string) (*ledger.Account, error) {
	return ts.parent.getAccount(ctx, ts.tx, userID, accountID)
}

func (ts *txStore) ListAccounts(ctx context.Context, userID string) ([]ledger.Account, error) {
	return ts.parent.listAccounts(ctx, ts.tx, userID)
}

func (ts *txStore) GetBill(ctx context.Context, userID, billID string) (*ledger.Bill, error) {
	return ts.parent.getBill(ctx, ts.tx, userID, billID)
}

func (ts *txStore) SaveBill(ctx context.Context, b ledger.Bill) error {
	return ts.parent.saveBill(ctx, ts.tx, b)
}

func (ts *txStore) BillsDueBetween(ctx context.Context, userID string, from, to time.Time) ([]ledger.Bill, error) {
	query := `SELECT ` + billColumns + ` FROM bills
		WHERE user_id = ? AND due_date >= ? AND due_date <= ?
		ORDER BY due_date ASC`
	return queryBills(ctx, ts.tx, query, userID, fmtTime(from), fmtTime(to))
}

func (ts *txStore) BillsPaidBetween(ctx context.Context, userID string, from, to time.Time) ([]ledger.Bill, error) {
	return ts.parent.billsPaidBetween(ctx, ts.tx, userID, from, to)
}

func (ts *txStore) InsertExpense(ctx context.Context, e ledger.Expense) error {
	return ts.parent.insertExpense(ctx, ts.tx, e)
}

func (ts *txStore) ExpensesBetween(ctx context.Context, userID string, from, to time.Time) ([]ledger.Expense, error) {
	return ts.parent.expensesBetween(ctx, ts.tx, userID, from, to)
}

func (ts *txStore) ListCards(ctx context.Context, userID string) ([]ledger.Card, error) {
	return ts.parent.listCards(ctx, ts.tx, userID)
}

func (ts *txStore) ListGroups(ctx context.Context, userID string) ([]ledger.CategoryGroup, error) {
	return ts.parent.listGroups(ctx, ts.tx, userID)
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isOpeningBalanceConflict reports a violation of idx_entries_opening.
// SQLite names the violated index's columns in the message, which keeps an
// entries.id primary-key collision from being misread as a duplicate
// opening balance.
func isOpeningBalanceConflict(err error) bool {
	return err != nil &&
		strings.Contains(err.Error(), "UNIQUE constraint failed: entries.user_id, entries.account_id")
}
