/*
handlers.go - HTTP API handlers for the ledger engine

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Ledger:
    GET    /api/ledger                     List entries (filters: account, card, from, to)
    POST   /api/ledger                     Post a manual entry
    POST   /api/ledger/opening-balance     Post an opening balance
    POST   /api/ledger/{id}/reverse        Reverse an entry

  Transfers:
    POST   /api/transfers                  Create a transfer
    GET    /api/transfers                  List transfers (paginated)
    DELETE /api/transfers/{id}            Roll back a transfer

  Reporting:
    GET    /api/dashboard                  Aggregated dashboard (month, year)

  Spending:
    POST   /api/expenses                   Record an expense
    POST   /api/bills/{id}/pay             Pay a bill

IDENTITY:
  Every request carries X-User-ID, set by the upstream auth proxy. The
  identity middleware in server.go rejects requests without it; handlers
  read the verified value from the request context.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (already reversed, duplicate opening balance)
  - 503: Transient failure, safe to retry
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/finbook/finbook/dashboard"
	"github.com/finbook/finbook/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       ledger.TxRepository
	Poster      *ledger.Poster
	Reverser    *ledger.Reverser
	Coordinator *ledger.Coordinator
	Calc        *ledger.Calculator
	Assembler   *dashboard.Assembler
	Log         *zap.Logger
}

// NewHandler wires the handler from a store and logger.
func NewHandler(store ledger.TxRepository, asm *dashboard.Assembler, log *zap.Logger) *Handler {
	return &Handler{
		Store:       store,
		Poster:      ledger.NewPoster(store, log),
		Reverser:    ledger.NewReverser(store, log),
		Coordinator: ledger.NewCoordinator(store, log),
		Calc:        ledger.NewCalculator(store),
		Assembler:   asm,
		Log:         log,
	}
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// ListEntries returns ledger entries with optional filters and totals.
// GET /api/ledger?account=&card=&from=&to=
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())

	f := ledger.EntryFilter{
		AccountID: r.URL.Query().Get("account"),
		CardID:    r.URL.Query().Get("card"),
	}
	if s := r.URL.Query().Get("from"); s != "" {
		t, err := parseDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from date", err)
			return
		}
		f.From = &t
	}
	if s := r.URL.Query().Get("to"); s != "" {
		t, err := parseDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to date", err)
			return
		}
		f.To = &t
	}

	entries, err := h.Store.ListEntries(r.Context(), userID, f)
	if err != nil {
		h.handleError(w, "Failed to list entries", err)
		return
	}

	resp := ListEntriesResponse{Entries: make([]EntryDTO, 0, len(entries))}
	inflow, outflow := decimal.Zero, decimal.Zero
	for _, e := range entries {
		resp.Entries = append(resp.Entries, toEntryDTO(e))
		if e.Reversed {
			continue
		}
		if e.Kind == ledger.KindOutflow {
			outflow = outflow.Add(e.Amount)
		} else {
			inflow = inflow.Add(e.Amount)
		}
	}
	resp.TotalInflow = jsonMoney(inflow)
	resp.TotalOutflow = jsonMoney(outflow)

	// The running balance is meaningful per account, so it is reported only
	// when the caller filtered on one.
	if f.AccountID != "" {
		asOf := h.Coordinator.Now().UTC()
		if f.To != nil {
			asOf = *f.To
		}
		balance, err := h.Calc.AsOf(r.Context(), userID, f.AccountID, asOf)
		if err != nil {
			h.handleError(w, "Failed to compute balance", err)
			return
		}
		b := jsonMoney(balance)
		resp.TotalBalance = &b
	}

	writeJSON(w, http.StatusOK, resp)
}

// CreateEntry posts a manual inflow or outflow.
// POST /api/ledger
func (h *Handler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())

	var req ManualEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	entry, err := h.Poster.Manual(r.Context(), userID, ledger.ManualInput{
		AccountID: req.AccountID,
		CardID:    req.CardID,
		Kind:      ledger.EntryKind(req.Kind),
		Amount:    decimal.NewFromFloat(req.Amount),
		Date:      date,
		Reason:    req.Reason,
	})
	if err != nil {
		h.handleError(w, "Failed to post entry", err)
		return
	}

	h.Assembler.InvalidateUser(userID)
	writeJSON(w, http.StatusCreated, toEntryDTO(*entry))
}

// CreateOpeningBalance posts the account's opening balance.
// POST /api/ledger/opening-balance
func (h *Handler) CreateOpeningBalance(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())

	var req OpeningBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	entry, err := h.Poster.OpeningBalance(r.Context(), userID, req.AccountID,
		decimal.NewFromFloat(req.Amount), date)
	if err != nil {
		h.handleError(w, "Failed to post opening balance", err)
		return
	}

	h.Assembler.InvalidateUser(userID)
	writeJSON(w, http.StatusCreated, toEntryDTO(*entry))
}

// ReverseEntry reverses a ledger entry.
// POST /api/ledger/{id}/reverse
func (h *Handler) ReverseEntry(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	entryID := chi.URLParam(r, "id")

	compensation, err := h.Reverser.Reverse(r.Context(), userID, entryID)
	if err != nil {
		h.handleError(w, "Failed to reverse entry", err)
		return
	}

	resp := ReversalResponse{EntryID: entryID, Reversed: true}
	if compensation != nil {
		dto := toEntryDTO(*compensation)
		resp.Compensation = &dto
	}

	h.Assembler.InvalidateUser(userID)
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// TRANSFER HANDLERS
// =============================================================================

// CreateTransfer moves money between two accounts.
// POST /api/transfers
func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())

	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Coordinator.Create(r.Context(), userID,
		req.SourceAccountID, req.DestinationAccountID,
		decimal.NewFromFloat(req.Amount), req.Reason)
	if err != nil {
		h.handleError(w, "Failed to create transfer", err)
		return
	}

	h.Assembler.InvalidateUser(userID)
	writeJSON(w, http.StatusCreated, TransferCreatedResponse{
		GroupID:     result.GroupID,
		OutflowID:   result.OutflowID,
		InflowID:    result.InflowID,
		Source:      result.Source,
		Destination: result.Destination,
		Amount:      jsonMoney(result.Amount),
		At:          result.At.UTC().Format(time.RFC3339),
	})
}

// ListTransfers returns transfers, newest first.
// GET /api/transfers?page=&limit=
func (h *Handler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	result, err := h.Coordinator.List(r.Context(), userID, page, limit)
	if err != nil {
		h.handleError(w, "Failed to list transfers", err)
		return
	}

	resp := TransferPageResponse{
		Transfers: make([]TransferDTO, 0, len(result.Transfers)),
		Page:      result.PageNum,
		Limit:     result.Limit,
		Total:     result.Total,
	}
	for _, v := range result.Transfers {
		resp.Transfers = append(resp.Transfers, TransferDTO{
			EntryID:     v.EntryID,
			GroupID:     v.GroupID,
			Source:      v.Source,
			Destination: v.Destination,
			Amount:      jsonMoney(v.Amount),
			At:          v.At.UTC().Format(time.RFC3339),
			Reason:      v.Reason,
			PairFound:   v.PairFound,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// DeleteTransfer rolls back a transfer, removing both legs.
// DELETE /api/transfers/{id}
func (h *Handler) DeleteTransfer(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	entryID := chi.URLParam(r, "id")

	deletion, err := h.Coordinator.Delete(r.Context(), userID, entryID)
	if err != nil {
		h.handleError(w, "Failed to delete transfer", err)
		return
	}

	h.Assembler.InvalidateUser(userID)
	writeJSON(w, http.StatusOK, TransferDeletedResponse{LegsRemoved: deletion.LegsRemoved})
}

// =============================================================================
// DASHBOARD HANDLER
// =============================================================================

// GetDashboard returns the aggregated dashboard for one month.
// GET /api/dashboard?month=&year=
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())

	month, err := strconv.Atoi(r.URL.Query().Get("month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month", err)
		return
	}
	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}

	doc, err := h.Assembler.Dashboard(r.Context(), userID, month, year)
	if err != nil {
		h.handleError(w, "Failed to build dashboard", err)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// =============================================================================
// SPENDING HANDLERS
// =============================================================================

// CreateExpense records an expense and its ledger entry.
// POST /api/expenses
func (h *Handler) CreateExpense(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())

	var req ExpenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	entry, err := h.Poster.PostExpense(r.Context(), ledger.Expense{
		UserID:        userID,
		Amount:        decimal.NewFromFloat(req.Amount),
		Date:          date,
		GroupID:       req.GroupID,
		SubgroupName:  req.SubgroupName,
		PaymentMethod: req.PaymentMethod,
		CardID:        req.CardID,
		AccountID:     req.AccountID,
	})
	if err != nil {
		h.handleError(w, "Failed to record expense", err)
		return
	}

	h.Assembler.InvalidateUser(userID)
	writeJSON(w, http.StatusCreated, toEntryDTO(*entry))
}

// PayBill marks a bill paid and posts its ledger entry.
// POST /api/bills/{id}/pay
func (h *Handler) PayBill(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	billID := chi.URLParam(r, "id")

	var req PayBillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	when := h.Poster.Now().UTC()
	if req.PaymentDate != "" {
		t, err := parseDate(req.PaymentDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid paymentDate format (use YYYY-MM-DD)", err)
			return
		}
		when = t
	}

	entry, err := h.Poster.PayBill(r.Context(), userID, billID, req.AccountID, req.PaymentMethod, when)
	if err != nil {
		h.handleError(w, "Failed to pay bill", err)
		return
	}

	h.Assembler.InvalidateUser(userID)
	writeJSON(w, http.StatusOK, toEntryDTO(*entry))
}

// =============================================================================
// ERROR MAPPING AND RESPONSE HELPERS
// =============================================================================

// handleError maps domain errors onto HTTP status codes. Anything not in
// the taxonomy is a 500 and gets logged; classified errors are the
// client's problem and are not.
func (h *Handler) handleError(w http.ResponseWriter, message string, err error) {
	switch {
	case ledger.IsValidation(err):
		writeError(w, http.StatusBadRequest, message, err)
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case ledger.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case ledger.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, message, err)
	default:
		h.Log.Error(message, zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
