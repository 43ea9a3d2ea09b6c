/*
dto.go - Request/response data structures for the HTTP API

Amounts cross the wire as JSON numbers rounded to two decimals; rounding
happens only here, at the boundary. Dates are accepted as YYYY-MM-DD or
RFC3339 and always reported as RFC3339 UTC.
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/finbook/finbook/ledger"
)

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// REQUESTS
// =============================================================================

type ManualEntryRequest struct {
	AccountID string  `json:"accountId"`
	CardID    string  `json:"cardId,omitempty"`
	Kind      string  `json:"kind"` // "inflow" or "outflow"
	Amount    float64 `json:"amount"`
	Date      string  `json:"date"`
	Reason    string  `json:"reason,omitempty"`
}

type OpeningBalanceRequest struct {
	AccountID string  `json:"accountId"`
	Amount    float64 `json:"amount"`
	Date      string  `json:"date"`
}

type TransferRequest struct {
	SourceAccountID      string  `json:"sourceAccountId"`
	DestinationAccountID string  `json:"destinationAccountId"`
	Amount               float64 `json:"amount"`
	Reason               string  `json:"reason,omitempty"`
}

type ExpenseRequest struct {
	Amount        float64 `json:"amount"`
	Date          string  `json:"date"`
	GroupID       string  `json:"groupId"`
	SubgroupName  string  `json:"subgroupName"`
	PaymentMethod string  `json:"paymentMethod,omitempty"`
	CardID        string  `json:"cardId,omitempty"`
	AccountID     string  `json:"accountId"`
}

type PayBillRequest struct {
	AccountID     string `json:"accountId"`
	PaymentMethod string `json:"paymentMethod,omitempty"`
	PaymentDate   string `json:"paymentDate,omitempty"` // defaults to now
}

// =============================================================================
// RESPONSES
// =============================================================================

type EntryDTO struct {
	ID         string  `json:"id"`
	AccountID  string  `json:"accountId"`
	CardID     string  `json:"cardId,omitempty"`
	Kind       string  `json:"kind"`
	Amount     float64 `json:"amount"`
	OccurredAt string  `json:"occurredAt"`
	Reason     string  `json:"reason,omitempty"`
	OriginType string  `json:"originType"`
	OriginRef  string  `json:"originRef,omitempty"`
	Reversed   bool    `json:"reversed"`
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	return EntryDTO{
		ID:         e.ID,
		AccountID:  e.AccountID,
		CardID:     e.CardID,
		Kind:       string(e.Kind),
		Amount:     jsonMoney(e.Amount),
		OccurredAt: e.OccurredAt.UTC().Format(time.RFC3339),
		Reason:     e.Reason,
		OriginType: string(e.Origin.Type),
		OriginRef:  e.Origin.RefID,
		Reversed:   e.Reversed,
	}
}

// ListEntriesResponse carries the entries plus period totals. TotalBalance
// is present only when the request filtered on a single account.
type ListEntriesResponse struct {
	Entries      []EntryDTO `json:"entries"`
	TotalInflow  float64    `json:"totalInflow"`
	TotalOutflow float64    `json:"totalOutflow"`
	TotalBalance *float64   `json:"totalBalance,omitempty"`
}

type ReversalResponse struct {
	EntryID      string    `json:"entryId"`
	Reversed     bool      `json:"reversed"`
	Compensation *EntryDTO `json:"compensation,omitempty"`
}

type TransferCreatedResponse struct {
	GroupID     string  `json:"groupId"`
	OutflowID   string  `json:"outflowId"`
	InflowID    string  `json:"inflowId"`
	Source      string  `json:"source"`
	Destination string  `json:"destination"`
	Amount      float64 `json:"amount"`
	At          string  `json:"at"`
}

type TransferDTO struct {
	EntryID     string  `json:"entryId"`
	GroupID     string  `json:"groupId,omitempty"`
	Source      string  `json:"source"`
	Destination string  `json:"destination,omitempty"`
	Amount      float64 `json:"amount"`
	At          string  `json:"at"`
	Reason      string  `json:"reason,omitempty"`
	PairFound   bool    `json:"pairFound"`
}

type TransferPageResponse struct {
	Transfers []TransferDTO `json:"transfers"`
	Page      int           `json:"page"`
	Limit     int           `json:"limit"`
	Total     int           `json:"total"`
}

type TransferDeletedResponse struct {
	LegsRemoved int `json:"legsRemoved"`
}

// =============================================================================
// HELPERS
// =============================================================================

func jsonMoney(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}

// parseDate accepts YYYY-MM-DD or RFC3339.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
