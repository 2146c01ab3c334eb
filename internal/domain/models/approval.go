package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Approval is a persisted settlement approval row.
type Approval struct {
	ID                string          `json:"id"`
	Channel           Channel         `json:"channel"`
	ApprovalDate      string          `json:"approval_date"`
	TerminalNumber    string          `json:"terminal_number"`
	TransactionNumber string          `json:"transaction_number"`
	CounterpartyName  string          `json:"counterparty_name,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Matched           bool            `json:"matched"`
	MatchedSaleIDs    []string        `json:"matched_sale_ids,omitempty"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Key returns the receipt key the approval settles.
func (a Approval) Key() ReceiptKey {
	return NewReceiptKey(a.ApprovalDate, a.TerminalNumber, a.TransactionNumber)
}

// Counterparty is a card issuer or quick-pay provider.
type Counterparty struct {
	ID        string          `json:"id"`
	Channel   Channel         `json:"channel"`
	Name      string          `json:"name"`
	FeeRate   decimal.Decimal `json:"fee_rate"`
	CreatedAt time.Time       `json:"created_at"`
}
