package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Channel is the payment channel a sale is attributed to.
type Channel string

const (
	ChannelCash        Channel = "cash"
	ChannelCard        Channel = "card"
	ChannelEasyPay     Channel = "easy_pay"
	ChannelCashReceipt Channel = "cash_receipt"
)

// ApprovalChannels lists the channels that arrive through settlement exports.
var ApprovalChannels = []Channel{ChannelCard, ChannelEasyPay, ChannelCashReceipt}

// HasRegistry reports whether the channel keeps a counterparty registry.
func (c Channel) HasRegistry() bool {
	return c == ChannelCard || c == ChannelEasyPay
}

// IsApprovalChannel reports whether approvals can be uploaded for the channel.
func (c Channel) IsApprovalChannel() bool {
	for _, ch := range ApprovalChannels {
		if ch == c {
			return true
		}
	}
	return false
}

// ReceiptKey identifies one physical receipt.
type ReceiptKey struct {
	Date          string `json:"date"`
	ReceiptNumber string `json:"receipt_number"`
}

// NewReceiptKey concatenates terminal and transaction numbers into a key.
func NewReceiptKey(date, terminal, transaction string) ReceiptKey {
	return ReceiptKey{Date: date, ReceiptNumber: terminal + transaction}
}

func (k ReceiptKey) String() string {
	return k.Date + "_" + k.ReceiptNumber
}

// SaleLineItem is one product line of an ingested receipt.
type SaleLineItem struct {
	ID             string          `json:"id"`
	ProductID      string          `json:"product_id"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	SaleDate       string          `json:"sale_date"`
	SaleDateTime   *time.Time      `json:"sale_datetime,omitempty"`
	PaymentType    Channel         `json:"payment_type"`
	CounterpartyID string          `json:"counterparty_id,omitempty"`
	ReceiptNumber  string          `json:"receipt_number"`
	BatchID        string          `json:"batch_id"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Key returns the receipt key the line belongs to.
func (s SaleLineItem) Key() ReceiptKey {
	return ReceiptKey{Date: s.SaleDate, ReceiptNumber: s.ReceiptNumber}
}

// Attribution is the only part of a sale line that changes after insert.
type Attribution struct {
	PaymentType    Channel `json:"payment_type"`
	CounterpartyID string  `json:"counterparty_id,omitempty"`
}
