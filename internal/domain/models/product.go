package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the reference-data record whose stock balance the ledger owns.
type Product struct {
	ID                string          `json:"id"`
	Code              string          `json:"product_code"`
	Barcode           string          `json:"barcode,omitempty"`
	Name              string          `json:"name"`
	Price             decimal.Decimal `json:"price"`
	CurrentStock      int             `json:"current_stock"`
	OptimalStock      int             `json:"optimal_stock"`
	LowStockThreshold int             `json:"low_stock_threshold"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// IsLowStock reports whether the balance is at or below the alert threshold.
func (p Product) IsLowStock() bool {
	return p.CurrentStock <= p.LowStockThreshold
}

// Label is the human readable name used in error messages and reports.
func (p Product) Label() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Code
}
