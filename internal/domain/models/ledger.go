package models

import (
	"fmt"
	"time"
)

// ChangeType enumerates the reasons a stock balance moves.
type ChangeType string

const (
	ChangeIn     ChangeType = "in"
	ChangeSale   ChangeType = "sale"
	ChangeOut    ChangeType = "out"
	ChangeAdjust ChangeType = "adjust"
)

// ParseChangeType validates a raw change type value.
func ParseChangeType(raw string) (ChangeType, error) {
	switch ct := ChangeType(raw); ct {
	case ChangeIn, ChangeSale, ChangeOut, ChangeAdjust:
		return ct, nil
	default:
		return "", fmt.Errorf("unknown change type %q", raw)
	}
}

// LedgerEntry is one append-only stock movement. Quantity is always the
// delta applied, so NewStock == PreviousStock + Quantity for every type.
type LedgerEntry struct {
	ID            string     `json:"id"`
	ProductID     string     `json:"product_id"`
	ChangeType    ChangeType `json:"change_type"`
	Quantity      int        `json:"quantity"`
	PreviousStock int        `json:"previous_stock"`
	NewStock      int        `json:"new_stock"`
	Target        *int       `json:"target,omitempty"`
	Note          string     `json:"note"`
	CreatedAt     time.Time  `json:"created_at"`
}
