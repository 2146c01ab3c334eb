package models

import (
	"errors"
	"fmt"
)

// ErrParse marks file-fatal parse failures; use errors.Is against it.
var ErrParse = errors.New("parse error")

// ParseError aborts processing of a single file.
type ParseError struct {
	File   string
	Reason string
}

func (e *ParseError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("parse error: %s", e.Reason)
	}
	return fmt.Sprintf("parse error in %s: %s", e.File, e.Reason)
}

// Is lets errors.Is(err, ErrParse) match any ParseError.
func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

// UnmatchedProductError is recorded when neither code nor barcode resolves.
type UnmatchedProductError struct {
	Row           int
	ReceiptNumber string
	ProductCode   string
	Barcode       string
}

func (e *UnmatchedProductError) Error() string {
	return fmt.Sprintf("product not found: %s / %s (receipt %s, row %d)", e.ProductCode, e.Barcode, e.ReceiptNumber, e.Row)
}

// InsufficientStockError is recorded when a deduction would go negative.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: %s (requested %d, available %d)", e.ProductName, e.Requested, e.Available)
}

// UnmatchedApprovalError is recorded when no ingested receipt carries the key.
type UnmatchedApprovalError struct {
	Key          ReceiptKey
	Counterparty string
}

func (e *UnmatchedApprovalError) Error() string {
	if e.Counterparty == "" {
		return fmt.Sprintf("no receipt for approval %s %s", e.Key.Date, e.Key.ReceiptNumber)
	}
	return fmt.Sprintf("no receipt for approval %s %s (%s)", e.Key.Date, e.Key.ReceiptNumber, e.Counterparty)
}

// PersistenceError wraps a failed batch write.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ErrorSample keeps the exact number of errors and the first few messages.
type ErrorSample struct {
	Count   int      `json:"count"`
	Samples []string `json:"samples"`
	limit   int
}

// NewErrorSample builds a sample that retains at most limit messages.
func NewErrorSample(limit int) ErrorSample {
	if limit < 0 {
		limit = 0
	}
	return ErrorSample{Samples: []string{}, limit: limit}
}

// Add counts err and keeps its message while the sample has room.
func (s *ErrorSample) Add(err error) {
	if err == nil {
		return
	}
	s.Count++
	if len(s.Samples) < s.limit {
		s.Samples = append(s.Samples, err.Error())
	}
}

// Truncated reports how many messages were counted but not retained.
func (s ErrorSample) Truncated() int {
	return s.Count - len(s.Samples)
}
