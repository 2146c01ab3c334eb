// Package repository declares the persistence contracts the reconciliation
// services depend on. Implementations live in the mongodb and memory
// subpackages.
package repository

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/possync/reconcile/internal/domain/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrStockConflict is returned when a conditional stock write finds a
	// balance different from the one the caller read.
	ErrStockConflict = errors.New("stock balance changed concurrently")
)

// ProductRepository reads products and owns the conditional balance write.
type ProductRepository interface {
	FindByID(ctx context.Context, id string) (models.Product, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.Product, error)
	// FindByCodesOrBarcodes returns every product whose code is in codes or
	// whose barcode is in barcodes, in one round trip.
	FindByCodesOrBarcodes(ctx context.Context, codes, barcodes []string) ([]models.Product, error)
	FindLowStock(ctx context.Context) ([]models.Product, error)
	// UpdateStock sets current_stock to next only when it still equals
	// expected; otherwise it returns ErrStockConflict.
	UpdateStock(ctx context.Context, id string, expected, next int) error
	Save(ctx context.Context, product models.Product) (models.Product, error)
}

// SaleFilter narrows sale listings; empty fields match everything.
type SaleFilter struct {
	Date          string
	ReceiptNumber string
	Limit         int
}

// SaleRepository stores sale line items.
type SaleRepository interface {
	FindByReceiptKeys(ctx context.Context, keys []models.ReceiptKey) ([]models.SaleLineItem, error)
	// FindByReceiptNumbers returns lines whose receipt number is in numbers
	// and whose sale date lies in [fromDate, toDate].
	FindByReceiptNumbers(ctx context.Context, numbers []string, fromDate, toDate string) ([]models.SaleLineItem, error)
	DeleteByReceiptKeys(ctx context.Context, keys []models.ReceiptKey) (int64, error)
	// InsertMany stores items and returns them with ids assigned.
	InsertMany(ctx context.Context, items []models.SaleLineItem) ([]models.SaleLineItem, error)
	SetAttribution(ctx context.Context, ids []string, attribution models.Attribution) (int64, error)
	List(ctx context.Context, filter SaleFilter) ([]models.SaleLineItem, error)
}

// LedgerRepository is append-only.
type LedgerRepository interface {
	Append(ctx context.Context, entries []models.LedgerEntry) error
	ListByProduct(ctx context.Context, productID string, limit int) ([]models.LedgerEntry, error)
}

// ApprovalRepository stores settlement approvals keyed by
// (channel, date, terminal, transaction).
type ApprovalRepository interface {
	Upsert(ctx context.Context, approvals []models.Approval) error
	FindUnmatched(ctx context.Context, channel models.Channel) ([]models.Approval, error)
	FindByReceiptKeys(ctx context.Context, keys []models.ReceiptKey) ([]models.Approval, error)
}

// CounterpartyRepository stores per-channel counterparty registries.
type CounterpartyRepository interface {
	FindByNames(ctx context.Context, channel models.Channel, names []string) ([]models.Counterparty, error)
	// EnsureExists registers the missing names with feeRate and leaves
	// existing entries untouched.
	EnsureExists(ctx context.Context, channel models.Channel, names []string, feeRate decimal.Decimal) error
	List(ctx context.Context, channel models.Channel) ([]models.Counterparty, error)
}

// Store groups the repositories and the unit-of-work boundary.
type Store interface {
	Products() ProductRepository
	Sales() SaleRepository
	Ledger() LedgerRepository
	Approvals() ApprovalRepository
	Counterparties() CounterpartyRepository

	// RunInTx runs fn as one unit of work. Repository calls made with the
	// context passed to fn take part in it; when fn returns an error none of
	// its writes are kept.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// DistinctKeys returns keys without duplicates, keeping first-seen order.
func DistinctKeys(keys []models.ReceiptKey) []models.ReceiptKey {
	seen := make(map[models.ReceiptKey]struct{}, len(keys))
	out := make([]models.ReceiptKey, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// DistinctStrings drops blanks and duplicates, keeping first-seen order.
func DistinctStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
