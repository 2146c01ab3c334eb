// Package ledger is the only writer of product balances and ledger entries.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/possync/reconcile/internal/domain/models"
	"github.com/possync/reconcile/internal/repository"
)

// Mutator persists stock changes.
type Mutator struct {
	store   repository.Store
	retries int
	now     func() time.Time
	logger  *zap.Logger
}

// NewMutator builds a mutator that retries a conflicting write up to
// retries extra times.
func NewMutator(store repository.Store, retries int, logger *zap.Logger) *Mutator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retries < 0 {
		retries = 0
	}
	return &Mutator{store: store, retries: retries, now: time.Now, logger: logger}
}

// Apply changes one product's balance and records the entry, as its own
// unit of work.
func (m *Mutator) Apply(ctx context.Context, productID string, c Change) (models.LedgerEntry, error) {
	var entry models.LedgerEntry
	for attempt := 0; ; attempt++ {
		err := m.store.RunInTx(ctx, func(ctx context.Context) error {
			product, err := m.store.Products().FindByID(ctx, productID)
			if err != nil {
				return fmt.Errorf("load product %s: %w", productID, err)
			}
			b := NewBatch(product)
			if entry, err = b.Apply(productID, c); err != nil {
				return err
			}
			return m.Commit(ctx, b)
		})
		if errors.Is(err, repository.ErrStockConflict) && attempt < m.retries {
			m.logger.Debug("stock conflict, retrying", zap.String("product_id", productID), zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return models.LedgerEntry{}, err
		}
		m.logger.Info("stock changed",
			zap.String("product_id", productID),
			zap.String("change_type", string(entry.ChangeType)),
			zap.Int("previous_stock", entry.PreviousStock),
			zap.Int("new_stock", entry.NewStock),
		)
		return entry, nil
	}
}

// Commit writes the batch: one conditional balance write per product that
// moved, then one append of all entries. The balance writes go first so a
// conflict on the first product leaves nothing behind. Commit must still run
// inside a unit of work: a conflict on a later product, or a failed append,
// is only undone by the store's rollback.
func (m *Mutator) Commit(ctx context.Context, b *Batch) error {
	entries := b.Entries()
	if len(entries) == 0 {
		return nil
	}
	for _, t := range b.Net() {
		if err := m.store.Products().UpdateStock(ctx, t.ProductID, t.Previous, t.Next); err != nil {
			if errors.Is(err, repository.ErrStockConflict) {
				return fmt.Errorf("product %s: %w", t.ProductID, err)
			}
			return &models.PersistenceError{Op: "update stock of " + t.ProductID, Err: err}
		}
	}
	now := m.now()
	stamped := make([]models.LedgerEntry, len(entries))
	for i, e := range entries {
		e.CreatedAt = now
		stamped[i] = e
	}
	if err := m.store.Ledger().Append(ctx, stamped); err != nil {
		return &models.PersistenceError{Op: "append ledger entries", Err: err}
	}
	return nil
}

// History returns the newest entries of a product.
func (m *Mutator) History(ctx context.Context, productID string, limit int) ([]models.LedgerEntry, error) {
	if _, err := m.store.Products().FindByID(ctx, productID); err != nil {
		return nil, fmt.Errorf("load product %s: %w", productID, err)
	}
	entries, err := m.store.Ledger().ListByProduct(ctx, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger of %s: %w", productID, err)
	}
	return entries, nil
}

// LowStock lists products at or below their alert threshold.
func (m *Mutator) LowStock(ctx context.Context) ([]models.Product, error) {
	products, err := m.store.Products().FindLowStock(ctx)
	if err != nil {
		return nil, fmt.Errorf("find low stock: %w", err)
	}
	return products, nil
}
