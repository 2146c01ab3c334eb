package ledger

import (
	"fmt"

	"github.com/possync/reconcile/internal/domain/models"
	"github.com/possync/reconcile/internal/repository"
)

// Batch accumulates changes against a snapshot of product balances. Every
// change is checked against the balance left by the changes before it, so
// two sales of one product in the same batch see each other.
type Batch struct {
	products map[string]models.Product
	start    map[string]int
	order    []string
	entries  []models.LedgerEntry
}

func NewBatch(products ...models.Product) *Batch {
	b := &Batch{
		products: make(map[string]models.Product),
		start:    make(map[string]int),
	}
	b.Track(products...)
	return b
}

// Track adds products to the snapshot. Products already tracked keep their
// working balance.
func (b *Batch) Track(products ...models.Product) {
	for _, p := range products {
		if _, ok := b.products[p.ID]; ok {
			continue
		}
		b.products[p.ID] = p
		b.start[p.ID] = p.CurrentStock
		b.order = append(b.order, p.ID)
	}
}

// Apply records c against the working balance of productID.
func (b *Batch) Apply(productID string, c Change) (models.LedgerEntry, error) {
	p, ok := b.products[productID]
	if !ok {
		return models.LedgerEntry{}, fmt.Errorf("product %s: %w", productID, repository.ErrNotFound)
	}
	entry, err := Compute(p, c)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	p.CurrentStock = entry.NewStock
	b.products[productID] = p
	b.entries = append(b.entries, entry)
	return entry, nil
}

// Balance returns the working balance of a tracked product.
func (b *Batch) Balance(productID string) (int, bool) {
	p, ok := b.products[productID]
	return p.CurrentStock, ok
}

func (b *Batch) Entries() []models.LedgerEntry {
	return b.entries
}

// Net lists one stock transition per product whose balance moved, in the
// order the products were first tracked.
func (b *Batch) Net() []Transition {
	var out []Transition
	for _, id := range b.order {
		if next := b.products[id].CurrentStock; next != b.start[id] {
			out = append(out, Transition{ProductID: id, Previous: b.start[id], Next: next})
		}
	}
	return out
}

// Transition is a net balance move of one product.
type Transition struct {
	ProductID string
	Previous  int
	Next      int
}
