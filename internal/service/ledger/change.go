package ledger

import (
	"errors"
	"fmt"

	"github.com/possync/reconcile/internal/domain/models"
)

// ErrInvalidChange is returned for malformed change requests.
var ErrInvalidChange = errors.New("invalid stock change")

// Change is one requested stock movement. Quantity is a non-negative
// magnitude for in and out. A sale quantity is negative for a returned
// line. For adjust it is the absolute target.
type Change struct {
	Type     models.ChangeType
	Quantity int
	Note     string
	Force    bool
}

// Delta returns the signed amount the change moves a balance that currently
// stands at previous.
func (c Change) Delta(previous int) (int, error) {
	switch c.Type {
	case models.ChangeIn:
		if c.Quantity < 0 {
			return 0, fmt.Errorf("%w: negative quantity %d", ErrInvalidChange, c.Quantity)
		}
		return c.Quantity, nil
	case models.ChangeOut:
		if c.Quantity < 0 {
			return 0, fmt.Errorf("%w: negative quantity %d", ErrInvalidChange, c.Quantity)
		}
		return -c.Quantity, nil
	case models.ChangeSale:
		return -c.Quantity, nil
	case models.ChangeAdjust:
		return c.Quantity - previous, nil
	default:
		return 0, fmt.Errorf("%w: unknown change type %q", ErrInvalidChange, c.Type)
	}
}

// Compute derives the ledger entry for applying c to product without
// touching any store. An in, sale or out that would leave a negative
// balance fails with *models.InsufficientStockError unless c.Force is set;
// adjust is never rejected for its sign.
func Compute(product models.Product, c Change) (models.LedgerEntry, error) {
	previous := product.CurrentStock
	delta, err := c.Delta(previous)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	next := previous + delta

	if c.Type != models.ChangeAdjust && delta < 0 && next < 0 && !c.Force {
		return models.LedgerEntry{}, &models.InsufficientStockError{
			ProductID:   product.ID,
			ProductName: product.Label(),
			Requested:   -delta,
			Available:   previous,
		}
	}

	entry := models.LedgerEntry{
		ProductID:     product.ID,
		ChangeType:    c.Type,
		Quantity:      delta,
		PreviousStock: previous,
		NewStock:      next,
		Note:          c.Note,
	}
	if c.Type == models.ChangeAdjust {
		target := c.Quantity
		entry.Target = &target
	}
	return entry, nil
}
