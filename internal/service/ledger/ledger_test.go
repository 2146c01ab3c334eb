package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/possync/reconcile/internal/domain/models"
	"github.com/possync/reconcile/internal/repository"
	"github.com/possync/reconcile/internal/repository/memory"
)

func TestComputeSignsAndRejection(t *testing.T) {
	p := models.Product{ID: "a", Name: "Mug", CurrentStock: 5}

	in, err := Compute(p, Change{Type: models.ChangeIn, Quantity: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, in.Quantity)
	assert.Equal(t, 9, in.NewStock)

	sale, err := Compute(p, Change{Type: models.ChangeSale, Quantity: 5})
	require.NoError(t, err)
	assert.Equal(t, -5, sale.Quantity)
	assert.Equal(t, 0, sale.NewStock)

	_, err = Compute(p, Change{Type: models.ChangeOut, Quantity: 6})
	var insufficient *models.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 6, insufficient.Requested)
	assert.Equal(t, 5, insufficient.Available)

	forced, err := Compute(p, Change{Type: models.ChangeOut, Quantity: 6, Force: true})
	require.NoError(t, err)
	assert.Equal(t, -1, forced.NewStock)

	_, err = Compute(p, Change{Type: models.ChangeIn, Quantity: -1})
	assert.ErrorIs(t, err, ErrInvalidChange)
	_, err = Compute(p, Change{Type: "gift", Quantity: 1})
	assert.ErrorIs(t, err, ErrInvalidChange)
}

func TestComputeAdjustStoresDelta(t *testing.T) {
	p := models.Product{ID: "a", CurrentStock: 12}

	entry, err := Compute(p, Change{Type: models.ChangeAdjust, Quantity: 8})
	require.NoError(t, err)
	assert.Equal(t, -4, entry.Quantity)
	assert.Equal(t, 8, entry.NewStock)
	assert.Equal(t, entry.PreviousStock+entry.Quantity, entry.NewStock)
	require.NotNil(t, entry.Target)
	assert.Equal(t, 8, *entry.Target)

	negative, err := Compute(p, Change{Type: models.ChangeAdjust, Quantity: -3})
	require.NoError(t, err)
	assert.Equal(t, -3, negative.NewStock)
}

func TestBatchReservesAcrossChanges(t *testing.T) {
	b := NewBatch(models.Product{ID: "a", CurrentStock: 5}, models.Product{ID: "b", CurrentStock: 1})

	_, err := b.Apply("a", Change{Type: models.ChangeSale, Quantity: 3})
	require.NoError(t, err)
	_, err = b.Apply("a", Change{Type: models.ChangeSale, Quantity: 3})
	var insufficient *models.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 2, insufficient.Available)

	_, err = b.Apply("a", Change{Type: models.ChangeIn, Quantity: 1})
	require.NoError(t, err)
	_, err = b.Apply("a", Change{Type: models.ChangeSale, Quantity: 3})
	require.NoError(t, err)

	_, err = b.Apply("missing", Change{Type: models.ChangeIn, Quantity: 1})
	assert.ErrorIs(t, err, repository.ErrNotFound)

	assert.Len(t, b.Entries(), 3)
	assert.Equal(t, []Transition{{ProductID: "a", Previous: 5, Next: 0}}, b.Net())
}

func TestMutatorApplyWritesEntryAndBalance(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	p, err := store.Products().Save(ctx, models.Product{Code: "A-1", CurrentStock: 10})
	require.NoError(t, err)
	m := NewMutator(store, 3, nil)

	entry, err := m.Apply(ctx, p.ID, Change{Type: models.ChangeOut, Quantity: 4, Note: "damaged"})
	require.NoError(t, err)
	assert.Equal(t, 10, entry.PreviousStock)
	assert.Equal(t, 6, entry.NewStock)

	got, err := store.Products().FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, got.CurrentStock)

	history, err := m.History(ctx, p.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "damaged", history[0].Note)
	assert.False(t, history[0].CreatedAt.IsZero())
}

func TestMutatorApplyRejectsWithoutWriting(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	p, err := store.Products().Save(ctx, models.Product{Code: "A-1", CurrentStock: 2})
	require.NoError(t, err)
	m := NewMutator(store, 3, nil)

	_, err = m.Apply(ctx, p.ID, Change{Type: models.ChangeSale, Quantity: 3})
	var insufficient *models.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)

	history, err := store.Ledger().ListByProduct(ctx, p.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestMutatorRetriesStockConflict(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	p, err := store.Products().Save(ctx, models.Product{Code: "A-1", CurrentStock: 10})
	require.NoError(t, err)
	store.FailNext("products.update_stock", repository.ErrStockConflict)

	m := NewMutator(store, 1, nil)
	entry, err := m.Apply(ctx, p.ID, Change{Type: models.ChangeIn, Quantity: 5})
	require.NoError(t, err)
	assert.Equal(t, 15, entry.NewStock)

	history, err := store.Ledger().ListByProduct(ctx, p.ID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestMutatorGivesUpAfterRetries(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	p, err := store.Products().Save(ctx, models.Product{Code: "A-1", CurrentStock: 10})
	require.NoError(t, err)
	store.FailNext("products.update_stock", repository.ErrStockConflict)
	store.FailNext("products.update_stock", repository.ErrStockConflict)

	m := NewMutator(store, 1, nil)
	_, err = m.Apply(ctx, p.ID, Change{Type: models.ChangeIn, Quantity: 5})
	assert.ErrorIs(t, err, repository.ErrStockConflict)
}

func TestMutatorWrapsPersistenceFailures(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	p, err := store.Products().Save(ctx, models.Product{Code: "A-1", CurrentStock: 10})
	require.NoError(t, err)
	store.FailNext("ledger.append", errors.New("connection reset"))

	_, err = NewMutator(store, 3, nil).Apply(ctx, p.ID, Change{Type: models.ChangeIn, Quantity: 1})
	var persistence *models.PersistenceError
	require.ErrorAs(t, err, &persistence)

	got, err := store.Products().FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.CurrentStock)
}

func TestComputeSaleReturnAddsStock(t *testing.T) {
	entry, err := Compute(models.Product{ID: "a", CurrentStock: 0}, Change{Type: models.ChangeSale, Quantity: -2})
	require.NoError(t, err)
	assert.Equal(t, 2, entry.Quantity)
	assert.Equal(t, 2, entry.NewStock)
}

// unbufferedStore applies every write as it happens; a failed unit of work
// keeps whatever it wrote before failing.
type unbufferedStore struct{ *memory.Store }

func (s unbufferedStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func TestMutatorConflictWritesNothingBeforeBalance(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewStore()
	p, err := mem.Products().Save(ctx, models.Product{Code: "A-1", CurrentStock: 10})
	require.NoError(t, err)
	mem.FailNext("products.update_stock", repository.ErrStockConflict)

	entry, err := NewMutator(unbufferedStore{mem}, 1, nil).Apply(ctx, p.ID, Change{Type: models.ChangeOut, Quantity: 4})
	require.NoError(t, err)
	assert.Equal(t, 6, entry.NewStock)

	history, err := mem.Ledger().ListByProduct(ctx, p.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 10, history[0].PreviousStock)
	assert.Equal(t, 6, history[0].NewStock)
}
