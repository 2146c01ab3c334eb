// Package ingestion turns parsed sales exports into sale lines, ledger
// entries and product balances. Re-ingesting a receipt replaces it.
package ingestion

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/possync/reconcile/internal/domain/models"
	"github.com/possync/reconcile/internal/lock"
	"github.com/possync/reconcile/internal/repository"
	"github.com/possync/reconcile/internal/service/ledger"
	"github.com/possync/reconcile/internal/tabular"
)

// Rematcher applies persisted approvals to receipts that were just written.
type Rematcher interface {
	RematchReceipts(ctx context.Context, keys []models.ReceiptKey) (models.ApprovalSummary, error)
}

// Options tune one ingestion call.
type Options struct {
	// AllowNegative accepts sale rows even when they drive a balance below zero.
	AllowNegative bool
}

// Settings carries the tunables read from configuration.
type Settings struct {
	SampleSize int
	Retries    int
}

type Controller struct {
	store     repository.Store
	mutator   *ledger.Mutator
	locker    lock.Locker
	rematcher Rematcher
	settings  Settings
	newBatch  func() string
	logger    *zap.Logger
}

// NewController wires the controller. rematcher may be nil.
func NewController(store repository.Store, mutator *ledger.Mutator, locker lock.Locker, rematcher Rematcher, settings Settings, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	return &Controller{
		store:     store,
		mutator:   mutator,
		locker:    locker,
		rematcher: rematcher,
		settings:  settings,
		newBatch:  uuid.NewString,
		logger:    logger,
	}
}

// IngestFiles reconciles files one after the other in the order given. A
// file that cannot be read or parsed is reported and the next one proceeds.
func (c *Controller) IngestFiles(ctx context.Context, files []tabular.File, opts Options) []models.SalesFileSummary {
	summaries := make([]models.SalesFileSummary, 0, len(files))
	for _, f := range files {
		grid, err := f.Grid()
		if err != nil {
			summaries = append(summaries, c.parseFailure(f.Name, err))
			continue
		}
		summaries = append(summaries, c.IngestGrid(ctx, f.Name, grid, opts))
	}
	return summaries
}

// IngestGrid parses a raw sales export and reconciles it.
func (c *Controller) IngestGrid(ctx context.Context, name string, grid tabular.Grid, opts Options) models.SalesFileSummary {
	rows, err := tabular.ParseSales(name, grid)
	if err != nil {
		return c.parseFailure(name, err)
	}
	return c.IngestRows(ctx, name, rows, opts)
}

func (c *Controller) parseFailure(name string, err error) models.SalesFileSummary {
	summary := models.NewSalesFileSummary(name, c.settings.SampleSize)
	summary.ParseError = err.Error()
	c.logger.Warn("sales file rejected", zap.String("file", name), zap.Error(err))
	return summary
}

// IngestRows reconciles already parsed rows as one unit of work. The unit
// is retried when another writer moved a balance it read.
func (c *Controller) IngestRows(ctx context.Context, name string, rows []tabular.SaleRow, opts Options) models.SalesFileSummary {
	batchID := c.newBatch()
	logger := c.logger.With(zap.String("file", name), zap.String("batch_id", batchID))

	summary := c.newSummary(name, batchID, rows)
	if len(rows) == 0 {
		logger.Info("sales file has no rows")
		return summary
	}

	keys := receiptKeys(rows)
	release, err := c.locker.Acquire(ctx, lock.ReceiptKeys(keys))
	if err != nil {
		summary.PersistenceErrors.Add(&models.PersistenceError{Op: "lock receipts", Err: err})
		logger.Error("could not lock receipts", zap.Error(err))
		return summary
	}

	for attempt := 0; ; attempt++ {
		err = c.store.RunInTx(ctx, func(ctx context.Context) error {
			summary = c.newSummary(name, batchID, rows)
			summary.Attempts = attempt + 1
			return c.reconcile(ctx, batchID, rows, keys, opts, &summary, logger)
		})
		if errors.Is(err, repository.ErrStockConflict) && attempt < c.settings.Retries {
			logger.Debug("stock conflict, retrying file", zap.Int("attempt", attempt+1))
			continue
		}
		break
	}
	release()

	if err != nil {
		var persistence *models.PersistenceError
		if !errors.As(err, &persistence) {
			persistence = &models.PersistenceError{Op: "reconcile receipts", Err: err}
		}
		summary.PersistenceErrors.Add(persistence)
		summary.AcceptedCount = 0
		summary.OverwrittenReceiptCount = 0
		logger.Error("sales file not reconciled", zap.Int("attempts", summary.Attempts), zap.Error(err))
		return summary
	}

	if summary.AcceptedCount > 0 && c.rematcher != nil {
		rematched, err := c.rematcher.RematchReceipts(ctx, keys)
		if err != nil {
			logger.Warn("could not attribute ingested receipts", zap.Error(err))
		}
		summary.ReattributedSaleCount = rematched.UpdatedSaleCount
	}

	logger.Info("sales file reconciled",
		zap.Int("parsed_rows", summary.ParsedRows),
		zap.Int("accepted", summary.AcceptedCount),
		zap.Int("overwritten_receipts", summary.OverwrittenReceiptCount),
		zap.Int("unmatched_products", summary.UnmatchedProductErrors.Count),
		zap.Int("insufficient_stock", summary.InsufficientStockErrors.Count),
		zap.Int("attempts", summary.Attempts),
	)
	return summary
}

func (c *Controller) newSummary(name, batchID string, rows []tabular.SaleRow) models.SalesFileSummary {
	summary := models.NewSalesFileSummary(name, c.settings.SampleSize)
	summary.BatchID = batchID
	summary.ParsedRows = len(rows)
	return summary
}

func (c *Controller) reconcile(ctx context.Context, batchID string, rows []tabular.SaleRow, keys []models.ReceiptKey, opts Options, summary *models.SalesFileSummary, logger *zap.Logger) error {
	existing, err := c.store.Sales().FindByReceiptKeys(ctx, keys)
	if err != nil {
		return &models.PersistenceError{Op: "find existing receipts", Err: err}
	}

	catalog, err := c.loadCatalog(ctx, rows, existing)
	if err != nil {
		return err
	}
	batch := ledger.NewBatch(catalog.products...)

	var replaced []models.ReceiptKey
	for _, item := range existing {
		replaced = append(replaced, item.Key())
		if _, ok := batch.Balance(item.ProductID); !ok {
			logger.Warn("replaced sale line references a missing product",
				zap.String("sale_id", item.ID), zap.String("product_id", item.ProductID))
			continue
		}
		if _, err := batch.Apply(item.ProductID, reversal(item)); err != nil {
			return fmt.Errorf("reverse sale line %s: %w", item.ID, err)
		}
	}
	replaced = repository.DistinctKeys(replaced)
	summary.OverwrittenReceiptCount = len(replaced)

	items := make([]models.SaleLineItem, 0, len(rows))
	for _, row := range rows {
		product, ok := catalog.resolve(row)
		if !ok {
			unmatched := &models.UnmatchedProductError{
				Row:           row.Line,
				ReceiptNumber: row.ReceiptKey().ReceiptNumber,
				ProductCode:   row.ProductCode,
				Barcode:       row.Barcode,
			}
			summary.UnmatchedProductErrors.Add(unmatched)
			logger.Debug("row skipped", zap.Error(unmatched))
			continue
		}

		key := row.ReceiptKey()
		_, err := batch.Apply(product.ID, ledger.Change{
			Type:     models.ChangeSale,
			Quantity: row.Quantity,
			Note:     fmt.Sprintf("sale on receipt %s", key),
			Force:    opts.AllowNegative,
		})
		var insufficient *models.InsufficientStockError
		if errors.As(err, &insufficient) {
			summary.InsufficientStockErrors.Add(insufficient)
			logger.Debug("row skipped", zap.Int("row", row.Line), zap.Error(insufficient))
			continue
		}
		if err != nil {
			return fmt.Errorf("row %d: %w", row.Line, err)
		}

		items = append(items, saleLine(row, product.ID, batchID))
	}

	// Stock first: a conflict there aborts the attempt before any sale line
	// is touched, so the retry sees the receipts as they were.
	if err := c.mutator.Commit(ctx, batch); err != nil {
		return err
	}
	if len(replaced) > 0 {
		if _, err := c.store.Sales().DeleteByReceiptKeys(ctx, replaced); err != nil {
			return &models.PersistenceError{Op: "delete replaced receipts", Err: err}
		}
	}
	if len(items) > 0 {
		if _, err := c.store.Sales().InsertMany(ctx, items); err != nil {
			return &models.PersistenceError{Op: "insert sale lines", Err: err}
		}
	}

	summary.AcceptedCount = len(items)
	return nil
}

// reversal undoes the stock effect of a replaced sale line.
func reversal(item models.SaleLineItem) ledger.Change {
	note := fmt.Sprintf("reversal of receipt %s (overwrite)", item.Key())
	if item.Quantity < 0 {
		return ledger.Change{Type: models.ChangeOut, Quantity: -item.Quantity, Note: note, Force: true}
	}
	return ledger.Change{Type: models.ChangeIn, Quantity: item.Quantity, Note: note}
}

func saleLine(row tabular.SaleRow, productID, batchID string) models.SaleLineItem {
	key := row.ReceiptKey()
	return models.SaleLineItem{
		ProductID:      productID,
		Quantity:       row.Quantity,
		UnitPrice:      row.UnitPrice(),
		TotalAmount:    row.SaleAmount,
		DiscountAmount: row.DiscountAmount,
		SaleDate:       key.Date,
		SaleDateTime:   row.SoldAt,
		PaymentType:    models.ChannelCash,
		ReceiptNumber:  key.ReceiptNumber,
		BatchID:        batchID,
	}
}

func receiptKeys(rows []tabular.SaleRow) []models.ReceiptKey {
	keys := make([]models.ReceiptKey, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, row.ReceiptKey())
	}
	return repository.DistinctKeys(keys)
}

// ListSales returns stored sale lines matching filter.
func (c *Controller) ListSales(ctx context.Context, filter repository.SaleFilter) ([]models.SaleLineItem, error) {
	items, err := c.store.Sales().List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	return items, nil
}
