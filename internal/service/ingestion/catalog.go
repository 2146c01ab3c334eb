package ingestion

import (
	"context"

	"github.com/possync/reconcile/internal/domain/models"
	"github.com/possync/reconcile/internal/repository"
	"github.com/possync/reconcile/internal/tabular"
)

// catalog resolves export rows to products by code first, then barcode.
type catalog struct {
	products  []models.Product
	byCode    map[string]models.Product
	byBarcode map[string]models.Product
}

// loadCatalog fetches, in one query each, the products named by rows and
// the products of sale lines about to be replaced.
func (c *Controller) loadCatalog(ctx context.Context, rows []tabular.SaleRow, existing []models.SaleLineItem) (*catalog, error) {
	codes := make([]string, 0, len(rows))
	barcodes := make([]string, 0, len(rows))
	for _, row := range rows {
		codes = append(codes, row.ProductCode)
		barcodes = append(barcodes, row.Barcode)
	}

	found, err := c.store.Products().FindByCodesOrBarcodes(ctx, repository.DistinctStrings(codes), repository.DistinctStrings(barcodes))
	if err != nil {
		return nil, &models.PersistenceError{Op: "resolve products", Err: err}
	}

	cat := &catalog{
		byCode:    make(map[string]models.Product, len(found)),
		byBarcode: make(map[string]models.Product, len(found)),
	}
	seen := make(map[string]struct{}, len(found))
	for _, p := range found {
		cat.add(p, seen)
	}

	var missing []string
	for _, item := range existing {
		if _, ok := seen[item.ProductID]; !ok {
			missing = append(missing, item.ProductID)
		}
	}
	if missing = repository.DistinctStrings(missing); len(missing) > 0 {
		extra, err := c.store.Products().FindByIDs(ctx, missing)
		if err != nil {
			return nil, &models.PersistenceError{Op: "load replaced products", Err: err}
		}
		for _, p := range extra {
			cat.add(p, seen)
		}
	}
	return cat, nil
}

func (cat *catalog) add(p models.Product, seen map[string]struct{}) {
	if _, ok := seen[p.ID]; ok {
		return
	}
	seen[p.ID] = struct{}{}
	cat.products = append(cat.products, p)
	if p.Code != "" {
		if _, taken := cat.byCode[p.Code]; !taken {
			cat.byCode[p.Code] = p
		}
	}
	if p.Barcode != "" {
		if _, taken := cat.byBarcode[p.Barcode]; !taken {
			cat.byBarcode[p.Barcode] = p
		}
	}
}

func (cat *catalog) resolve(row tabular.SaleRow) (models.Product, bool) {
	if row.ProductCode != "" {
		if p, ok := cat.byCode[row.ProductCode]; ok {
			return p, true
		}
	}
	if row.Barcode != "" {
		if p, ok := cat.byBarcode[row.Barcode]; ok {
			return p, true
		}
	}
	return models.Product{}, false
}
