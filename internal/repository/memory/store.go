// Package memory is an in-process implementation of repository.Store. It
// backs the test suites and the STORE_DRIVER=memory mode.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/possync/reconcile/internal/domain/models"
	"github.com/possync/reconcile/internal/repository"
)

type txKey struct{}

type approvalKey struct {
	channel     models.Channel
	date        string
	terminal    string
	transaction string
}

func keyOf(a models.Approval) approvalKey {
	return approvalKey{channel: a.Channel, date: a.ApprovalDate, terminal: a.TerminalNumber, transaction: a.TransactionNumber}
}

type state struct {
	products       map[string]models.Product
	sales          []models.SaleLineItem
	ledger         []models.LedgerEntry
	approvals      map[approvalKey]models.Approval
	counterparties []models.Counterparty
}

func (s state) clone() state {
	c := state{
		products:       make(map[string]models.Product, len(s.products)),
		sales:          append([]models.SaleLineItem(nil), s.sales...),
		ledger:         append([]models.LedgerEntry(nil), s.ledger...),
		approvals:      make(map[approvalKey]models.Approval, len(s.approvals)),
		counterparties: append([]models.Counterparty(nil), s.counterparties...),
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.approvals {
		c.approvals[k] = v
	}
	return c
}

// Store keeps every collection in memory behind one mutex.
type Store struct {
	mu       sync.Mutex
	data     state
	failures map[string][]error
	now      func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		data: state{
			products:  make(map[string]models.Product),
			approvals: make(map[approvalKey]models.Approval),
		},
		failures: make(map[string][]error),
		now:      time.Now,
	}
}

// FailNext makes the next call of op return err. Ops are named
// "<collection>.<method>", e.g. "sales.insert" or "products.update_stock".
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], err)
}

func (s *Store) injected(op string) error {
	queue := s.failures[op]
	if len(queue) == 0 {
		return nil
	}
	s.failures[op] = queue[1:]
	return queue[0]
}

func (s *Store) lock(ctx context.Context) func() {
	if owner, _ := ctx.Value(txKey{}).(*Store); owner == s {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// RunInTx serializes fn against every other store call and restores the
// previous state when fn fails.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if owner, _ := ctx.Value(txKey{}).(*Store); owner == s {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (s *Store) Products() repository.ProductRepository           { return productRepo{s} }
func (s *Store) Sales() repository.SaleRepository                 { return saleRepo{s} }
func (s *Store) Ledger() repository.LedgerRepository              { return ledgerRepo{s} }
func (s *Store) Approvals() repository.ApprovalRepository         { return approvalRepo{s} }
func (s *Store) Counterparties() repository.CounterpartyRepository { return counterpartyRepo{s} }

type productRepo struct{ s *Store }

func (r productRepo) FindByID(ctx context.Context, id string) (models.Product, error) {
	defer r.s.lock(ctx)()
	p, ok := r.s.data.products[id]
	if !ok {
		return models.Product{}, repository.ErrNotFound
	}
	return p, nil
}

func (r productRepo) FindByIDs(ctx context.Context, ids []string) ([]models.Product, error) {
	defer r.s.lock(ctx)()
	out := make([]models.Product, 0, len(ids))
	for _, id := range repository.DistinctStrings(ids) {
		if p, ok := r.s.data.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r productRepo) FindByCodesOrBarcodes(ctx context.Context, codes, barcodes []string) ([]models.Product, error) {
	defer r.s.lock(ctx)()
	codeSet := toSet(codes)
	barcodeSet := toSet(barcodes)
	var out []models.Product
	for _, p := range r.s.data.products {
		_, byCode := codeSet[p.Code]
		_, byBarcode := barcodeSet[p.Barcode]
		if (byCode && p.Code != "") || (byBarcode && p.Barcode != "") {
			out = append(out, p)
		}
	}
	sortProducts(out)
	return out, nil
}

func (r productRepo) FindLowStock(ctx context.Context) ([]models.Product, error) {
	defer r.s.lock(ctx)()
	var out []models.Product
	for _, p := range r.s.data.products {
		if p.IsLowStock() {
			out = append(out, p)
		}
	}
	sortProducts(out)
	return out, nil
}

func (r productRepo) UpdateStock(ctx context.Context, id string, expected, next int) error {
	defer r.s.lock(ctx)()
	if err := r.s.injected("products.update_stock"); err != nil {
		return err
	}
	p, ok := r.s.data.products[id]
	if !ok {
		return repository.ErrNotFound
	}
	if p.CurrentStock != expected {
		return repository.ErrStockConflict
	}
	p.CurrentStock = next
	p.UpdatedAt = r.s.now()
	r.s.data.products[id] = p
	return nil
}

func (r productRepo) Save(ctx context.Context, product models.Product) (models.Product, error) {
	defer r.s.lock(ctx)()
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	product.UpdatedAt = r.s.now()
	r.s.data.products[product.ID] = product
	return product, nil
}

type saleRepo struct{ s *Store }

func (r saleRepo) FindByReceiptKeys(ctx context.Context, keys []models.ReceiptKey) ([]models.SaleLineItem, error) {
	defer r.s.lock(ctx)()
	set := make(map[models.ReceiptKey]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	var out []models.SaleLineItem
	for _, item := range r.s.data.sales {
		if _, ok := set[item.Key()]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func (r saleRepo) FindByReceiptNumbers(ctx context.Context, numbers []string, fromDate, toDate string) ([]models.SaleLineItem, error) {
	defer r.s.lock(ctx)()
	set := toSet(numbers)
	var out []models.SaleLineItem
	for _, item := range r.s.data.sales {
		if _, ok := set[item.ReceiptNumber]; !ok {
			continue
		}
		if item.SaleDate < fromDate || item.SaleDate > toDate {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (r saleRepo) DeleteByReceiptKeys(ctx context.Context, keys []models.ReceiptKey) (int64, error) {
	defer r.s.lock(ctx)()
	if err := r.s.injected("sales.delete"); err != nil {
		return 0, err
	}
	set := make(map[models.ReceiptKey]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	kept := r.s.data.sales[:0:0]
	var deleted int64
	for _, item := range r.s.data.sales {
		if _, ok := set[item.Key()]; ok {
			deleted++
			continue
		}
		kept = append(kept, item)
	}
	r.s.data.sales = kept
	return deleted, nil
}

func (r saleRepo) InsertMany(ctx context.Context, items []models.SaleLineItem) ([]models.SaleLineItem, error) {
	defer r.s.lock(ctx)()
	if err := r.s.injected("sales.insert"); err != nil {
		return nil, err
	}
	out := make([]models.SaleLineItem, len(items))
	now := r.s.now()
	for i, item := range items {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if item.CreatedAt.IsZero() {
			item.CreatedAt = now
		}
		out[i] = item
	}
	r.s.data.sales = append(r.s.data.sales, out...)
	return out, nil
}

func (r saleRepo) SetAttribution(ctx context.Context, ids []string, attribution models.Attribution) (int64, error) {
	defer r.s.lock(ctx)()
	if err := r.s.injected("sales.set_attribution"); err != nil {
		return 0, err
	}
	set := toSet(ids)
	var updated int64
	for i, item := range r.s.data.sales {
		if _, ok := set[item.ID]; !ok {
			continue
		}
		item.PaymentType = attribution.PaymentType
		item.CounterpartyID = attribution.CounterpartyID
		r.s.data.sales[i] = item
		updated++
	}
	return updated, nil
}

func (r saleRepo) List(ctx context.Context, filter repository.SaleFilter) ([]models.SaleLineItem, error) {
	defer r.s.lock(ctx)()
	var out []models.SaleLineItem
	for _, item := range r.s.data.sales {
		if filter.Date != "" && item.SaleDate != filter.Date {
			continue
		}
		if filter.ReceiptNumber != "" && item.ReceiptNumber != filter.ReceiptNumber {
			continue
		}
		out = append(out, item)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

type ledgerRepo struct{ s *Store }

func (r ledgerRepo) Append(ctx context.Context, entries []models.LedgerEntry) error {
	defer r.s.lock(ctx)()
	if err := r.s.injected("ledger.append"); err != nil {
		return err
	}
	now := r.s.now()
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		r.s.data.ledger = append(r.s.data.ledger, e)
	}
	return nil
}

// ListByProduct returns the newest entries first.
func (r ledgerRepo) ListByProduct(ctx context.Context, productID string, limit int) ([]models.LedgerEntry, error) {
	defer r.s.lock(ctx)()
	var out []models.LedgerEntry
	for i := len(r.s.data.ledger) - 1; i >= 0; i-- {
		e := r.s.data.ledger[i]
		if e.ProductID != productID {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

type approvalRepo struct{ s *Store }

func (r approvalRepo) Upsert(ctx context.Context, approvals []models.Approval) error {
	defer r.s.lock(ctx)()
	if err := r.s.injected("approvals.upsert"); err != nil {
		return err
	}
	now := r.s.now()
	for _, a := range approvals {
		k := keyOf(a)
		if existing, ok := r.s.data.approvals[k]; ok {
			a.ID = existing.ID
		}
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		a.UpdatedAt = now
		r.s.data.approvals[k] = a
	}
	return nil
}

func (r approvalRepo) FindUnmatched(ctx context.Context, channel models.Channel) ([]models.Approval, error) {
	defer r.s.lock(ctx)()
	var out []models.Approval
	for _, a := range r.s.data.approvals {
		if a.Matched {
			continue
		}
		if channel != "" && a.Channel != channel {
			continue
		}
		out = append(out, a)
	}
	sortApprovals(out)
	return out, nil
}

func (r approvalRepo) FindByReceiptKeys(ctx context.Context, keys []models.ReceiptKey) ([]models.Approval, error) {
	defer r.s.lock(ctx)()
	set := make(map[models.ReceiptKey]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	var out []models.Approval
	for _, a := range r.s.data.approvals {
		if _, ok := set[a.Key()]; ok {
			out = append(out, a)
		}
	}
	sortApprovals(out)
	return out, nil
}

type counterpartyRepo struct{ s *Store }

func (r counterpartyRepo) FindByNames(ctx context.Context, channel models.Channel, names []string) ([]models.Counterparty, error) {
	defer r.s.lock(ctx)()
	set := toSet(names)
	var out []models.Counterparty
	for _, c := range r.s.data.counterparties {
		if _, ok := set[c.Name]; ok && c.Channel == channel {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r counterpartyRepo) EnsureExists(ctx context.Context, channel models.Channel, names []string, feeRate decimal.Decimal) error {
	defer r.s.lock(ctx)()
	if err := r.s.injected("counterparties.ensure"); err != nil {
		return err
	}
	existing := make(map[string]struct{})
	for _, c := range r.s.data.counterparties {
		if c.Channel == channel {
			existing[c.Name] = struct{}{}
		}
	}
	now := r.s.now()
	for _, name := range repository.DistinctStrings(names) {
		if _, ok := existing[name]; ok {
			continue
		}
		r.s.data.counterparties = append(r.s.data.counterparties, models.Counterparty{
			ID:        uuid.NewString(),
			Channel:   channel,
			Name:      name,
			FeeRate:   feeRate,
			CreatedAt: now,
		})
	}
	return nil
}

func (r counterpartyRepo) List(ctx context.Context, channel models.Channel) ([]models.Counterparty, error) {
	defer r.s.lock(ctx)()
	var out []models.Counterparty
	for _, c := range r.s.data.counterparties {
		if channel == "" || c.Channel == channel {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Channel != out[j].Channel {
			return out[i].Channel < out[j].Channel
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

func sortProducts(products []models.Product) {
	sort.Slice(products, func(i, j int) bool { return products[i].Code < products[j].Code })
}

func sortApprovals(approvals []models.Approval) {
	sort.Slice(approvals, func(i, j int) bool {
		a, b := approvals[i], approvals[j]
		if a.ApprovalDate != b.ApprovalDate {
			return a.ApprovalDate < b.ApprovalDate
		}
		if a.TerminalNumber != b.TerminalNumber {
			return a.TerminalNumber < b.TerminalNumber
		}
		if a.TransactionNumber != b.TransactionNumber {
			return a.TransactionNumber < b.TransactionNumber
		}
		return a.Channel < b.Channel
	})
}
