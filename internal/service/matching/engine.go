// Package matching attaches payment attribution to ingested receipts from
// settlement approval exports. It never changes stock.
package matching

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/possync/reconcile/internal/domain/models"
	"github.com/possync/reconcile/internal/lock"
	"github.com/possync/reconcile/internal/repository"
	"github.com/possync/reconcile/internal/tabular"
)

type Engine struct {
	store      repository.Store
	locker     lock.Locker
	registry   *Registry
	sampleSize int
	logger     *zap.Logger
}

func NewEngine(store repository.Store, locker lock.Locker, registry *Registry, sampleSize int, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:      store,
		locker:     locker,
		registry:   registry,
		sampleSize: sampleSize,
		logger:     logger,
	}
}

// IngestFiles processes approval exports of one channel in order.
func (e *Engine) IngestFiles(ctx context.Context, channel models.Channel, files []tabular.File) []models.ApprovalSummary {
	summaries := make([]models.ApprovalSummary, 0, len(files))
	for _, f := range files {
		grid, err := f.Grid()
		if err != nil {
			summaries = append(summaries, e.parseFailure(f.Name, channel, err))
			continue
		}
		summaries = append(summaries, e.IngestGrid(ctx, f.Name, channel, grid))
	}
	return summaries
}

// IngestGrid parses a settlement export and matches its rows.
func (e *Engine) IngestGrid(ctx context.Context, name string, channel models.Channel, grid tabular.Grid) models.ApprovalSummary {
	rows, err := tabular.ParseApprovals(name, channel, grid)
	if err != nil {
		return e.parseFailure(name, channel, err)
	}
	return e.IngestRows(ctx, name, channel, rows)
}

func (e *Engine) parseFailure(name string, channel models.Channel, err error) models.ApprovalSummary {
	summary := models.NewApprovalSummary(name, channel, e.sampleSize)
	summary.ParseError = err.Error()
	e.logger.Warn("approval file rejected", zap.String("file", name), zap.String("channel", string(channel)), zap.Error(err))
	return summary
}

// IngestRows persists approvals and attributes every receipt they name.
// Approvals whose receipt is not ingested yet are kept unmatched for a later
// Rematch.
func (e *Engine) IngestRows(ctx context.Context, name string, channel models.Channel, rows []tabular.ApprovalRow) models.ApprovalSummary {
	summary := models.NewApprovalSummary(name, channel, e.sampleSize)
	summary.ParsedRows = len(rows)
	if !channel.IsApprovalChannel() {
		summary.ParseError = (&models.ParseError{File: name, Reason: fmt.Sprintf("unknown channel %q", channel)}).Error()
		return summary
	}
	if len(rows) == 0 {
		return summary
	}

	approvals := fromRows(channel, rows)
	e.run(ctx, approvals, &summary)
	e.logSummary("approval file matched", summary)
	return summary
}

// Rematch retries every unmatched approval of channel, or of all channels
// when channel is empty.
func (e *Engine) Rematch(ctx context.Context, channel models.Channel) (models.ApprovalSummary, error) {
	summary := models.NewApprovalSummary("", channel, e.sampleSize)
	pending, err := e.store.Approvals().FindUnmatched(ctx, channel)
	if err != nil {
		return summary, fmt.Errorf("find unmatched approvals: %w", err)
	}
	summary.ParsedRows = len(pending)
	if len(pending) == 0 {
		return summary, nil
	}
	e.run(ctx, pending, &summary)
	e.logSummary("rematch finished", summary)
	return summary, nil
}

// RematchReceipts re-applies every stored approval, matched or not, that
// names one of keys. Replaced receipts get their attribution back this way.
func (e *Engine) RematchReceipts(ctx context.Context, keys []models.ReceiptKey) (models.ApprovalSummary, error) {
	summary := models.NewApprovalSummary("", "", e.sampleSize)
	if len(keys) == 0 {
		return summary, nil
	}
	stored, err := e.store.Approvals().FindByReceiptKeys(ctx, keys)
	if err != nil {
		return summary, fmt.Errorf("find approvals of receipts: %w", err)
	}
	summary.ParsedRows = len(stored)
	if len(stored) == 0 {
		return summary, nil
	}
	e.run(ctx, stored, &summary)
	if summary.PersistenceErrors.Count > 0 {
		return summary, errors.New(strings.Join(summary.PersistenceErrors.Samples, "; "))
	}
	e.logSummary("receipts reattributed", summary)
	return summary, nil
}

func (e *Engine) run(ctx context.Context, approvals []models.Approval, summary *models.ApprovalSummary) {
	ids, err := e.resolveCounterparties(ctx, approvals)
	if err != nil {
		summary.PersistenceErrors.Add(&models.PersistenceError{Op: "resolve counterparties", Err: err})
		return
	}

	keys := make([]models.ReceiptKey, 0, len(approvals))
	for _, a := range approvals {
		keys = append(keys, a.Key())
	}
	release, err := e.locker.Acquire(ctx, lock.ReceiptKeys(keys))
	if err != nil {
		summary.PersistenceErrors.Add(&models.PersistenceError{Op: "lock receipts", Err: err})
		return
	}
	defer release()

	var result models.ApprovalSummary
	err = e.store.RunInTx(ctx, func(ctx context.Context) error {
		result = *summary
		return e.apply(ctx, approvals, ids, &result)
	})
	if err != nil {
		var persistence *models.PersistenceError
		if !errors.As(err, &persistence) {
			persistence = &models.PersistenceError{Op: "match approvals", Err: err}
		}
		summary.PersistenceErrors.Add(persistence)
		e.logger.Error("approval batch rolled back", zap.Error(err))
		return
	}
	*summary = result
}

func (e *Engine) resolveCounterparties(ctx context.Context, approvals []models.Approval) (map[models.Channel]map[string]string, error) {
	names := make(map[models.Channel][]string)
	for _, a := range approvals {
		if a.Channel.HasRegistry() && a.CounterpartyName != "" {
			names[a.Channel] = append(names[a.Channel], a.CounterpartyName)
		}
	}
	out := make(map[models.Channel]map[string]string, len(names))
	for channel, list := range names {
		ids, err := e.registry.Resolve(ctx, channel, list)
		if err != nil {
			return nil, err
		}
		out[channel] = ids
	}
	return out, nil
}

// apply matches approvals against stored sale lines and persists both the
// attribution and the approval state. Approvals are applied in slice order,
// so when two approvals name one receipt the later one wins.
func (e *Engine) apply(ctx context.Context, approvals []models.Approval, counterparties map[models.Channel]map[string]string, summary *models.ApprovalSummary) error {
	numbers := make([]string, 0, len(approvals))
	from, to := approvals[0].ApprovalDate, approvals[0].ApprovalDate
	for _, a := range approvals {
		numbers = append(numbers, a.Key().ReceiptNumber)
		if a.ApprovalDate < from {
			from = a.ApprovalDate
		}
		if a.ApprovalDate > to {
			to = a.ApprovalDate
		}
	}

	lines, err := e.store.Sales().FindByReceiptNumbers(ctx, repository.DistinctStrings(numbers), from, to)
	if err != nil {
		return &models.PersistenceError{Op: "find receipts", Err: err}
	}
	index := make(map[models.ReceiptKey][]string)
	for _, line := range lines {
		index[line.Key()] = append(index[line.Key()], line.ID)
	}

	updated := make([]models.Approval, 0, len(approvals))
	for _, a := range approvals {
		ids := index[a.Key()]
		if len(ids) == 0 {
			a.Matched = false
			a.MatchedSaleIDs = nil
			summary.UnmatchedApprovals.Add(&models.UnmatchedApprovalError{Key: a.Key(), Counterparty: a.CounterpartyName})
			updated = append(updated, a)
			continue
		}

		attribution := models.Attribution{
			PaymentType:    a.Channel,
			CounterpartyID: counterparties[a.Channel][a.CounterpartyName],
		}
		n, err := e.store.Sales().SetAttribution(ctx, ids, attribution)
		if err != nil {
			return &models.PersistenceError{Op: "attribute receipt " + a.Key().String(), Err: err}
		}
		a.Matched = true
		a.MatchedSaleIDs = append([]string(nil), ids...)
		summary.MatchedCount++
		summary.UpdatedSaleCount += int(n)
		updated = append(updated, a)
	}

	if err := e.store.Approvals().Upsert(ctx, updated); err != nil {
		return &models.PersistenceError{Op: "store approvals", Err: err}
	}
	return nil
}

func (e *Engine) logSummary(msg string, s models.ApprovalSummary) {
	e.logger.Info(msg,
		zap.String("file", s.FileName),
		zap.String("channel", string(s.Channel)),
		zap.Int("rows", s.ParsedRows),
		zap.Int("matched", s.MatchedCount),
		zap.Int("updated_sales", s.UpdatedSaleCount),
		zap.Int("unmatched", s.UnmatchedApprovals.Count),
		zap.Int("persistence_errors", s.PersistenceErrors.Count),
	)
}

// Counterparties lists the registry of channel.
func (e *Engine) Counterparties(ctx context.Context, channel models.Channel) ([]models.Counterparty, error) {
	return e.registry.List(ctx, channel)
}

func fromRows(channel models.Channel, rows []tabular.ApprovalRow) []models.Approval {
	approvals := make([]models.Approval, 0, len(rows))
	for _, row := range rows {
		approvals = append(approvals, models.Approval{
			Channel:           channel,
			ApprovalDate:      row.Date,
			TerminalNumber:    row.TerminalNumber,
			TransactionNumber: row.TransactionNumber,
			CounterpartyName:  strings.TrimSpace(row.Counterparty),
			Amount:            row.Amount,
		})
	}
	return approvals
}
