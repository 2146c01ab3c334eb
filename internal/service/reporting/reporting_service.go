package reporting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/possync/reconcile/internal/domain/models"
	"github.com/possync/reconcile/internal/service/notify"
)

const dateLayout = "2006-01-02"

// LowStockSource lists products at or below their alert threshold.
type LowStockSource interface {
	LowStock(ctx context.Context) ([]models.Product, error)
}

// SheetWriter appends one row to a spreadsheet range.
type SheetWriter interface {
	WriteRow(ctx context.Context, sheetRange string, values []interface{}) error
}

// Service renders run summaries and the low-stock report and publishes them.
type Service struct {
	source   LowStockSource
	sender   notify.Sender
	sheet    SheetWriter
	logRange string
	location *time.Location
	now      func() time.Time
	logger   *zap.Logger
}

// NewService wires a new reporting service instance. sheet may be nil, in
// which case runs are not logged to a spreadsheet.
func NewService(source LowStockSource, sender notify.Sender, sheet SheetWriter, logRange string, location *time.Location, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sender == nil {
		sender = notify.Nop{}
	}
	if location == nil {
		location = time.UTC
	}
	return &Service{
		source:   source,
		sender:   sender,
		sheet:    sheet,
		logRange: logRange,
		location: location,
		now:      time.Now,
		logger:   logger,
	}
}

// PublishSales notifies the operator of a sales ingestion run and appends
// one log row per file. Failures are logged, never returned.
func (s *Service) PublishSales(ctx context.Context, summaries []models.SalesFileSummary) {
	if len(summaries) == 0 {
		return
	}
	if err := s.sender.Send(ctx, FormatSales(summaries)); err != nil {
		s.logger.Warn("failed to send sales summary", zap.Error(err))
	}
	stamp := s.now().In(s.location).Format(time.RFC3339)
	for _, sum := range summaries {
		s.appendLog(ctx, []interface{}{
			stamp, "sales", sum.FileName, sum.BatchID, sum.ParsedRows, sum.AcceptedCount, sum.OverwrittenReceiptCount,
			sum.UnmatchedProductErrors.Count, sum.InsufficientStockErrors.Count, sum.PersistenceErrors.Count, sum.ParseError,
		})
	}
}

// PublishApprovals notifies the operator of an approval ingestion or
// re-matching run.
func (s *Service) PublishApprovals(ctx context.Context, summaries []models.ApprovalSummary) {
	if len(summaries) == 0 {
		return
	}
	if err := s.sender.Send(ctx, FormatApprovals(summaries)); err != nil {
		s.logger.Warn("failed to send approval summary", zap.Error(err))
	}
	stamp := s.now().In(s.location).Format(time.RFC3339)
	for _, sum := range summaries {
		s.appendLog(ctx, []interface{}{
			stamp, "approvals:" + string(sum.Channel), sum.FileName, "", sum.ParsedRows, sum.MatchedCount, sum.UpdatedSaleCount,
			sum.UnmatchedApprovals.Count, 0, sum.PersistenceErrors.Count, sum.ParseError,
		})
	}
}

func (s *Service) appendLog(ctx context.Context, row []interface{}) {
	if s.sheet == nil || s.logRange == "" {
		return
	}
	if err := s.sheet.WriteRow(ctx, s.logRange, row); err != nil {
		s.logger.Warn("failed to append upload log row", zap.Error(err))
	}
}

// SendLowStockReport sends the current low-stock list. Nothing is sent when
// every product is above its threshold.
func (s *Service) SendLowStockReport(ctx context.Context) error {
	products, err := s.source.LowStock(ctx)
	if err != nil {
		return fmt.Errorf("load low stock: %w", err)
	}
	if len(products) == 0 {
		s.logger.Info("no product below threshold")
		return nil
	}
	if err := s.sender.Send(ctx, FormatLowStock(products, s.now().In(s.location))); err != nil {
		return fmt.Errorf("send low stock report: %w", err)
	}
	s.logger.Info("low stock report sent", zap.Int("products", len(products)))
	return nil
}

// FormatSales renders sales file summaries as a plain text message.
func FormatSales(summaries []models.SalesFileSummary) string {
	var b strings.Builder
	b.WriteString("Sales upload")
	for _, s := range summaries {
		fmt.Fprintf(&b, "\n\n%s", s.FileName)
		if s.ParseError != "" {
			fmt.Fprintf(&b, "\n  rejected: %s", s.ParseError)
			continue
		}
		fmt.Fprintf(&b, "\n  accepted %d of %d rows, %d receipts overwritten", s.AcceptedCount, s.ParsedRows, s.OverwrittenReceiptCount)
		writeSample(&b, "unknown products", s.UnmatchedProductErrors)
		writeSample(&b, "insufficient stock", s.InsufficientStockErrors)
		writeSample(&b, "store failures", s.PersistenceErrors)
	}
	return b.String()
}

// FormatApprovals renders approval summaries as a plain text message.
func FormatApprovals(summaries []models.ApprovalSummary) string {
	var b strings.Builder
	b.WriteString("Approval matching")
	for _, s := range summaries {
		name := s.FileName
		if name == "" {
			name = "rematch"
		}
		if s.Channel != "" {
			name += " (" + string(s.Channel) + ")"
		}
		fmt.Fprintf(&b, "\n\n%s", name)
		if s.ParseError != "" {
			fmt.Fprintf(&b, "\n  rejected: %s", s.ParseError)
			continue
		}
		fmt.Fprintf(&b, "\n  matched %d of %d approvals, %d sale lines attributed", s.MatchedCount, s.ParsedRows, s.UpdatedSaleCount)
		writeSample(&b, "unmatched", s.UnmatchedApprovals)
		writeSample(&b, "store failures", s.PersistenceErrors)
	}
	return b.String()
}

// FormatLowStock renders the low-stock list.
func FormatLowStock(products []models.Product, at time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Low stock (%s): %d products", at.Format(dateLayout), len(products))
	for _, p := range products {
		fmt.Fprintf(&b, "\n- %s %s: %d (threshold %d, optimal %d)", p.Code, p.Label(), p.CurrentStock, p.LowStockThreshold, p.OptimalStock)
	}
	return b.String()
}

func writeSample(b *strings.Builder, label string, sample models.ErrorSample) {
	if sample.Count == 0 {
		return
	}
	fmt.Fprintf(b, "\n  %s: %d", label, sample.Count)
	for _, msg := range sample.Samples {
		fmt.Fprintf(b, "\n    - %s", msg)
	}
	if more := sample.Truncated(); more > 0 {
		fmt.Fprintf(b, "\n    ... and %d more", more)
	}
}
