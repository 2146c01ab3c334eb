package handlers

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/possync/reconcile/internal/domain/models"
	"github.com/possync/reconcile/internal/repository"
	"github.com/possync/reconcile/internal/service/ingestion"
	"github.com/possync/reconcile/internal/service/ledger"
	"github.com/possync/reconcile/internal/tabular"
)

// SalesIngester reconciles sales exports.
type SalesIngester interface {
	IngestFiles(ctx context.Context, files []tabular.File, opts ingestion.Options) []models.SalesFileSummary
	IngestGrid(ctx context.Context, name string, grid tabular.Grid, opts ingestion.Options) models.SalesFileSummary
	ListSales(ctx context.Context, filter repository.SaleFilter) ([]models.SaleLineItem, error)
}

// ApprovalMatcher attributes receipts from settlement exports.
type ApprovalMatcher interface {
	IngestFiles(ctx context.Context, channel models.Channel, files []tabular.File) []models.ApprovalSummary
	IngestGrid(ctx context.Context, name string, channel models.Channel, grid tabular.Grid) models.ApprovalSummary
	Rematch(ctx context.Context, channel models.Channel) (models.ApprovalSummary, error)
	Counterparties(ctx context.Context, channel models.Channel) ([]models.Counterparty, error)
}

// StockLedger changes and reports product balances.
type StockLedger interface {
	Apply(ctx context.Context, productID string, c ledger.Change) (models.LedgerEntry, error)
	History(ctx context.Context, productID string, limit int) ([]models.LedgerEntry, error)
	LowStock(ctx context.Context) ([]models.Product, error)
}

// GridSource reads an export pasted into a spreadsheet range.
type GridSource interface {
	ReadGrid(ctx context.Context, sheetRange string) (tabular.Grid, error)
}

// Publisher forwards run summaries to the operator.
type Publisher interface {
	PublishSales(ctx context.Context, summaries []models.SalesFileSummary)
	PublishApprovals(ctx context.Context, summaries []models.ApprovalSummary)
}

type errorResponse struct {
	Error string `json:"error"`
}

func abortWithError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: msg})
}

// uploadedFiles opens the multipart files of the request in submission
// order. The returned closer must be called once the files are consumed.
func uploadedFiles(c *gin.Context, maxBytes int64) ([]tabular.File, func(), error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
	form, err := c.MultipartForm()
	if err != nil {
		return nil, nil, fmt.Errorf("read multipart form: %w", err)
	}

	headers := form.File["files[]"]
	if len(headers) == 0 {
		headers = form.File["files"]
	}
	if len(headers) == 0 {
		return nil, nil, errors.New("no files uploaded")
	}

	opened := make([]multipart.File, 0, len(headers))
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}
	files := make([]tabular.File, 0, len(headers))
	for _, h := range headers {
		f, err := h.Open()
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("open %s: %w", h.Filename, err)
		}
		opened = append(opened, f)
		files = append(files, tabular.File{Name: h.Filename, Reader: f})
	}
	return files, closeAll, nil
}

func boolParam(c *gin.Context, key string) (bool, error) {
	raw := c.PostForm(key)
	if raw == "" {
		raw = c.Query(key)
	}
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean", key)
	}
	return v, nil
}

func limitParam(c *gin.Context, fallback int) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	return v, nil
}

// runStatus is 200 when at least one file reconciled, 422 when every file
// was unreadable and 500 when a store failure sank them all.
func runStatus(failed []bool, persistence []bool) int {
	allFailed := len(failed) > 0
	anyPersistence := false
	for i := range failed {
		allFailed = allFailed && failed[i]
		anyPersistence = anyPersistence || persistence[i]
	}
	switch {
	case !allFailed:
		return http.StatusOK
	case anyPersistence:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}
