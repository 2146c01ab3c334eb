package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/possync/reconcile/internal/domain/models"
	"github.com/possync/reconcile/internal/repository"
	"github.com/possync/reconcile/internal/service/ingestion"
)

// SalesHandler exposes sales ingestion over HTTP.
type SalesHandler struct {
	svc       SalesIngester
	sheets    GridSource
	publisher Publisher
	maxBytes  int64
	logger    *zap.Logger
}

// NewSalesHandler constructs the handler. sheets may be nil when sheet
// ingestion is not configured.
func NewSalesHandler(svc SalesIngester, sheets GridSource, publisher Publisher, maxBytes int64, logger *zap.Logger) *SalesHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SalesHandler{svc: svc, sheets: sheets, publisher: publisher, maxBytes: maxBytes, logger: logger}
}

// Upload ingests one or more sales exports in submission order.
func (h *SalesHandler) Upload(c *gin.Context) {
	files, closeFiles, err := uploadedFiles(c, h.maxBytes)
	if err != nil {
		h.logger.Warn("invalid sales upload", zap.Error(err))
		abortWithError(c, http.StatusBadRequest, err.Error())
		return
	}
	defer closeFiles()

	allowNegative, err := boolParam(c, "allow_negative")
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err.Error())
		return
	}

	summaries := h.svc.IngestFiles(c.Request.Context(), files, ingestion.Options{AllowNegative: allowNegative})
	h.respond(c, summaries)
}

type salesSheetRequest struct {
	Range         string `json:"range" binding:"required"`
	AllowNegative bool   `json:"allow_negative"`
}

// IngestSheet ingests a sales export pasted into a spreadsheet range.
func (h *SalesHandler) IngestSheet(c *gin.Context) {
	if h.sheets == nil {
		abortWithError(c, http.StatusServiceUnavailable, "sheet ingestion is not configured")
		return
	}
	var req salesSheetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	grid, err := h.sheets.ReadGrid(c.Request.Context(), req.Range)
	if err != nil {
		h.logger.Error("failed to read sheet range", zap.String("range", req.Range), zap.Error(err))
		abortWithError(c, http.StatusBadGateway, "unable to read sheet range")
		return
	}

	summary := h.svc.IngestGrid(c.Request.Context(), req.Range, grid, ingestion.Options{AllowNegative: req.AllowNegative})
	h.respond(c, []models.SalesFileSummary{summary})
}

func (h *SalesHandler) respond(c *gin.Context, summaries []models.SalesFileSummary) {
	if h.publisher != nil {
		h.publisher.PublishSales(c.Request.Context(), summaries)
	}
	failed := make([]bool, len(summaries))
	persistence := make([]bool, len(summaries))
	for i, s := range summaries {
		failed[i] = s.Failed()
		persistence[i] = s.PersistenceErrors.Count > 0
	}
	c.JSON(runStatus(failed, persistence), summaries)
}

// List returns stored sale lines filtered by date and receipt number.
func (h *SalesHandler) List(c *gin.Context) {
	limit, err := limitParam(c, 500)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err.Error())
		return
	}
	items, err := h.svc.ListSales(c.Request.Context(), repository.SaleFilter{
		Date:          c.Query("date"),
		ReceiptNumber: c.Query("receipt_number"),
		Limit:         limit,
	})
	if err != nil {
		h.logger.Error("failed to list sales", zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "failed to list sales")
		return
	}
	if items == nil {
		items = []models.SaleLineItem{}
	}
	c.JSON(http.StatusOK, items)
}
