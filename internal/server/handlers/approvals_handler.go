package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/possync/reconcile/internal/domain/models"
)

// ApprovalsHandler exposes approval matching over HTTP.
type ApprovalsHandler struct {
	svc       ApprovalMatcher
	sheets    GridSource
	publisher Publisher
	maxBytes  int64
	logger    *zap.Logger
}

func NewApprovalsHandler(svc ApprovalMatcher, sheets GridSource, publisher Publisher, maxBytes int64, logger *zap.Logger) *ApprovalsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApprovalsHandler{svc: svc, sheets: sheets, publisher: publisher, maxBytes: maxBytes, logger: logger}
}

func approvalChannel(raw string, optional bool) (models.Channel, error) {
	if raw == "" && optional {
		return "", nil
	}
	channel := models.Channel(raw)
	if !channel.IsApprovalChannel() {
		return "", fmt.Errorf("channel must be one of %v", models.ApprovalChannels)
	}
	return channel, nil
}

// Upload ingests settlement exports of the channel given in the query.
func (h *ApprovalsHandler) Upload(c *gin.Context) {
	channel, err := approvalChannel(c.Query("channel"), false)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err.Error())
		return
	}
	files, closeFiles, err := uploadedFiles(c, h.maxBytes)
	if err != nil {
		h.logger.Warn("invalid approval upload", zap.Error(err))
		abortWithError(c, http.StatusBadRequest, err.Error())
		return
	}
	defer closeFiles()

	h.respond(c, h.svc.IngestFiles(c.Request.Context(), channel, files))
}

type approvalSheetRequest struct {
	Range   string `json:"range" binding:"required"`
	Channel string `json:"channel" binding:"required"`
}

// IngestSheet ingests a settlement export pasted into a spreadsheet range.
func (h *ApprovalsHandler) IngestSheet(c *gin.Context) {
	if h.sheets == nil {
		abortWithError(c, http.StatusServiceUnavailable, "sheet ingestion is not configured")
		return
	}
	var req approvalSheetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	channel, err := approvalChannel(req.Channel, false)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err.Error())
		return
	}

	grid, err := h.sheets.ReadGrid(c.Request.Context(), req.Range)
	if err != nil {
		h.logger.Error("failed to read sheet range", zap.String("range", req.Range), zap.Error(err))
		abortWithError(c, http.StatusBadGateway, "unable to read sheet range")
		return
	}
	h.respond(c, []models.ApprovalSummary{h.svc.IngestGrid(c.Request.Context(), req.Range, channel, grid)})
}

// Rematch retries unmatched approvals, optionally for one channel.
func (h *ApprovalsHandler) Rematch(c *gin.Context) {
	channel, err := approvalChannel(c.Query("channel"), true)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err.Error())
		return
	}
	summary, err := h.svc.Rematch(c.Request.Context(), channel)
	if err != nil {
		h.logger.Error("rematch failed", zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "rematch failed")
		return
	}
	if h.publisher != nil && summary.MatchedCount > 0 {
		h.publisher.PublishApprovals(c.Request.Context(), []models.ApprovalSummary{summary})
	}
	status := http.StatusOK
	if summary.PersistenceErrors.Count > 0 {
		status = http.StatusInternalServerError
	}
	c.JSON(status, summary)
}

// Counterparties lists the registry, optionally for one channel.
func (h *ApprovalsHandler) Counterparties(c *gin.Context) {
	channel := models.Channel(c.Query("channel"))
	if channel != "" && !channel.HasRegistry() {
		abortWithError(c, http.StatusBadRequest, "channel has no counterparty registry")
		return
	}
	list, err := h.svc.Counterparties(c.Request.Context(), channel)
	if err != nil {
		h.logger.Error("failed to list counterparties", zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "failed to list counterparties")
		return
	}
	if list == nil {
		list = []models.Counterparty{}
	}
	c.JSON(http.StatusOK, list)
}

func (h *ApprovalsHandler) respond(c *gin.Context, summaries []models.ApprovalSummary) {
	if h.publisher != nil {
		h.publisher.PublishApprovals(c.Request.Context(), summaries)
	}
	failed := make([]bool, len(summaries))
	persistence := make([]bool, len(summaries))
	for i, s := range summaries {
		failed[i] = s.Failed()
		persistence[i] = s.PersistenceErrors.Count > 0
	}
	c.JSON(runStatus(failed, persistence), summaries)
}
