package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/possync/reconcile/internal/domain/models"
	"github.com/possync/reconcile/internal/repository"
	"github.com/possync/reconcile/internal/service/ledger"
)

// InventoryHandler exposes manual stock changes and balance reports.
type InventoryHandler struct {
	ledger StockLedger
	logger *zap.Logger
}

func NewInventoryHandler(ledger StockLedger, logger *zap.Logger) *InventoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InventoryHandler{ledger: ledger, logger: logger}
}

type stockChangeRequest struct {
	ChangeType string `json:"change_type" binding:"required"`
	Quantity   *int   `json:"quantity" binding:"required"`
	Note       string `json:"note"`
	Force      bool   `json:"force"`
}

type stockChangeResponse struct {
	PreviousStock int                `json:"previous_stock"`
	NewStock      int                `json:"new_stock"`
	Entry         models.LedgerEntry `json:"entry"`
}

// ChangeStock applies a manual in, out, sale or adjust change.
func (h *InventoryHandler) ChangeStock(c *gin.Context) {
	var req stockChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	changeType, err := models.ParseChangeType(req.ChangeType)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := h.ledger.Apply(c.Request.Context(), c.Param("id"), ledger.Change{
		Type:     changeType,
		Quantity: *req.Quantity,
		Note:     req.Note,
		Force:    req.Force,
	})
	var insufficient *models.InsufficientStockError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, stockChangeResponse{PreviousStock: entry.PreviousStock, NewStock: entry.NewStock, Entry: entry})
	case errors.Is(err, ledger.ErrInvalidChange):
		abortWithError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		abortWithError(c, http.StatusNotFound, "product not found")
	case errors.As(err, &insufficient):
		abortWithError(c, http.StatusConflict, insufficient.Error())
	default:
		h.logger.Error("stock change failed", zap.String("product_id", c.Param("id")), zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "stock change failed")
	}
}

// Ledger lists the newest ledger entries of a product.
func (h *InventoryHandler) Ledger(c *gin.Context) {
	limit, err := limitParam(c, 50)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := h.ledger.History(c.Request.Context(), c.Param("id"), limit)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		abortWithError(c, http.StatusNotFound, "product not found")
		return
	case err != nil:
		h.logger.Error("failed to list ledger", zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "failed to list ledger")
		return
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	c.JSON(http.StatusOK, entries)
}

// LowStock lists products at or below their threshold.
func (h *InventoryHandler) LowStock(c *gin.Context) {
	products, err := h.ledger.LowStock(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list low stock", zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "failed to list low stock")
		return
	}
	if products == nil {
		products = []models.Product{}
	}
	c.JSON(http.StatusOK, products)
}
