package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/possync/reconcile/internal/server/handlers"
)

// Handlers groups the HTTP handlers mounted by New.
type Handlers struct {
	Sales     *handlers.SalesHandler
	Approvals *handlers.ApprovalsHandler
	Inventory *handlers.InventoryHandler
}

// New wires the Gin engine with required routes and middlewares.
func New(h Handlers, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(zapLoggerMiddleware(logger))

	api := r.Group("/api")

	sales := api.Group("/sales")
	sales.GET("", h.Sales.List)
	sales.POST("/uploads", h.Sales.Upload)
	sales.POST("/sheets", h.Sales.IngestSheet)

	approvals := api.Group("/approvals")
	approvals.POST("/uploads", h.Approvals.Upload)
	approvals.POST("/sheets", h.Approvals.IngestSheet)
	approvals.POST("/rematch", h.Approvals.Rematch)
	api.GET("/counterparties", h.Approvals.Counterparties)

	products := api.Group("/products")
	products.GET("/low-stock", h.Inventory.LowStock)
	products.POST("/:id/stock-changes", h.Inventory.ChangeStock)
	products.GET("/:id/ledger", h.Inventory.Ledger)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if logger != nil {
		logger.Info("router initialized")
	}

	return r
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("request failed", fields...)
			return
		}
		logger.Info("request completed", fields...)
	}
}
