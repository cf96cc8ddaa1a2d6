package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spread-alerts/internal/fetcher"
	"spread-alerts/internal/service"
	"spread-alerts/internal/storage"
)

// SpreadService is the slice of the spread service consumed by the HTTP layer.
type SpreadService interface {
	GetSpreadForMarket(ctx context.Context, market string, persist bool) (storage.SpreadRecord, error)
	GetSpreadForAllMarkets(ctx context.Context, persist bool) ([]storage.SpreadRecord, error)
	CompareWithLast(ctx context.Context, market string) (service.Comparison, error)
	CompareWithSavedSpreads(ctx context.Context, market string) (service.HistoryComparison, error)
	CompareWithID(ctx context.Context, market string, id int64) (service.Comparison, error)
	SetSpreadValue(ctx context.Context, market string, value decimal.Decimal) (storage.SpreadRecord, error)
	SetSpreadStatus(ctx context.Context, id int64, active bool) (storage.SpreadRecord, error)
	GetActiveSpreadsForMarket(ctx context.Context, market string) ([]storage.SpreadRecord, error)
}

// Handler exposes the spread API over HTTP.
type Handler struct {
	svc      SpreadService
	provider fetcher.MarketDataProvider
	logger   zerolog.Logger
}

// NewHandler constructs the API handler.
func NewHandler(svc SpreadService, provider fetcher.MarketDataProvider, logger zerolog.Logger) *Handler {
	return &Handler{
		svc:      svc,
		provider: provider,
		logger:   logger.With().Str("component", "http_handler").Logger(),
	}
}

// RegisterRoutes binds the handler to the gin engine. All spread routes share
// the :market wildcard name; the status route carries the record id in that
// slot because gin rejects two wildcard names at one path position.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.GET("/markets", h.listMarkets)
		api.GET("/markets/:market/ticker", h.getTicker)

		api.GET("/spreads", h.allSpreads)
		api.GET("/spread/:market", h.oneSpread)
		api.POST("/spread/:market", h.setSpread)
		api.GET("/spread/:market/alert", h.alertLast)
		api.GET("/spread/:market/alerts", h.alertHistory)
		api.GET("/spread/:market/alert/:id", h.alertByID)
		api.GET("/spread/:market/active", h.activeSpreads)
		api.PATCH("/spread/:market/status", h.setStatus)
	}
}

func (h *Handler) listMarkets(c *gin.Context) {
	markets, err := h.provider.GetMarkets(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"markets": markets})
}

func (h *Handler) getTicker(c *gin.Context) {
	ticker, err := h.provider.GetTicker(c.Request.Context(), c.Param("market"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticker": ticker})
}

func (h *Handler) oneSpread(c *gin.Context) {
	record, err := h.svc.GetSpreadForMarket(c.Request.Context(), c.Param("market"), saveRequested(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *Handler) allSpreads(c *gin.Context) {
	records, err := h.svc.GetSpreadForAllMarkets(c.Request.Context(), saveRequested(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *Handler) alertLast(c *gin.Context) {
	comparison, err := h.svc.CompareWithLast(c.Request.Context(), c.Param("market"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, comparison)
}

func (h *Handler) alertHistory(c *gin.Context) {
	result, err := h.svc.CompareWithSavedSpreads(c.Request.Context(), c.Param("market"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) alertByID(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "id must be a non-negative integer"})
		return
	}

	comparison, err := h.svc.CompareWithID(c.Request.Context(), c.Param("market"), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, comparison)
}

func (h *Handler) activeSpreads(c *gin.Context) {
	records, err := h.svc.GetActiveSpreadsForMarket(c.Request.Context(), c.Param("market"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

type setSpreadRequest struct {
	Value decimal.Decimal `json:"value"`
}

func (h *Handler) setSpread(c *gin.Context) {
	var req setSpreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body"})
		return
	}

	record, err := h.svc.SetSpreadValue(c.Request.Context(), c.Param("market"), req.Value)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

type setStatusRequest struct {
	Active *bool `json:"active"`
}

func (h *Handler) setStatus(c *gin.Context) {
	// the :market slot carries the record id on this route
	id, err := strconv.ParseInt(c.Param("market"), 10, 64)
	if err != nil || id < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "id must be a non-negative integer"})
		return
	}

	var req setStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Active == nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "active must be provided as a boolean"})
		return
	}

	record, err := h.svc.SetSpreadStatus(c.Request.Context(), id, *req.Active)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func saveRequested(c *gin.Context) bool {
	return c.Query("save") == "true"
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var badReq *service.BadRequestError
	switch {
	case errors.As(err, &badReq):
		c.JSON(http.StatusBadRequest, gin.H{"message": badReq.Reason})
	case errors.Is(err, fetcher.ErrMarketNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "market not found"})
	case errors.Is(err, storage.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "spread record not found"})
	case errors.Is(err, service.ErrEmptyOrderBook):
		c.JSON(http.StatusBadGateway, gin.H{"message": "no orders available in the order book"})
	default:
		h.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal server error"})
	}
}
