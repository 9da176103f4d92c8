package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/MultiSigWallet/internal/eventlog"
)

// EventsHandler exposes read-only HTTP endpoints for the event log.
type EventsHandler struct {
	log    eventlog.Log
	logger *zap.Logger
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(log eventlog.Log, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{log: log, logger: logger}
}

// Register mounts the event log routes on the given router group.
func (h *EventsHandler) Register(rg *gin.RouterGroup) {
	e := rg.Group("/events")
	{
		e.GET("", h.List)
		e.GET("/verify", h.Verify)
		e.GET("/entries/:idx", h.GetEntry)
	}
}

// List handles GET /events. Returns a page of entries with the chain
// length and current root hash.
func (h *EventsHandler) List(c *gin.Context) {
	ctx := c.Request.Context()
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	count, err := h.log.Len(ctx)
	if err != nil {
		h.logger.Error("event log Len", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query event log"})
		return
	}
	root, err := h.log.Root(ctx)
	if err != nil {
		h.logger.Error("event log Root", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query event log root"})
		return
	}
	entries, err := h.log.List(ctx, offset, limit)
	if err != nil {
		h.logger.Error("event log List", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list event log"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"total":   count,
		"root":    root,
	})
}

// Verify handles GET /events/verify. Walks the full chain and reports integrity.
func (h *EventsHandler) Verify(c *gin.Context) {
	if err := h.log.Verify(c.Request.Context()); err != nil {
		h.logger.Warn("event log integrity check failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{
			"valid": false,
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// GetEntry handles GET /events/entries/:idx. Returns a single entry.
func (h *EventsHandler) GetEntry(c *gin.Context) {
	idx, ok := parseIndex(c)
	if !ok {
		return
	}

	entry, err := h.log.Get(c.Request.Context(), idx)
	if errors.Is(err, eventlog.ErrEntryNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found", "code": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("event log Get", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read entry"})
		return
	}
	c.JSON(http.StatusOK, entry)
}
