package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ety001/op-history-bridge/internal/history"
	"github.com/ety001/op-history-bridge/internal/models"
	"github.com/ety001/op-history-bridge/internal/protocol"
	"github.com/ety001/op-history-bridge/internal/storage"
)

// Handler handles API requests
type Handler struct {
	engine *history.Engine
	modes  *models.ModeController
}

// NewHandler creates a new API handler
func NewHandler(engine *history.Engine, modes *models.ModeController) *Handler {
	return &Handler{
		engine: engine,
		modes:  modes,
	}
}

// GetAccountHistory handles GET /api/v1/accounts/:account/history
func (h *Handler) GetAccountHistory(c *gin.Context) {
	account, err := parseID(c.Param("account"), protocol.AccountObjectType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account: " + err.Error()})
		return
	}
	start, err := parseID(c.Query("start"), protocol.OperationHistoryObjectType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start: " + err.Error()})
		return
	}
	stop, err := parseID(c.Query("stop"), protocol.OperationHistoryObjectType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stop: " + err.Error()})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(history.MaxHistoryLimit)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit: " + err.Error()})
		return
	}

	ctx := c.Request.Context()
	result, err := h.engine.GetAccountHistory(ctx, account, stop, limit, start)
	if err != nil {
		writeError(c, err)
		return
	}

	response := models.AccountHistoryResponse{
		Account:    account.String(),
		Operations: result.Records,
	}
	if response.Operations == nil {
		response.Operations = []models.OperationHistory{}
	}
	for _, warning := range result.Warnings {
		response.Warnings = append(response.Warnings, warning.String())
	}
	if !result.NextStart.IsZero() {
		response.NextStart = result.NextStart.String()
	}
	c.JSON(http.StatusOK, response)
}

// GetOperation handles GET /api/v1/operations/:id
func (h *Handler) GetOperation(c *gin.Context) {
	id, err := parseID(c.Param("id"), protocol.OperationHistoryObjectType)
	if err != nil || id.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid operation id"})
		return
	}

	ctx := c.Request.Context()
	record, err := h.engine.GetOperationByID(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// GetMode handles GET /api/v1/mode
func (h *Handler) GetMode(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"mode": h.modes.Mode().String()})
}

// Health handles GET /api/v1/health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// parseID accepts a full object id of the given type or a bare instance
// number. An empty string is the zero id.
func parseID(s string, objectType uint8) (protocol.ObjectID, error) {
	if s == "" {
		return protocol.ObjectID{}, nil
	}
	if !strings.Contains(s, ".") {
		instance, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return protocol.ObjectID{}, err
		}
		return protocol.ObjectID{Space: protocol.ProtocolSpace, Type: objectType, Instance: instance}, nil
	}
	id, err := protocol.ParseObjectID(s)
	if err != nil {
		return protocol.ObjectID{}, err
	}
	if !id.Is(objectType) {
		return protocol.ObjectID{}, errors.New(s + " has the wrong object type")
	}
	return id, nil
}

func writeError(c *gin.Context, err error) {
	var (
		modeErr      *models.ModeError
		transportErr *storage.TransportError
	)
	// a wrapped FormatError comes from a stored document, not the request
	_, badInput := err.(*protocol.FormatError)
	switch {
	case errors.As(err, &modeErr):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, history.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &transportErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	case badInput:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
