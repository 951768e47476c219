package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/modelgate/modelgate/internal/infrastructure/persistence"
)

// DebugHandler serves operator introspection: session history, the
// session index and the audit tail.
type DebugHandler struct {
	sessions *persistence.SessionStore
	audit    *persistence.AuditLogger
	logger   *zap.Logger
}

// NewDebugHandler wires the debug endpoints.
func NewDebugHandler(sessions *persistence.SessionStore, audit *persistence.AuditLogger, logger *zap.Logger) *DebugHandler {
	return &DebugHandler{
		sessions: sessions,
		audit:    audit,
		logger:   logger.With(zap.String("handler", "debug")),
	}
}

// Session handles GET /debug/session?id=… with a full history snapshot.
func (h *DebugHandler) Session(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, errorBody("missing_session_id", "query parameter id is required"))
		return
	}
	sess, ok := h.sessions.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, errorBody("not_found", "unknown session: "+id))
		return
	}

	snap := sess.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"id":         snap.ID,
		"created_at": snap.CreatedAt,
		"updated_at": snap.UpdatedAt,
		"ephemeral":  snap.Ephemeral,
		"metadata":   snap.Metadata,
		"turns":      len(snap.History),
		"history":    snap.History,
	})
}

// Sessions handles GET /debug/sessions with a lightweight index.
func (h *DebugHandler) Sessions(c *gin.Context) {
	ids := h.sessions.IDs()
	out := make([]gin.H, 0, len(ids))
	for _, id := range ids {
		sess, ok := h.sessions.Get(id)
		if !ok {
			continue
		}
		snap := sess.Snapshot()
		out = append(out, gin.H{
			"id":         snap.ID,
			"created_at": snap.CreatedAt,
			"updated_at": snap.UpdatedAt,
			"ephemeral":  snap.Ephemeral,
			"turns":      len(snap.History),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"count":    len(out),
		"sessions": out,
	})
}

// Audit handles GET /debug/audit?limit=… with the newest audit records.
func (h *DebugHandler) Audit(c *gin.Context) {
	if h.audit == nil {
		c.JSON(http.StatusOK, gin.H{"count": 0, "records": []any{}})
		return
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, errorBody("invalid_request", "limit must be a positive integer"))
			return
		}
		limit = n
	}

	records, err := h.audit.Recent(limit)
	if err != nil {
		h.logger.Error("audit read failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorBody("api_error", "audit log unavailable"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   len(records),
		"records": records,
	})
}
