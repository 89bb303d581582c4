package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	mongorepo "github.com/yoockh/yoointerview/internal/repositories/mongo"
	"github.com/yoockh/yoointerview/internal/utils"
)

// AuditHandler exposes the session event trail to staff.
type AuditHandler struct {
	events mongorepo.EventRepository
}

func NewAuditHandler(events mongorepo.EventRepository) *AuditHandler {
	return &AuditHandler{events: events}
}

func (h *AuditHandler) SessionEvents(c *gin.Context) {
	evs, err := h.events.ListBySession(c.Request.Context(), c.Param("session_id"), 500)
	if err != nil {
		writeError(c, utils.E(utils.CodeUnavailable, "AuditHandler.SessionEvents", "failed to load events", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}

// EventsByType lists events of one type, newest first, since an RFC3339 time (default 24h ago).
func (h *AuditHandler) EventsByType(c *gin.Context) {
	const op = "AuditHandler.EventsByType"

	since := time.Now().UTC().Add(-24 * time.Hour)
	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(c, utils.E(utils.CodeInvalidArgument, op, "since must be RFC3339", err))
			return
		}
		since = t
	}

	evs, err := h.events.ListByType(c.Request.Context(), c.Param("type"), since, 500)
	if err != nil {
		writeError(c, utils.E(utils.CodeUnavailable, op, "failed to load events", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}
