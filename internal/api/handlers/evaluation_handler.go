package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/yoointerview/internal/queue"
	"github.com/yoockh/yoointerview/internal/services"
	"github.com/yoockh/yoointerview/internal/utils"
)

// EvaluationHandler serves the scoring backend callback and the staff view
// of sessions whose evaluation never got dispatched.
type EvaluationHandler struct {
	dispatcher services.EvaluationDispatcher
}

func NewEvaluationHandler(dispatcher services.EvaluationDispatcher) *EvaluationHandler {
	return &EvaluationHandler{dispatcher: dispatcher}
}

func (h *EvaluationHandler) Callback(c *gin.Context) {
	const op = "EvaluationHandler.Callback"

	var req queue.EvaluationOutcome
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "invalid request body", err))
		return
	}
	if req.SessionID != c.Param("session_id") {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "session_id mismatch", nil))
		return
	}

	res, err := h.dispatcher.ApplyResult(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *EvaluationHandler) Stuck(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeError(c, utils.E(utils.CodeInvalidArgument, "EvaluationHandler.Stuck", "limit must be 1..500", err))
			return
		}
		limit = n
	}

	sessions, err := h.dispatcher.ListStuck(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// Redispatch retries a single session's dispatch on staff request.
func (h *EvaluationHandler) Redispatch(c *gin.Context) {
	if err := h.dispatcher.Dispatch(c.Request.Context(), c.Param("session_id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}
