package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/yoointerview/internal/services"
	"github.com/yoockh/yoointerview/internal/utils"
)

type InterviewHandler struct {
	sessions services.InterviewService
	results  services.ResultService
}

func NewInterviewHandler(sessions services.InterviewService, results services.ResultService) *InterviewHandler {
	return &InterviewHandler{sessions: sessions, results: results}
}

type AbandonRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

// authorized loads the session and checks the caller may see it. The load does
// not count as candidate contact.
func (h *InterviewHandler) authorized(c *gin.Context, op string) (string, bool) {
	sessionID := c.Param("session_id")
	sess, err := h.sessions.LoadSession(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, err)
		return "", false
	}
	if !authorizeSession(c, op, sess) {
		return "", false
	}
	return sessionID, true
}

func (h *InterviewHandler) Create(c *gin.Context) {
	var req services.CreateSessionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "InterviewHandler.Create", "invalid request body", err))
		return
	}

	sess, err := h.sessions.CreateSession(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

// Get refreshes contact only when the owning candidate asks.
func (h *InterviewHandler) Get(c *gin.Context) {
	sess, err := h.sessions.LoadSession(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if !authorizeSession(c, "InterviewHandler.Get", sess) {
		return
	}
	if c.GetString("user_id") == sess.CandidateID {
		if sess, err = h.sessions.GetSession(c.Request.Context(), sess.ID); err != nil {
			writeError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, sess)
}

func (h *InterviewHandler) Questions(c *gin.Context) {
	sessionID, ok := h.authorized(c, "InterviewHandler.Questions")
	if !ok {
		return
	}
	qs, err := h.sessions.ListQuestions(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"questions": qs})
}

func (h *InterviewHandler) Begin(c *gin.Context) {
	sessionID, ok := h.authorized(c, "InterviewHandler.Begin")
	if !ok {
		return
	}
	handle, err := h.sessions.BeginSession(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, handle)
}

func (h *InterviewHandler) SubmitAnswer(c *gin.Context) {
	sessionID, ok := h.authorized(c, "InterviewHandler.SubmitAnswer")
	if !ok {
		return
	}

	var req services.SubmitAnswerInput
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "InterviewHandler.SubmitAnswer", "invalid request body", err))
		return
	}
	req.SessionID = sessionID

	res, err := h.sessions.SubmitAnswer(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *InterviewHandler) Results(c *gin.Context) {
	sessionID, ok := h.authorized(c, "InterviewHandler.Results")
	if !ok {
		return
	}

	view, err := h.results.GetResults(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	if view.Pending() && view.RetryAfterSeconds > 0 {
		c.Header("Retry-After", strconv.Itoa(view.RetryAfterSeconds))
	}
	c.JSON(http.StatusOK, view)
}

func (h *InterviewHandler) Abandon(c *gin.Context) {
	var req AbandonRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, utils.E(utils.CodeInvalidArgument, "InterviewHandler.Abandon", "invalid request body", err))
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "abandoned by staff"
	}

	sess, err := h.sessions.AbandonSession(c.Request.Context(), c.Param("session_id"), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}
