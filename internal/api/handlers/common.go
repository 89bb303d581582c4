package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/yoointerview/internal/models"
	"github.com/yoockh/yoointerview/internal/utils"
)

type APIError struct {
	Code    utils.Code `json:"code"`
	Message string     `json:"message"`
}

func toAPIError(err error) APIError {
	var ae *utils.AppError
	if errors.As(err, &ae) {
		return APIError{Code: ae.Code, Message: ae.Message}
	}
	return APIError{Code: utils.CodeInternal, Message: http.StatusText(utils.HTTPStatus(err))}
}

func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(utils.HTTPStatus(err), toAPIError(err))
}

func requireUserID(c *gin.Context) (string, bool) {
	if v, ok := c.Get("user_id"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s, true
		}
	}

	writeError(c, utils.E(utils.CodeUnauthorized, "Auth", "unauthorized", nil))
	return "", false
}

func isStaff(c *gin.Context) bool {
	role, _ := c.Get("role")
	s, _ := role.(string)
	return models.IsStaff(s)
}

// authorizeSession allows the candidate the session belongs to, and staff.
func authorizeSession(c *gin.Context, op string, sess *models.InterviewSession) bool {
	userID, ok := requireUserID(c)
	if !ok {
		return false
	}
	if sess.CandidateID == userID || isStaff(c) {
		return true
	}
	writeError(c, utils.E(utils.CodeForbidden, op, "forbidden", nil))
	return false
}
