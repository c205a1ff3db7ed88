package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// HandleBillingConfirm is the return URL the payment page redirects to. The
// lookup keeps running even if the browser disconnects mid-redirect; the
// response only tells the frontend which page to show.
func (s *Server) HandleBillingConfirm(c *gin.Context) {
	orgID, ok := orgIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	sessionID := strings.TrimSpace(c.Query("session_id"))
	if sessionID == "" {
		AbortWithError(c, newValidationError("session_id", "invalid_session_id", "session_id is required"))
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	ok, err := s.confirmSvc.Confirm(ctx, orgID, sessionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": ok})
}
