package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	billingdomain "github.com/fleetlane/fleetlane/internal/billing/domain"
	"github.com/gin-gonic/gin"
)

// HandlePaymentWebhook ingests a provider notification. Acknowledgements are
// plain text: providers only check the status code, and the body is useful
// when replaying deliveries by hand.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	c.Set("provider", provider)

	if s.webhookLimiter != nil && !s.webhookLimiter.Allow(c.Request.Context(), provider) {
		AbortWithError(c, ErrTooManyRequests)
		return
	}

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	err = s.webhookSvc.Ingest(c.Request.Context(), provider, payload)
	if err != nil {
		if errors.Is(err, billingdomain.ErrDuplicateEvent) {
			c.String(http.StatusOK, "duplicate")
			return
		}
		AbortWithError(c, err)
		return
	}

	c.String(http.StatusOK, "ok")
}
