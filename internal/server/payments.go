package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/fleetlane/fleetlane/internal/billing/domain"
	"github.com/gin-gonic/gin"
)

type createCheckoutRequest struct {
	InvoiceID string `json:"invoice_id"`
}

func (s *Server) HandleCreateCheckout(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))

	var req createCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	invoiceID, err := parseSnowflake(req.InvoiceID)
	if err != nil {
		AbortWithError(c, newValidationError("invoice_id", "invalid_invoice_id", "invalid invoice id"))
		return
	}

	session, err := s.checkoutSvc.Create(c.Request.Context(), invoiceID, provider)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, session)
}

// invoiceResponse is the public projection of an invoice. The lookup route
// carries no caller identity, so internal fields stay out of the payload.
type invoiceResponse struct {
	ID          snowflake.ID                `json:"id"`
	AmountCents int64                       `json:"amount_cents"`
	Currency    string                      `json:"currency"`
	Status      billingdomain.InvoiceStatus `json:"status"`
}

func (s *Server) HandleGetInvoice(c *gin.Context) {
	id, err := parseSnowflake(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_invoice_id", "invalid invoice id"))
		return
	}

	invoice, err := s.repo.InvoiceByID(c.Request.Context(), s.db, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if invoice == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, invoiceResponse{
		ID:          invoice.ID,
		AmountCents: invoice.AmountCents,
		Currency:    invoice.Currency,
		Status:      invoice.Status,
	})
}

func parseSnowflake(raw string) (snowflake.ID, error) {
	parsed, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || parsed == 0 {
		if err == nil {
			err = ErrInvalidRequest
		}
		return 0, err
	}
	return snowflake.ID(parsed), nil
}
