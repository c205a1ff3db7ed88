// Package aps adapts the Amazon Payment Services (Payfort) provider.
package aps

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fleetlane/fleetlane/internal/billing/adapters"
	"github.com/fleetlane/fleetlane/internal/billing/domain"
	"github.com/google/uuid"
)

const providerName = "aps"

const sessionPrefix = "aps_"

type Config struct {
	BaseURL    string
	HTTPClient *http.Client
}

type Adapter struct {
	baseURL string
	client  *http.Client
}

func New(cfg Config) *Adapter {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Adapter{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		client:  client,
	}
}

func (a *Adapter) Provider() string { return providerName }

func (a *Adapter) OwnsRef(checkoutRef string) bool {
	return strings.HasPrefix(strings.TrimSpace(checkoutRef), sessionPrefix)
}

func (a *Adapter) NewSessionID() string {
	return sessionPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (a *Adapter) PaymentURL(sessionID string) string {
	return fmt.Sprintf("%s/hosted/pay?session=%s", a.baseURL, sessionID)
}

// Payfort notifications carry the fort reference under fort_id; some gateway
// configurations relay it as a bare id instead.
type webhookPayload struct {
	FortID          string `json:"fort_id"`
	ID              string `json:"id"`
	Status          string `json:"status"`
	ResponseMessage string `json:"response_message"`
}

func (a *Adapter) Normalize(payload []byte) (domain.CanonicalEvent, error) {
	var body webhookPayload
	_ = json.Unmarshal(payload, &body)

	sessionID := strings.TrimSpace(body.FortID)
	if sessionID == "" {
		sessionID = strings.TrimSpace(body.ID)
	}
	if sessionID == "" {
		return domain.CanonicalEvent{}, domain.ErrEventNotActionable
	}

	outcome, ok := mapStatus(body.Status)
	if !ok {
		outcome, ok = mapStatus(body.ResponseMessage)
	}
	if !ok {
		outcome = adapters.ClassifyOutcome(payload)
	}

	return domain.CanonicalEvent{
		Provider:          providerName,
		ExternalSessionID: sessionID,
		Outcome:           outcome,
		RawPayload:        payload,
	}, nil
}

func mapStatus(status string) (domain.Outcome, bool) {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "SUCCESS", "CAPTURED", "PURCHASED":
		return domain.OutcomeSuccess, true
	case "CANCELLED", "CANCELED", "VOIDED":
		return domain.OutcomeCancelled, true
	case "FAILED", "DECLINED", "EXPIRED":
		return domain.OutcomeFailed, true
	default:
		return "", false
	}
}

type checkoutResponse struct {
	Status           string `json:"status"`
	SubscriptionID   string `json:"subscription_id"`
	CurrentPeriodEnd *int64 `json:"current_period_end"`
	TrialEnd         *int64 `json:"trial_end"`
}

func (a *Adapter) LookupCheckout(ctx context.Context, checkoutRef string) (*domain.CheckoutStatus, error) {
	url := fmt.Sprintf("%s/api/checkout/%s", a.baseURL, checkoutRef)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderLookup, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", domain.ErrProviderLookup, resp.StatusCode)
	}

	var body checkoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderLookup, err)
	}

	outcome, ok := mapStatus(body.Status)
	if !ok {
		outcome = domain.OutcomeFailed
	}
	return &domain.CheckoutStatus{
		Outcome:          outcome,
		ProviderSubID:    strings.TrimSpace(body.SubscriptionID),
		CurrentPeriodEnd: unixTime(body.CurrentPeriodEnd),
		TrialEnd:         unixTime(body.TrialEnd),
	}, nil
}

func unixTime(sec *int64) *time.Time {
	if sec == nil || *sec == 0 {
		return nil
	}
	t := time.Unix(*sec, 0).UTC()
	return &t
}
