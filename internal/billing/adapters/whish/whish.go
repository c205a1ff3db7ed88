// Package whish adapts the Whish wallet provider.
package whish

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

const providerName = "whish"

const sessionPrefix = "whish_"

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
	return "whish://pay/" + sessionID
}

type webhookPayload struct {
	ID            string `json:"id"`
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
}

// Normalize parses the structured id/status fields first and falls back to
// the keyword heuristic when the status field is absent or unrecognized.
func (a *Adapter) Normalize(payload []byte) (domain.CanonicalEvent, error) {
	var body webhookPayload
	_ = json.Unmarshal(payload, &body)

	sessionID := strings.TrimSpace(body.ID)
	if sessionID == "" {
		sessionID = strings.TrimSpace(body.TransactionID)
	}
	if sessionID == "" {
		return domain.CanonicalEvent{}, domain.ErrEventNotActionable
	}

	outcome, ok := mapStatus(body.Status)
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
	case "SUCCESS", "SUCCEEDED", "PAID":
		return domain.OutcomeSuccess, true
	case "CANCELLED", "CANCELED":
		return domain.OutcomeCancelled, true
	case "FAILED", "DECLINED", "EXPIRED":
		return domain.OutcomeFailed, true
	default:
		return "", false
	}
}

type checkoutResponse struct {
	Status           string `json:"status"`
	SubscriptionID   string `json:"subscriptionId"`
	CurrentPeriodEnd *int64 `json:"currentPeriodEnd"`
	TrialEnd         *int64 `json:"trialEnd"`
}

func (a *Adapter) LookupCheckout(ctx context.Context, checkoutRef string) (*domain.CheckoutStatus, error) {
	url := fmt.Sprintf("%s/v2/checkout/%s", a.baseURL, checkoutRef)
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
