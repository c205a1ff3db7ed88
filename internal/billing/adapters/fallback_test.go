package adapters_test

import (
	"testing"

	"github.com/fleetlane/fleetlane/internal/billing/adapters"
	"github.com/fleetlane/fleetlane/internal/billing/domain"
	"github.com/stretchr/testify/assert"
)

func TestClassifyOutcome(t *testing.T) {
	assert.Equal(t, domain.OutcomeSuccess, adapters.ClassifyOutcome([]byte(`{"msg":"payment success"}`)))
	assert.Equal(t, domain.OutcomeSuccess, adapters.ClassifyOutcome([]byte(`{"result":"SUCCESSFUL"}`)))
	assert.Equal(t, domain.OutcomeCancelled, adapters.ClassifyOutcome([]byte(`{"msg":"user cancelled"}`)))
	assert.Equal(t, domain.OutcomeCancelled, adapters.ClassifyOutcome([]byte(`{"state":"CANCELED"}`)))

	// Ambiguity never recognizes revenue.
	assert.Equal(t, domain.OutcomeFailed, adapters.ClassifyOutcome([]byte(`{"msg":"card declined"}`)))
	assert.Equal(t, domain.OutcomeFailed, adapters.ClassifyOutcome([]byte(``)))
	assert.Equal(t, domain.OutcomeFailed, adapters.ClassifyOutcome([]byte(`not json`)))
}

func TestClassifyOutcomeSuccessWinsOverCancel(t *testing.T) {
	// Both keywords present: the scan checks SUCCESS first.
	assert.Equal(t, domain.OutcomeSuccess, adapters.ClassifyOutcome([]byte(`{"note":"cancellation reversed, payment success"}`)))
}

func TestRegistryResolvesByPrefix(t *testing.T) {
	reg := adapters.NewRegistry()
	_, ok := reg.Resolve("whish_abc")
	assert.False(t, ok)
	assert.False(t, reg.ProviderExists("whish"))
}
