package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"freight_server/core/domain"
)

func TestLoadRulesEmbeddedDefault(t *testing.T) {
	rules, err := LoadRules("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rules.Version == "" {
		t.Error("expected a version")
	}
	if len(rules.Carriers) == 0 {
		t.Error("expected carrier rules")
	}

	var sob, delivered, cancelled bool
	for _, w := range rules.Workflow {
		switch w.DocumentType {
		case domain.DocSOBConfirmation:
			sob = w.State == "vessel_departed"
		case domain.DocProofOfDelivery:
			delivered = w.State == "delivered" && w.Terminal
		case domain.DocBookingCancellation:
			cancelled = w.State == "booking_cancelled" && w.Terminal
		}
	}
	if !sob {
		t.Error("expected sob_confirmation to map to vessel_departed")
	}
	if !delivered {
		t.Error("expected delivered to be terminal")
	}
	if !cancelled {
		t.Error("expected booking_cancelled to be terminal")
	}

	if got := rules.Authority.Level(domain.FieldVesselName, domain.DocBookingConfirmation); got != 10 {
		t.Errorf("expected authority 10, got %d", got)
	}
	if got := rules.Authority.Level(domain.FieldVesselName, domain.DocGeneralCorrespondence); got != 1 {
		t.Errorf("expected authority 1, got %d", got)
	}
	if got := rules.Authority.Level(domain.FieldETA, domain.DocArrivalNotice); got != 22 {
		t.Errorf("expected authority 22, got %d", got)
	}
}

func TestLoadRulesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	body := `
version: "test-1"
senders:
  internal_domains: [forwarder.example]
generic:
  - name: booking
    document_type: booking_confirmation
    subject: 'booking confirmation'
    confidence: 90
workflow:
  - {document_type: booking_confirmation, direction: inbound, state: booking_confirmation_received, phase: booking, priority: 20}
temporal:
  data_collection_start: "2024-01-01"
  max_future_days: 30
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rules.Version != "test-1" {
		t.Errorf("expected %q, got %q", "test-1", rules.Version)
	}
	if rules.Temporal.MaxFutureDays != 30 {
		t.Errorf("expected 30, got %d", rules.Temporal.MaxFutureDays)
	}
}

func TestParseRulesInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "missing version",
			body: `generic: []`,
		},
		{
			name: "unknown key",
			body: "version: \"1\"\nbogus: true\n",
		},
		{
			name: "unknown document type",
			body: `
version: "1"
generic:
  - {name: x, document_type: telegram, subject: 'x', confidence: 90}
`,
		},
		{
			name: "bad regex",
			body: `
version: "1"
generic:
  - {name: x, document_type: invoice, subject: '([', confidence: 90}
`,
		},
		{
			name: "duplicate workflow key",
			body: `
version: "1"
workflow:
  - {document_type: invoice, direction: any, state: a, phase: booking, priority: 1}
  - {document_type: invoice, direction: any, state: b, phase: booking, priority: 2}
`,
		},
		{
			name: "bad collection start",
			body: `
version: "1"
temporal:
  data_collection_start: "01/01/2024"
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRules([]byte(tt.body))
			if !errors.Is(err, domain.ErrInvalidRules) {
				t.Errorf("expected ErrInvalidRules, got %v", err)
			}
		})
	}
}
