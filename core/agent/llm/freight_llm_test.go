package llm

import (
	"errors"
	"math"
	"testing"

	"freight_server/core/domain"
)

func TestParseClassification(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantType string
		wantConf int
		wantErr  bool
	}{
		{
			name:     "percent scale",
			raw:      `{"document_type": "arrival_notice", "confidence": 87, "reasoning": "AN attached"}`,
			wantType: "arrival_notice",
			wantConf: 87,
		},
		{
			name:     "unit scale in code fence",
			raw:      "```json\n{\"document_type\": \"final_bl\", \"confidence\": 0.72}\n```",
			wantType: "final_bl",
			wantConf: 72,
		},
		{
			name:     "string confidence",
			raw:      `{"document_type": "Booking_Confirmation", "confidence": "91%"}`,
			wantType: "Booking_Confirmation",
			wantConf: 91,
		},
		{
			name:     "unknown label passes through",
			raw:      `{"document_type": "packing_list", "confidence": 60}`,
			wantType: "packing_list",
			wantConf: 60,
		},
		{name: "missing type", raw: `{"confidence": 60}`, wantErr: true},
		{name: "not json", raw: `I think it is a booking`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseClassification(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrMalformedOracleOutput) {
					t.Errorf("expected %v, got %v", domain.ErrMalformedOracleOutput, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.DocumentType != tt.wantType {
				t.Errorf("expected %q, got %q", tt.wantType, got.DocumentType)
			}
			if got.Confidence != tt.wantConf {
				t.Errorf("expected %d, got %d", tt.wantConf, got.Confidence)
			}
		})
	}
}

func TestParseExtraction(t *testing.T) {
	raw := "```json\n" + `{
  "fields": {
    "booking_number": {"value": "ABC123", "confidence": 0.95},
    "ETA": {"value": "2025-03-12", "confidence": 80},
    "gross_weight": {"value": 12500.5},
    "consignee": {"value": null},
    "vessel_name": "MAERSK KOLKATA",
    "voyage_number": ""
  }
}` + "\n```"

	fields, err := ParseExtraction(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fields) != 4 {
		t.Fatalf("expected 4 fields, got %d: %v", len(fields), fields)
	}
	if f := fields["booking_number"]; f.Value != "ABC123" || f.Confidence != 95 {
		t.Errorf("unexpected booking_number %+v", f)
	}
	if f := fields["eta"]; f.Value != "2025-03-12" || f.Confidence != 80 {
		t.Errorf("unexpected eta %+v", f)
	}
	if f := fields["gross_weight"]; f.Value != "12500.5" {
		t.Errorf("expected %q, got %q", "12500.5", f.Value)
	}
	if f := fields["vessel_name"]; f.Value != "MAERSK KOLKATA" || f.Confidence != 0 {
		t.Errorf("unexpected vessel_name %+v", f)
	}
}

func TestParseExtractionFlat(t *testing.T) {
	fields, err := ParseExtraction(`{"bl_number": "MAEU998877", "container_number": null}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fields) != 1 || fields["bl_number"].Value != "MAEU998877" {
		t.Errorf("unexpected fields %v", fields)
	}

	if _, err := ParseExtraction(`{"eta": `); !errors.Is(err, domain.ErrMalformedOracleOutput) {
		t.Errorf("expected %v, got %v", domain.ErrMalformedOracleOutput, err)
	}
}

func TestParseExtractionToleratesNonScalarFields(t *testing.T) {
	raw := `{
  "booking_number": "ABC123",
  "vessel_name": {"value": {"name": "MAERSK KOLKATA"}},
  "port_of_loading": {"code": "CNSHA"},
  "container_number": ["MSCU1234567", "TGHU7654321"],
  "seal_number": [["SL1"]],
  "etd": []
}`
	fields, err := ParseExtraction(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fields) != 2 {
		t.Fatalf("expected 2 fields, got %d: %v", len(fields), fields)
	}
	if got := fields["booking_number"].Value; got != "ABC123" {
		t.Errorf("expected %q, got %q", "ABC123", got)
	}
	if got := fields["container_number"].Value; got != "MSCU1234567, TGHU7654321" {
		t.Errorf("expected %q, got %q", "MSCU1234567, TGHU7654321", got)
	}

	fields, err = ParseExtraction(`{"fields": {"container_number": {"value": ["MSCU1234567"], "confidence": 0.9}}}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f := fields["container_number"]; f.Value != "MSCU1234567" || f.Confidence != 90 {
		t.Errorf("unexpected container_number %+v", f)
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name     string
		in       float64
		expected int
	}{
		{name: "unit scale", in: 0.85, expected: 85},
		{name: "one is a percent", in: 1, expected: 1},
		{name: "percent scale", in: 92, expected: 92},
		{name: "zero", in: 0, expected: 0},
		{name: "negative", in: -4, expected: 0},
		{name: "above range", in: 140, expected: 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := score(tt.in); got != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestCalculateCost(t *testing.T) {
	got := CalculateCost("gpt-4o-mini", 1_000_000, 1_000_000)
	if math.Abs(got-0.75) > 1e-9 {
		t.Errorf("expected 0.75, got %v", got)
	}
	if CalculateCost("unknown", 10, 10) != 0 {
		t.Error("expected zero cost for unknown model")
	}
}

func TestTruncateBody(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		maxLen   int
		expected string
	}{
		{name: "short body", body: "Hello world", maxLen: 100, expected: "Hello world"},
		{name: "exact length", body: "Hello", maxLen: 5, expected: "Hello"},
		{name: "truncated", body: "Hello world, this is a long message", maxLen: 10, expected: "Hello worl..."},
		{name: "multibyte boundary", body: "Café au lait", maxLen: 4, expected: "Caf..."},
		{name: "multibyte kept whole", body: "Café au lait", maxLen: 5, expected: "Café..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncateBody(tt.body, tt.maxLen); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}
