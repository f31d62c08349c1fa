package out

import (
	"context"

	"freight_server/core/domain"

	"github.com/google/uuid"
)

// ClassificationRequest is the input of the classification oracle.
type ClassificationRequest struct {
	Subject     string   `json:"subject"`
	Sender      string   `json:"sender"`
	Attachments []string `json:"attachments"`
	Body        string   `json:"body"`
}

// ClassificationResult is the parsed oracle answer. DocumentType may be an unknown label.
type ClassificationResult struct {
	DocumentType string `json:"document_type"`
	Confidence   int    `json:"confidence"`
	Reasoning    string `json:"reasoning"`
}

// ClassificationOracle classifies a message when no deterministic rule matches.
type ClassificationOracle interface {
	Classify(ctx context.Context, req *ClassificationRequest) (*ClassificationResult, error)
}

// ExtractionRequest is the input of the extraction oracle.
type ExtractionRequest struct {
	DocumentID   uuid.UUID             `json:"document_id"`
	DocumentType domain.DocumentType   `json:"document_type"`
	Content      string                `json:"content"`
	Tier         domain.ExtractionTier `json:"tier"`
}

// ExtractedValue is one field value with the oracle's confidence (0-100).
type ExtractedValue struct {
	Value      string `json:"value"`
	Confidence int    `json:"confidence"`
}

// ExtractionResult is the parsed field map.
type ExtractionResult struct {
	Fields map[string]ExtractedValue `json:"fields"`
	Tier   domain.ExtractionTier     `json:"tier"`
	Model  string                    `json:"model"`
}

// ExtractionOracle extracts shipment fields at a chosen capability tier.
type ExtractionOracle interface {
	Extract(ctx context.Context, req *ExtractionRequest) (*ExtractionResult, error)
}

// OracleCall is the raw exchange with an oracle, kept for audit.
type OracleCall struct {
	DocumentID uuid.UUID             `json:"document_id"`
	Kind       string                `json:"kind"`
	Tier       domain.ExtractionTier `json:"tier"`
	Model      string                `json:"model"`
	Response   string                `json:"response"`
	Error      string                `json:"error,omitempty"`
	LatencyMS  int64                 `json:"latency_ms"`
}

// OracleAuditStore keeps raw oracle responses.
type OracleAuditStore interface {
	RecordCall(ctx context.Context, call *OracleCall) error
}
