package in

import (
	"context"

	"freight_server/core/domain"

	"github.com/google/uuid"
)

type IngestService interface {
	// Single document
	Process(ctx context.Context, msg *domain.InboundMessage) (*ProcessResult, error)
	Reprocess(ctx context.Context, documentID uuid.UUID) (*ProcessResult, error)

	// Batch: failures are collected, never abort the batch
	ProcessBatch(ctx context.Context, msgs []*domain.InboundMessage) *BatchSummary

	// Reconciliation
	Reconcile(ctx context.Context) (*ReconcileSummary, error)
	RebuildShipment(ctx context.Context, shipmentID uuid.UUID) error
	RepairThread(ctx context.Context, threadID string) (*RepairResult, error)

	// Human review
	ListPendingReview(ctx context.Context, limit int) ([]*domain.ClassificationRecord, error)
	ApproveReview(ctx context.Context, documentID uuid.UUID) (*ProcessResult, error)
	RejectReview(ctx context.Context, documentID uuid.UUID) error

	// Read model
	GetShipmentView(ctx context.Context, shipmentID uuid.UUID) (*domain.ShipmentView, error)
}

// Outcome summarizes what processing did with a document.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeHeld      Outcome = "held_for_review"
	OutcomeRejected  Outcome = "rejected"
	OutcomeUnlinked  Outcome = "unlinked"
)

type ProcessResult struct {
	DocumentID    uuid.UUID                  `json:"document_id"`
	DocumentType  domain.DocumentType        `json:"document_type"`
	Confidence    int                        `json:"confidence"`
	Action        domain.ReviewAction        `json:"action"`
	ReviewStatus  domain.ReviewStatus        `json:"review_status"`
	Tier          domain.ExtractionTier      `json:"tier"`
	ShipmentID    *uuid.UUID                 `json:"shipment_id,omitempty"`
	Outcome       Outcome                    `json:"outcome"`
	Revision      int                        `json:"revision,omitempty"`
	ChangedFields []string                   `json:"changed_fields,omitempty"`
	Workflow      *domain.WorkflowState      `json:"workflow,omitempty"`
	Rejected      map[string]string          `json:"rejected_fields,omitempty"`
	Transition    *domain.WorkflowTransition `json:"transition,omitempty"`
}

type BatchFailure struct {
	ExternalID string `json:"external_id"`
	Error      string `json:"error"`
}

type BatchSummary struct {
	Total     int              `json:"total"`
	Succeeded int              `json:"succeeded"`
	Failures  []BatchFailure   `json:"failures,omitempty"`
	Results   []*ProcessResult `json:"results,omitempty"`
}

type ReconcileSummary struct {
	Shipments     int      `json:"shipments"`
	FieldsChanged int      `json:"fields_changed"`
	StatesChanged int      `json:"states_changed"`
	Threads       int      `json:"threads"`
	Corrections   int      `json:"corrections"`
	Failures      []string `json:"failures,omitempty"`
}

type RepairResult struct {
	ThreadID    string                   `json:"thread_id"`
	Authority   *domain.ThreadAuthority  `json:"authority,omitempty"`
	Corrections []*domain.LinkCorrection `json:"corrections,omitempty"`
}
