package domain

import (
	"time"

	"github.com/google/uuid"
)

// Phase is the coarse lifecycle bucket of a workflow state.
type Phase string

const (
	PhaseBooking      Phase = "booking"
	PhasePreDeparture Phase = "pre_departure"
	PhaseInTransit    Phase = "in_transit"
	PhaseArrival      Phase = "arrival"
	PhaseDelivery     Phase = "delivery"
	PhaseClosed       Phase = "closed"
)

// TransitionSource records what triggered a workflow recomputation.
type TransitionSource string

const (
	SourceDocument  TransitionSource = "document"
	SourceReconcile TransitionSource = "reconcile"
	SourceRepair    TransitionSource = "thread_repair"
	SourceReview    TransitionSource = "review"
)

// WorkflowState is the stored lifecycle state of a shipment.
type WorkflowState struct {
	ShipmentID        uuid.UUID    `json:"shipment_id"`
	State             string       `json:"state"`
	Phase             Phase        `json:"phase"`
	Priority          int          `json:"priority"`
	Terminal          bool         `json:"terminal"`
	TriggerDocType    DocumentType `json:"trigger_document_type"`
	TriggerDocumentID uuid.UUID    `json:"trigger_document_id"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// WorkflowTransition is one history row of a state change.
type WorkflowTransition struct {
	ID                uuid.UUID        `json:"id"`
	ShipmentID        uuid.UUID        `json:"shipment_id"`
	FromState         string           `json:"from_state,omitempty"`
	ToState           string           `json:"to_state"`
	Phase             Phase            `json:"phase"`
	Priority          int              `json:"priority"`
	TriggerDocType    DocumentType     `json:"trigger_document_type"`
	TriggerDocumentID uuid.UUID        `json:"trigger_document_id"`
	Source            TransitionSource `json:"source"`
	TransitionedAt    time.Time        `json:"transitioned_at"`
}
