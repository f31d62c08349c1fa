package domain

import (
	"time"

	"github.com/google/uuid"
)

// ClassificationMethod records which stage produced the document type.
type ClassificationMethod string

const (
	MethodRule    ClassificationMethod = "rule"
	MethodLLM     ClassificationMethod = "llm"
	MethodGuard   ClassificationMethod = "guard"
	MethodDefault ClassificationMethod = "default"
)

// ReviewAction is the output of the confidence engine.
type ReviewAction string

const (
	ActionAccept         ReviewAction = "accept"
	ActionFlagReview     ReviewAction = "flag_review"
	ActionEscalateSonnet ReviewAction = "escalate_sonnet"
	ActionEscalateOpus   ReviewAction = "escalate_opus"
)

// IsEscalation reports whether the action asks for a stronger extraction tier.
func (a ReviewAction) IsEscalation() bool {
	return a == ActionEscalateSonnet || a == ActionEscalateOpus
}

// ReviewStatus tracks human review for flagged documents.
type ReviewStatus string

const (
	ReviewNone     ReviewStatus = "none"
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// Eligible reports whether a document with this status may mutate shipment state.
func (s ReviewStatus) Eligible() bool {
	return s == ReviewNone || s == ReviewApproved || s == ""
}

// ExtractionTier selects the capability tier of the extraction oracle.
type ExtractionTier string

const (
	TierBase ExtractionTier = "base"
	TierMid  ExtractionTier = "mid"
	TierTop  ExtractionTier = "top"
)

// ClassificationRecord is persisted once per document and updated on reclassification.
type ClassificationRecord struct {
	DocumentID     uuid.UUID            `json:"document_id"`
	DocumentType   DocumentType         `json:"document_type"`
	Confidence     int                  `json:"confidence"`
	Method         ClassificationMethod `json:"method"`
	MatchedRule    string               `json:"matched_rule,omitempty"`
	Reasoning      string               `json:"reasoning,omitempty"`
	ReviewAction   ReviewAction         `json:"review_action"`
	ReviewStatus   ReviewStatus         `json:"review_status"`
	ExtractionTier ExtractionTier       `json:"extraction_tier"`
	ClassifiedAt   time.Time            `json:"classified_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}
