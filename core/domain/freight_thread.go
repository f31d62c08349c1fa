package domain

import (
	"time"

	"github.com/google/uuid"
)

// IdentifierKind is the type of identifier anchoring a thread.
type IdentifierKind string

const (
	IdentifierBooking   IdentifierKind = "booking_number"
	IdentifierBL        IdentifierKind = "bl_number"
	IdentifierContainer IdentifierKind = "container_number"
	IdentifierReference IdentifierKind = "reference_number"
)

// IdentifierPriority lists identifier kinds from strongest to weakest.
var IdentifierPriority = []IdentifierKind{
	IdentifierBooking,
	IdentifierBL,
	IdentifierContainer,
	IdentifierReference,
}

// Rank returns the position of k in IdentifierPriority, lower is stronger.
func (k IdentifierKind) Rank() int {
	for i, kind := range IdentifierPriority {
		if kind == k {
			return i
		}
	}
	return len(IdentifierPriority)
}

// ThreadAuthority anchors every reply in a thread to one identifier.
type ThreadAuthority struct {
	ThreadID            string         `json:"thread_id"`
	AuthorityDocumentID uuid.UUID      `json:"authority_document_id"`
	IdentifierKind      IdentifierKind `json:"identifier_kind"`
	IdentifierValue     string         `json:"identifier_value"`
	Confidence          int            `json:"confidence"`
	ComputedAt          time.Time      `json:"computed_at"`
}
