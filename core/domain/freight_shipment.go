package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Shipment is the per-booking aggregate.
type Shipment struct {
	ID               uuid.UUID `json:"id"`
	BookingNumber    string    `json:"booking_number"`
	BLNumber         string    `json:"bl_number,omitempty"`
	ContainerNumbers []string  `json:"container_numbers,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// AddContainers merges containers into the shipment set and reports whether it grew.
func (s *Shipment) AddContainers(containers []string) bool {
	seen := make(map[string]struct{}, len(s.ContainerNumbers))
	for _, c := range s.ContainerNumbers {
		seen[c] = struct{}{}
	}
	grew := false
	for _, c := range containers {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		s.ContainerNumbers = append(s.ContainerNumbers, c)
		grew = true
	}
	sort.Strings(s.ContainerNumbers)
	return grew
}

// LinkMethod records how a document was attached to a shipment.
type LinkMethod string

const (
	LinkByBooking      LinkMethod = "booking"
	LinkByBL           LinkMethod = "bl"
	LinkByContainer    LinkMethod = "container"
	LinkByThreadRepair LinkMethod = "thread_repair"
)

// ShipmentLink attaches one document to one shipment.
type ShipmentLink struct {
	ShipmentID uuid.UUID  `json:"shipment_id"`
	DocumentID uuid.UUID  `json:"document_id"`
	Method     LinkMethod `json:"method"`
	LinkedAt   time.Time  `json:"linked_at"`
}

// LinkCorrection is the audit row written whenever a thread repair moves a document.
type LinkCorrection struct {
	ID              uuid.UUID      `json:"id"`
	DocumentID      uuid.UUID      `json:"document_id"`
	ThreadID        string         `json:"thread_id"`
	FromShipmentID  *uuid.UUID     `json:"from_shipment_id,omitempty"`
	ToShipmentID    uuid.UUID      `json:"to_shipment_id"`
	IdentifierKind  IdentifierKind `json:"identifier_kind"`
	IdentifierValue string         `json:"identifier_value"`
	CorrectedAt     time.Time      `json:"corrected_at"`
}

// ShipmentChangeEvent notifies downstream consumers of what a document changed.
type ShipmentChangeEvent struct {
	ShipmentID    uuid.UUID    `json:"shipment_id"`
	BookingNumber string       `json:"booking_number"`
	DocumentID    uuid.UUID    `json:"document_id"`
	DocumentType  DocumentType `json:"document_type"`
	Revision      int          `json:"revision"`
	ChangedFields []string     `json:"changed_fields"`
	WorkflowState string       `json:"workflow_state,omitempty"`
	PreviousState string       `json:"previous_state,omitempty"`
	Source        string       `json:"source"`
	OccurredAt    time.Time    `json:"occurred_at"`
}

// ShipmentView is the read model returned to operators.
type ShipmentView struct {
	Shipment    *Shipment             `json:"shipment"`
	Fields      []*ShipmentField      `json:"fields"`
	Workflow    *WorkflowState        `json:"workflow,omitempty"`
	Transitions []*WorkflowTransition `json:"transitions,omitempty"`
	Revisions   []*DocumentRevision   `json:"revisions,omitempty"`
	Documents   []*LinkedDocument     `json:"documents,omitempty"`
}
