package domain

import (
	"time"

	"github.com/google/uuid"
)

// DocumentRevision records one semantically distinct version of a document type for a shipment.
type DocumentRevision struct {
	ID               uuid.UUID    `json:"id"`
	ShipmentID       uuid.UUID    `json:"shipment_id"`
	DocumentType     DocumentType `json:"document_type"`
	Revision         int          `json:"revision"`
	Fingerprint      string       `json:"fingerprint"`
	ChangedFields    []string     `json:"changed_fields"`
	SourceDocumentID uuid.UUID    `json:"source_document_id"`
	CreatedAt        time.Time    `json:"created_at"`
}
