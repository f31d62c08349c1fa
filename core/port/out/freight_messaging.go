package out

import (
	"context"
	"time"

	"freight_server/core/domain"

	"github.com/google/uuid"
)

// DocumentContent is the raw message content kept for reprocessing.
type DocumentContent struct {
	DocumentID     uuid.UUID `json:"document_id"`
	ExternalID     string    `json:"external_id"`
	InReplyTo      string    `json:"in_reply_to,omitempty"`
	Subject        string    `json:"subject"`
	Body           string    `json:"body"`
	AttachmentText string    `json:"attachment_text,omitempty"`
	StoredAt       time.Time `json:"stored_at"`
}

// ContentStore persists raw document content.
type ContentStore interface {
	SaveContent(ctx context.Context, c *DocumentContent) error
	GetContent(ctx context.Context, documentID uuid.UUID) (*DocumentContent, error)
}

// ChangePublisher notifies downstream consumers of shipment changes.
type ChangePublisher interface {
	PublishShipmentChange(ctx context.Context, event *domain.ShipmentChangeEvent) error
}

// LinkProjection is a document-to-shipment edge for the link graph.
type LinkProjection struct {
	ShipmentID    uuid.UUID           `json:"shipment_id"`
	BookingNumber string              `json:"booking_number"`
	DocumentID    uuid.UUID           `json:"document_id"`
	DocumentType  domain.DocumentType `json:"document_type"`
	ThreadID      string              `json:"thread_id"`
	Method        domain.LinkMethod   `json:"method"`
}

// LinkProjector mirrors shipment links into a graph store.
type LinkProjector interface {
	ProjectLink(ctx context.Context, p *LinkProjection) error
	RemoveLink(ctx context.Context, shipmentID, documentID uuid.UUID) error
}

// JobProducer enqueues asynchronous engine jobs.
type JobProducer interface {
	PublishIngest(ctx context.Context, msg *domain.InboundMessage) (string, error)
	PublishReprocess(ctx context.Context, documentID uuid.UUID) (string, error)
	PublishReconcile(ctx context.Context) (string, error)
}
