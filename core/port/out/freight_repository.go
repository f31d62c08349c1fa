package out

import (
	"context"

	"freight_server/core/domain"

	"github.com/google/uuid"
)

// TxManager runs fn inside a transaction carried by the returned context.
type TxManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// DocumentRepository stores classified documents.
type DocumentRepository interface {
	SaveDocument(ctx context.Context, doc *domain.Document) error
	GetDocument(ctx context.Context, id uuid.UUID) (*domain.Document, error)
	ListByThread(ctx context.Context, threadID string) ([]*domain.Document, error)
	ListThreadIDs(ctx context.Context) ([]string, error)
}

// ClassificationRepository stores one classification record per document.
type ClassificationRepository interface {
	UpsertClassification(ctx context.Context, rec *domain.ClassificationRecord) error
	GetClassification(ctx context.Context, documentID uuid.UUID) (*domain.ClassificationRecord, error)
	ListPendingReview(ctx context.Context, limit int) ([]*domain.ClassificationRecord, error)
	UpdateReviewStatus(ctx context.Context, documentID uuid.UUID, status domain.ReviewStatus) error
}

// FieldRepository stores append-only field observations.
type FieldRepository interface {
	// InsertObservations ignores observations whose (document, field) already exists.
	InsertObservations(ctx context.Context, fields []*domain.ExtractedField) error
	ListByDocument(ctx context.Context, documentID uuid.UUID) ([]*domain.ExtractedField, error)
	ListByDocuments(ctx context.Context, documentIDs []uuid.UUID) ([]*domain.ExtractedField, error)
	UpdateResolution(ctx context.Context, documentID uuid.UUID, fieldName string, res domain.Resolution) error
	// ReclassifyObservations moves a document's observations to docType with the
	// given per-field levels and returns every non-rejected one to pending.
	ReclassifyObservations(ctx context.Context, documentID uuid.UUID, docType domain.DocumentType, levels map[string]int) error
	// ReleaseDuplicates returns a document's duplicate observations to pending.
	ReleaseDuplicates(ctx context.Context, documentID uuid.UUID) error
}

// ShipmentRepository stores shipments and their authoritative field values.
type ShipmentRepository interface {
	// EnsureShipment returns the shipment for booking, creating it when absent.
	EnsureShipment(ctx context.Context, bookingNumber string) (*domain.Shipment, error)
	GetShipment(ctx context.Context, id uuid.UUID) (*domain.Shipment, error)
	FindByBooking(ctx context.Context, bookingNumber string) (*domain.Shipment, error)
	FindByBL(ctx context.Context, blNumber string) (*domain.Shipment, error)
	FindByContainer(ctx context.Context, containerNumber string) (*domain.Shipment, error)
	UpdateIdentifiers(ctx context.Context, s *domain.Shipment) error
	ListShipmentIDs(ctx context.Context) ([]uuid.UUID, error)

	GetFields(ctx context.Context, shipmentID uuid.UUID) (map[string]*domain.ShipmentField, error)
	UpsertField(ctx context.Context, f *domain.ShipmentField) error
	DeleteField(ctx context.Context, shipmentID uuid.UUID, fieldName string) error

	// Lock serializes writers of one shipment for the life of the current transaction.
	Lock(ctx context.Context, shipmentID uuid.UUID) error
}

// LinkRepository attaches documents to shipments.
type LinkRepository interface {
	GetLink(ctx context.Context, documentID uuid.UUID) (*domain.ShipmentLink, error)
	Link(ctx context.Context, link *domain.ShipmentLink) error
	Unlink(ctx context.Context, documentID uuid.UUID) error
	ListLinkedDocuments(ctx context.Context, shipmentID uuid.UUID) ([]*domain.LinkedDocument, error)
	RecordCorrection(ctx context.Context, c *domain.LinkCorrection) error
	ListCorrections(ctx context.Context, threadID string) ([]*domain.LinkCorrection, error)
}

// RevisionRepository stores document revisions.
type RevisionRepository interface {
	FindByFingerprint(ctx context.Context, shipmentID uuid.UUID, docType domain.DocumentType, fingerprint string) (*domain.DocumentRevision, error)
	FindBySource(ctx context.Context, shipmentID, documentID uuid.UUID) (*domain.DocumentRevision, error)
	MaxRevision(ctx context.Context, shipmentID uuid.UUID, docType domain.DocumentType) (int, error)
	CreateRevision(ctx context.Context, rev *domain.DocumentRevision) error
	ListRevisions(ctx context.Context, shipmentID uuid.UUID) ([]*domain.DocumentRevision, error)
	DeleteRevision(ctx context.Context, id uuid.UUID) error
}

// WorkflowRepository stores workflow state and its history.
type WorkflowRepository interface {
	GetState(ctx context.Context, shipmentID uuid.UUID) (*domain.WorkflowState, error)
	SaveState(ctx context.Context, state *domain.WorkflowState, transition *domain.WorkflowTransition) error
	ListTransitions(ctx context.Context, shipmentID uuid.UUID) ([]*domain.WorkflowTransition, error)
}

// ThreadRepository stores thread authorities.
type ThreadRepository interface {
	UpsertAuthority(ctx context.Context, a *domain.ThreadAuthority) error
	GetAuthority(ctx context.Context, threadID string) (*domain.ThreadAuthority, error)
}

// Store groups every repository the engine needs.
type Store interface {
	TxManager
	DocumentRepository
	ClassificationRepository
	FieldRepository
	ShipmentRepository
	LinkRepository
	RevisionRepository
	WorkflowRepository
	ThreadRepository
}
