package revision

import (
	"context"
	"fmt"
	"time"

	"freight_server/core/domain"
	"freight_server/core/port/out"

	"github.com/google/uuid"
)

// Tracker assigns monotonic revision numbers per (shipment, document type).
type Tracker struct {
	repo out.RevisionRepository
}

// NewTracker creates a Tracker.
func NewTracker(repo out.RevisionRepository) *Tracker {
	return &Tracker{repo: repo}
}

// DuplicateOf returns the existing revision that makes this document a duplicate, or nil.
// A document is a duplicate when it already produced a revision for the shipment,
// or when another document of the same type carried the same fingerprint.
func (t *Tracker) DuplicateOf(ctx context.Context, shipmentID, documentID uuid.UUID, docType domain.DocumentType, fingerprint string) (*domain.DocumentRevision, error) {
	rev, err := t.repo.FindBySource(ctx, shipmentID, documentID)
	if err != nil {
		return nil, fmt.Errorf("find revision by source: %w", err)
	}
	if rev != nil {
		return rev, nil
	}

	rev, err = t.repo.FindByFingerprint(ctx, shipmentID, docType, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("find revision by fingerprint: %w", err)
	}
	return rev, nil
}

// Record creates the next revision. Callers must hold the shipment lock.
func (t *Tracker) Record(ctx context.Context, shipmentID, documentID uuid.UUID, docType domain.DocumentType, fingerprint string, changed []string) (*domain.DocumentRevision, error) {
	max, err := t.repo.MaxRevision(ctx, shipmentID, docType)
	if err != nil {
		return nil, fmt.Errorf("max revision: %w", err)
	}

	if changed == nil {
		changed = []string{}
	}
	rev := &domain.DocumentRevision{
		ID:               uuid.New(),
		ShipmentID:       shipmentID,
		DocumentType:     docType,
		Revision:         max + 1,
		Fingerprint:      fingerprint,
		ChangedFields:    changed,
		SourceDocumentID: documentID,
		CreatedAt:        time.Now().UTC(),
	}
	if err := t.repo.CreateRevision(ctx, rev); err != nil {
		return nil, fmt.Errorf("create revision: %w", err)
	}
	return rev, nil
}

// Move re-keys the revisions a document produced for one shipment onto another.
// A revision whose source or fingerprint already exists on the target is dropped,
// leaving the document a duplicate there. Callers must hold both shipment locks.
func (t *Tracker) Move(ctx context.Context, documentID, from, to uuid.UUID) (int, error) {
	revs, err := t.repo.ListRevisions(ctx, from)
	if err != nil {
		return 0, fmt.Errorf("list revisions: %w", err)
	}

	moved := 0
	for _, rev := range revs {
		if rev.SourceDocumentID != documentID {
			continue
		}
		if err := t.repo.DeleteRevision(ctx, rev.ID); err != nil {
			return moved, fmt.Errorf("delete revision: %w", err)
		}

		dup, err := t.DuplicateOf(ctx, to, documentID, rev.DocumentType, rev.Fingerprint)
		if err != nil {
			return moved, err
		}
		if dup != nil {
			continue
		}
		if _, err := t.Record(ctx, to, documentID, rev.DocumentType, rev.Fingerprint, rev.ChangedFields); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}
