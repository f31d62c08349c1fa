// Package memory implements every outbound repository port in process memory.
// It backs tests and single-process dry runs; it has no rollback.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"freight_server/core/domain"
	"freight_server/core/port/out"

	"github.com/google/uuid"
)

var _ out.Store = (*Store)(nil)

type fieldKey struct {
	documentID uuid.UUID
	field      string
}

// Store is an in-memory out.Store.
type Store struct {
	mu sync.RWMutex

	documents       map[uuid.UUID]domain.Document
	classifications map[uuid.UUID]domain.ClassificationRecord
	observations    map[fieldKey]domain.ExtractedField
	obsOrder        []fieldKey

	shipments   map[uuid.UUID]domain.Shipment
	fields      map[uuid.UUID]map[string]domain.ShipmentField
	links       map[uuid.UUID]domain.ShipmentLink
	corrections []domain.LinkCorrection
	revisions   []domain.DocumentRevision
	states      map[uuid.UUID]domain.WorkflowState
	transitions []domain.WorkflowTransition
	authorities map[string]domain.ThreadAuthority
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		documents:       make(map[uuid.UUID]domain.Document),
		classifications: make(map[uuid.UUID]domain.ClassificationRecord),
		observations:    make(map[fieldKey]domain.ExtractedField),
		shipments:       make(map[uuid.UUID]domain.Shipment),
		fields:          make(map[uuid.UUID]map[string]domain.ShipmentField),
		links:           make(map[uuid.UUID]domain.ShipmentLink),
		states:          make(map[uuid.UUID]domain.WorkflowState),
		authorities:     make(map[string]domain.ThreadAuthority),
	}
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// RunInTx calls fn directly.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return fn(ctx)
}

// =============================================================================
// Documents
// =============================================================================

func (s *Store) SaveDocument(ctx context.Context, doc *domain.Document) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	d := *doc
	d.Attachments = append([]string(nil), doc.Attachments...)
	if existing, ok := s.documents[doc.ID]; ok {
		d.CreatedAt = existing.CreatedAt
	} else if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	s.documents[doc.ID] = d
	return nil
}

func (s *Store) GetDocument(ctx context.Context, id uuid.UUID) (*domain.Document, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.documents[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (s *Store) ListByThread(ctx context.Context, threadID string) ([]*domain.Document, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var docs []*domain.Document
	for _, d := range s.documents {
		if d.ThreadID == threadID {
			d := d
			docs = append(docs, &d)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].ReceivedAt.Equal(docs[j].ReceivedAt) {
			return docs[i].ReceivedAt.Before(docs[j].ReceivedAt)
		}
		return docs[i].ID.String() < docs[j].ID.String()
	})
	return docs, nil
}

func (s *Store) ListThreadIDs(ctx context.Context) ([]string, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var ids []string
	for _, d := range s.documents {
		if d.ThreadID == "" {
			continue
		}
		if _, ok := seen[d.ThreadID]; ok {
			continue
		}
		seen[d.ThreadID] = struct{}{}
		ids = append(ids, d.ThreadID)
	}
	sort.Strings(ids)
	return ids, nil
}

// =============================================================================
// Classifications
// =============================================================================

func (s *Store) UpsertClassification(ctx context.Context, rec *domain.ClassificationRecord) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r := *rec
	if existing, ok := s.classifications[rec.DocumentID]; ok && r.ClassifiedAt.IsZero() {
		r.ClassifiedAt = existing.ClassifiedAt
	}
	r.UpdatedAt = time.Now().UTC()
	s.classifications[rec.DocumentID] = r
	return nil
}

func (s *Store) GetClassification(ctx context.Context, documentID uuid.UUID) (*domain.ClassificationRecord, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.classifications[documentID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *Store) ListPendingReview(ctx context.Context, limit int) ([]*domain.ClassificationRecord, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var recs []*domain.ClassificationRecord
	for _, r := range s.classifications {
		if r.ReviewStatus == domain.ReviewPending {
			r := r
			recs = append(recs, &r)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].ClassifiedAt.Before(recs[j].ClassifiedAt)
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

func (s *Store) UpdateReviewStatus(ctx context.Context, documentID uuid.UUID, status domain.ReviewStatus) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.classifications[documentID]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	r.ReviewStatus = status
	r.UpdatedAt = time.Now().UTC()
	s.classifications[documentID] = r
	return nil
}

// =============================================================================
// Observations
// =============================================================================

func (s *Store) InsertObservations(ctx context.Context, fields []*domain.ExtractedField) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range fields {
		key := fieldKey{documentID: f.DocumentID, field: f.FieldName}
		if _, ok := s.observations[key]; ok {
			continue
		}
		s.observations[key] = *f
		s.obsOrder = append(s.obsOrder, key)
	}
	return nil
}

func (s *Store) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]*domain.ExtractedField, error) {
	return s.ListByDocuments(ctx, []uuid.UUID{documentID})
}

func (s *Store) ListByDocuments(ctx context.Context, documentIDs []uuid.UUID) ([]*domain.ExtractedField, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[uuid.UUID]struct{}, len(documentIDs))
	for _, id := range documentIDs {
		want[id] = struct{}{}
	}

	var out []*domain.ExtractedField
	for _, key := range s.obsOrder {
		if _, ok := want[key.documentID]; !ok {
			continue
		}
		f := s.observations[key]
		out = append(out, &f)
	}
	return out, nil
}

func (s *Store) UpdateResolution(ctx context.Context, documentID uuid.UUID, fieldName string, res domain.Resolution) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := fieldKey{documentID: documentID, field: fieldName}
	f, ok := s.observations[key]
	if !ok {
		return nil
	}
	f.Resolution = res
	s.observations[key] = f
	return nil
}

func (s *Store) ReclassifyObservations(ctx context.Context, documentID uuid.UUID, docType domain.DocumentType, levels map[string]int) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for field, level := range levels {
		key := fieldKey{documentID: documentID, field: field}
		f, ok := s.observations[key]
		if !ok {
			continue
		}
		f.DocumentType = docType
		f.AuthorityLevel = level
		if f.Resolution != domain.ResolutionRejected {
			f.Resolution = domain.ResolutionPending
		}
		s.observations[key] = f
	}
	return nil
}

func (s *Store) ReleaseDuplicates(ctx context.Context, documentID uuid.UUID) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, f := range s.observations {
		if key.documentID == documentID && f.Resolution == domain.ResolutionDuplicate {
			f.Resolution = domain.ResolutionPending
			s.observations[key] = f
		}
	}
	return nil
}
