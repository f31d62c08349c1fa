package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"time"

	"freight_server/core/domain"

	"github.com/google/uuid"
)

// =============================================================================
// Shipments
// =============================================================================

func copyShipment(s domain.Shipment) *domain.Shipment {
	s.ContainerNumbers = append([]string(nil), s.ContainerNumbers...)
	return &s
}

func (s *Store) EnsureShipment(ctx context.Context, bookingNumber string) (*domain.Shipment, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sh := range s.shipments {
		if strings.EqualFold(sh.BookingNumber, bookingNumber) {
			return copyShipment(sh), nil
		}
	}
	now := time.Now().UTC()
	sh := domain.Shipment{
		ID:            uuid.New(),
		BookingNumber: strings.ToUpper(strings.TrimSpace(bookingNumber)),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.shipments[sh.ID] = sh
	return copyShipment(sh), nil
}

func (s *Store) GetShipment(ctx context.Context, id uuid.UUID) (*domain.Shipment, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	sh, ok := s.shipments[id]
	if !ok {
		return nil, nil
	}
	return copyShipment(sh), nil
}

func (s *Store) findShipment(match func(domain.Shipment) bool) *domain.Shipment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *domain.Shipment
	for _, sh := range s.shipments {
		if !match(sh) {
			continue
		}
		// oldest shipment wins when identifiers collide
		if found == nil || sh.CreatedAt.Before(found.CreatedAt) {
			found = copyShipment(sh)
		}
	}
	return found
}

func (s *Store) FindByBooking(ctx context.Context, bookingNumber string) (*domain.Shipment, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	return s.findShipment(func(sh domain.Shipment) bool {
		return strings.EqualFold(sh.BookingNumber, strings.TrimSpace(bookingNumber))
	}), nil
}

func (s *Store) FindByBL(ctx context.Context, blNumber string) (*domain.Shipment, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	return s.findShipment(func(sh domain.Shipment) bool {
		return sh.BLNumber != "" && strings.EqualFold(sh.BLNumber, strings.TrimSpace(blNumber))
	}), nil
}

func (s *Store) FindByContainer(ctx context.Context, containerNumber string) (*domain.Shipment, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	want := strings.ToUpper(strings.TrimSpace(containerNumber))
	return s.findShipment(func(sh domain.Shipment) bool {
		for _, c := range sh.ContainerNumbers {
			if c == want {
				return true
			}
		}
		return false
	}), nil
}

func (s *Store) UpdateIdentifiers(ctx context.Context, sh *domain.Shipment) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.shipments[sh.ID]
	if !ok {
		return domain.ErrShipmentNotFound
	}
	cur.BLNumber = sh.BLNumber
	cur.ContainerNumbers = append([]string(nil), sh.ContainerNumbers...)
	cur.UpdatedAt = time.Now().UTC()
	s.shipments[sh.ID] = cur
	return nil
}

func (s *Store) ListShipmentIDs(ctx context.Context) ([]uuid.UUID, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(s.shipments))
	for id := range s.shipments {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

func (s *Store) GetFields(ctx context.Context, shipmentID uuid.UUID) (map[string]*domain.ShipmentField, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*domain.ShipmentField, len(s.fields[shipmentID]))
	for name, f := range s.fields[shipmentID] {
		f := f
		out[name] = &f
	}
	return out, nil
}

func (s *Store) UpsertField(ctx context.Context, f *domain.ShipmentField) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fields[f.ShipmentID] == nil {
		s.fields[f.ShipmentID] = make(map[string]domain.ShipmentField)
	}
	s.fields[f.ShipmentID][f.FieldName] = *f
	return nil
}

func (s *Store) DeleteField(ctx context.Context, shipmentID uuid.UUID, fieldName string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.fields[shipmentID], fieldName)
	return nil
}

// Lock is a no-op; callers serialize shipments with an in-process key lock.
func (s *Store) Lock(ctx context.Context, shipmentID uuid.UUID) error {
	return ctxErr(ctx)
}

// =============================================================================
// Links
// =============================================================================

func (s *Store) GetLink(ctx context.Context, documentID uuid.UUID) (*domain.ShipmentLink, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.links[documentID]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (s *Store) Link(ctx context.Context, link *domain.ShipmentLink) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	l := *link
	if l.LinkedAt.IsZero() {
		l.LinkedAt = time.Now().UTC()
	}
	s.links[link.DocumentID] = l
	return nil
}

func (s *Store) Unlink(ctx context.Context, documentID uuid.UUID) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.links, documentID)
	return nil
}

func (s *Store) ListLinkedDocuments(ctx context.Context, shipmentID uuid.UUID) ([]*domain.LinkedDocument, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.LinkedDocument
	for docID, l := range s.links {
		if l.ShipmentID != shipmentID {
			continue
		}
		d, ok := s.documents[docID]
		if !ok {
			continue
		}
		ld := &domain.LinkedDocument{
			DocumentID:   d.ID,
			ThreadID:     d.ThreadID,
			DocumentType: d.DocumentType,
			Direction:    d.Direction,
			IsReply:      d.IsReply,
			ReviewStatus: domain.ReviewNone,
			ReceivedAt:   d.ReceivedAt,
		}
		if rec, ok := s.classifications[docID]; ok {
			ld.DocumentType = rec.DocumentType
			ld.ReviewStatus = rec.ReviewStatus
		}
		out = append(out, ld)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ReceivedAt.Before(out[j].ReceivedAt)
		}
		return out[i].DocumentID.String() < out[j].DocumentID.String()
	})
	return out, nil
}

func (s *Store) RecordCorrection(ctx context.Context, c *domain.LinkCorrection) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.corrections = append(s.corrections, *c)
	return nil
}

func (s *Store) ListCorrections(ctx context.Context, threadID string) ([]*domain.LinkCorrection, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.LinkCorrection
	for _, c := range s.corrections {
		if threadID == "" || c.ThreadID == threadID {
			c := c
			out = append(out, &c)
		}
	}
	return out, nil
}

// =============================================================================
// Revisions
// =============================================================================

func (s *Store) FindByFingerprint(ctx context.Context, shipmentID uuid.UUID, docType domain.DocumentType, fingerprint string) (*domain.DocumentRevision, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.revisions {
		if r.ShipmentID == shipmentID && r.DocumentType == docType && r.Fingerprint == fingerprint {
			r := r
			return &r, nil
		}
	}
	return nil, nil
}

func (s *Store) FindBySource(ctx context.Context, shipmentID, documentID uuid.UUID) (*domain.DocumentRevision, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.revisions {
		if r.ShipmentID == shipmentID && r.SourceDocumentID == documentID {
			r := r
			return &r, nil
		}
	}
	return nil, nil
}

func (s *Store) MaxRevision(ctx context.Context, shipmentID uuid.UUID, docType domain.DocumentType) (int, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	max := 0
	for _, r := range s.revisions {
		if r.ShipmentID == shipmentID && r.DocumentType == docType && r.Revision > max {
			max = r.Revision
		}
	}
	return max, nil
}

func (s *Store) CreateRevision(ctx context.Context, rev *domain.DocumentRevision) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r := *rev
	r.ChangedFields = append([]string(nil), rev.ChangedFields...)
	s.revisions = append(s.revisions, r)
	return nil
}

func (s *Store) ListRevisions(ctx context.Context, shipmentID uuid.UUID) ([]*domain.DocumentRevision, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.DocumentRevision
	for _, r := range s.revisions {
		if r.ShipmentID == shipmentID {
			r := r
			out = append(out, &r)
		}
	}
	return out, nil
}

func (s *Store) DeleteRevision(ctx context.Context, id uuid.UUID) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.revisions = slices.DeleteFunc(s.revisions, func(r domain.DocumentRevision) bool { return r.ID == id })
	return nil
}

// =============================================================================
// Workflow
// =============================================================================

func (s *Store) GetState(ctx context.Context, shipmentID uuid.UUID) (*domain.WorkflowState, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[shipmentID]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (s *Store) SaveState(ctx context.Context, state *domain.WorkflowState, transition *domain.WorkflowTransition) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[state.ShipmentID] = *state
	if transition != nil {
		s.transitions = append(s.transitions, *transition)
	}
	return nil
}

func (s *Store) ListTransitions(ctx context.Context, shipmentID uuid.UUID) ([]*domain.WorkflowTransition, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.WorkflowTransition
	for _, t := range s.transitions {
		if t.ShipmentID == shipmentID {
			t := t
			out = append(out, &t)
		}
	}
	return out, nil
}

// =============================================================================
// Thread authority
// =============================================================================

func (s *Store) UpsertAuthority(ctx context.Context, a *domain.ThreadAuthority) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.authorities[a.ThreadID] = *a
	return nil
}

func (s *Store) GetAuthority(ctx context.Context, threadID string) (*domain.ThreadAuthority, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.authorities[threadID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}
