package ingest

import (
	"context"
	"fmt"
	"slices"
	"time"

	"freight_server/core/domain"
	"freight_server/core/port/in"
	"freight_server/core/port/out"
	"freight_server/core/service/authority"
	"freight_server/core/service/revision"
	"freight_server/pkg/logger"

	"github.com/google/uuid"
)

// =============================================================================
// Apply (per-shipment critical section)
// =============================================================================

type applyState struct {
	shipment *domain.Shipment
	linked   *domain.ShipmentLink
	changed  []string
	revision int
	previous *domain.WorkflowState
	workflow *domain.WorkflowState
	transit  *domain.WorkflowTransition
	outcome  in.Outcome
	rejected map[string]string
}

// apply links the document to its shipment and, when the document is eligible,
// runs duplicate detection, authority resolution, revision numbering and workflow
// recomputation inside one transaction holding the shipment lock.
func (s *Service) apply(ctx context.Context, doc *domain.Document, rec *domain.ClassificationRecord, source domain.TransitionSource) (*in.ProcessResult, error) {
	obs, err := s.store.ListByDocument(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list observations: %w", err)
	}

	result := &in.ProcessResult{
		DocumentID:   doc.ID,
		DocumentType: rec.DocumentType,
		Confidence:   rec.Confidence,
		Action:       rec.ReviewAction,
		ReviewStatus: rec.ReviewStatus,
		Tier:         rec.ExtractionTier,
	}
	st := &applyState{rejected: rejectedOf(obs)}
	if len(st.rejected) > 0 {
		result.Rejected = st.rejected
	}

	link, err := s.store.GetLink(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get link: %w", err)
	}

	var (
		sh     *domain.Shipment
		method domain.LinkMethod
	)
	if link != nil {
		sh, err = s.store.GetShipment(ctx, link.ShipmentID)
		method = link.Method
	} else {
		sh, method, err = s.identify(ctx, obs)
	}
	if err != nil {
		return nil, err
	}
	if sh == nil {
		logger.WithFields(map[string]any{
			"document_id":   doc.ID,
			"document_type": rec.DocumentType,
		}).Info("[IngestService.apply] %v, document left unlinked", domain.ErrNoShipmentIdentifier)
		result.Outcome = in.OutcomeUnlinked
		if !rec.ReviewStatus.Eligible() {
			result.Outcome = in.OutcomeHeld
		}
		return result, nil
	}

	unlock, err := s.locks.Lock(ctx, sh.ID.String())
	if err != nil {
		return nil, err
	}
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Lock(ctx, sh.ID); err != nil {
			return fmt.Errorf("failed to lock shipment: %w", err)
		}
		// re-read under the lock
		cur, err := s.store.GetShipment(ctx, sh.ID)
		if err != nil {
			return fmt.Errorf("failed to get shipment: %w", err)
		}
		if cur == nil {
			return domain.ErrShipmentNotFound
		}
		st.shipment = cur

		if link == nil {
			st.linked = &domain.ShipmentLink{ShipmentID: cur.ID, DocumentID: doc.ID, Method: method}
			if err := s.store.Link(ctx, st.linked); err != nil {
				return fmt.Errorf("failed to link document: %w", err)
			}
		}

		if !rec.ReviewStatus.Eligible() {
			st.outcome = in.OutcomeHeld
			if rec.ReviewStatus == domain.ReviewRejected {
				st.outcome = in.OutcomeRejected
			}
			return nil
		}

		if err := s.applyFields(ctx, doc, rec, obs, st); err != nil {
			return err
		}
		return s.recomputeWorkflow(ctx, cur.ID, source, st)
	})
	unlock()
	if err != nil {
		return nil, err
	}

	shipmentID := st.shipment.ID
	result.ShipmentID = &shipmentID
	result.Outcome = st.outcome
	result.Revision = st.revision
	result.ChangedFields = st.changed
	result.Workflow = st.workflow
	result.Transition = st.transit

	s.afterCommit(ctx, doc, rec, st, source)
	return result, nil
}

// applyFields resolves the document's observations against the current shipment fields.
func (s *Service) applyFields(ctx context.Context, doc *domain.Document, rec *domain.ClassificationRecord, obs []*domain.ExtractedField, st *applyState) error {
	sh := st.shipment
	fp := revision.Fingerprint(revision.FieldsOf(obs))

	dup, err := s.tracker.DuplicateOf(ctx, sh.ID, doc.ID, rec.DocumentType, fp)
	if err != nil {
		return err
	}
	if dup != nil {
		st.outcome = in.OutcomeDuplicate
		st.revision = dup.Revision
		if dup.SourceDocumentID == doc.ID {
			return nil
		}
		for _, o := range obs {
			if o.Resolution == domain.ResolutionRejected || o.Resolution == domain.ResolutionDuplicate {
				continue
			}
			if err := s.store.UpdateResolution(ctx, o.DocumentID, o.FieldName, domain.ResolutionDuplicate); err != nil {
				return fmt.Errorf("failed to mark duplicate: %w", err)
			}
		}
		logger.WithFields(map[string]any{
			"shipment_id":  sh.ID,
			"document_id":  doc.ID,
			"duplicate_of": dup.SourceDocumentID,
			"revision":     dup.Revision,
		}).Info("[IngestService.applyFields] duplicate document")
		return nil
	}

	before, err := s.store.GetFields(ctx, sh.ID)
	if err != nil {
		return fmt.Errorf("failed to get shipment fields: %w", err)
	}
	current := make(map[string]*domain.ShipmentField, len(before))
	for k, v := range before {
		current[k] = v
	}

	for _, o := range obs {
		if !o.Resolution.Replayable() {
			continue
		}
		res := domain.ResolutionAccepted
		if !domain.IsShipmentKey(o.FieldName) {
			res = s.resolver.Decide(current[o.FieldName], o)
			if res == domain.ResolutionAccepted {
				f := authority.ToShipmentField(sh.ID, o)
				if err := s.store.UpsertField(ctx, f); err != nil {
					return fmt.Errorf("failed to upsert field %s: %w", o.FieldName, err)
				}
				current[o.FieldName] = f
			} else {
				owner := current[o.FieldName]
				logger.WithFields(map[string]any{
					"shipment_id":     sh.ID,
					"document_id":     doc.ID,
					"field":           o.FieldName,
					"authority":       s.resolver.Level(o.FieldName, o.DocumentType),
					"owner_document":  owner.DocumentID,
					"owner_authority": s.resolver.Level(owner.FieldName, owner.DocumentType),
				}).Debug("[IngestService.applyFields] lower-authority value discarded")
			}
		}
		if res != o.Resolution {
			if err := s.store.UpdateResolution(ctx, o.DocumentID, o.FieldName, res); err != nil {
				return fmt.Errorf("failed to record resolution: %w", err)
			}
		}
	}

	st.changed = authority.ChangedFields(before, current)

	containersGrew := sh.AddContainers(authority.ContainerSet(obs))
	bl := sh.BLNumber
	if f, ok := current[domain.FieldBLNumber]; ok {
		bl = f.Value
	}
	if containersGrew || bl != sh.BLNumber {
		sh.BLNumber = bl
		if err := s.store.UpdateIdentifiers(ctx, sh); err != nil {
			return fmt.Errorf("failed to update shipment identifiers: %w", err)
		}
	}
	if containersGrew && !slices.Contains(st.changed, domain.FieldContainerNumber) {
		st.changed = append(st.changed, domain.FieldContainerNumber)
		slices.Sort(st.changed)
	}

	rev, err := s.tracker.Record(ctx, sh.ID, doc.ID, rec.DocumentType, fp, st.changed)
	if err != nil {
		return err
	}
	st.revision = rev.Revision
	st.outcome = in.OutcomeApplied
	return nil
}

// recomputeWorkflow derives the state from every linked document and stores it when it changed.
func (s *Service) recomputeWorkflow(ctx context.Context, shipmentID uuid.UUID, source domain.TransitionSource, st *applyState) error {
	docs, err := s.store.ListLinkedDocuments(ctx, shipmentID)
	if err != nil {
		return fmt.Errorf("failed to list linked documents: %w", err)
	}
	current, err := s.store.GetState(ctx, shipmentID)
	if err != nil {
		return fmt.Errorf("failed to get workflow state: %w", err)
	}
	st.previous = current
	st.workflow = current

	candidate, _ := s.machine.Derive(docs)
	next, transition := s.machine.Next(shipmentID, current, candidate, source)
	if next == nil {
		return nil
	}
	if err := s.store.SaveState(ctx, next, transition); err != nil {
		return fmt.Errorf("failed to save workflow state: %w", err)
	}
	st.workflow = next
	st.transit = transition

	logger.WithFields(map[string]any{
		"shipment_id": shipmentID,
		"from":        transition.FromState,
		"to":          transition.ToState,
		"trigger":     transition.TriggerDocType,
		"source":      source,
	}).Info("[IngestService.recomputeWorkflow] workflow transition")
	return nil
}

// identify finds the shipment a document belongs to: booking number first
// (creating the shipment), then BL number, then any container number.
func (s *Service) identify(ctx context.Context, obs []*domain.ExtractedField) (*domain.Shipment, domain.LinkMethod, error) {
	values := make(map[string]string)
	for _, o := range obs {
		if o.Resolution == domain.ResolutionRejected || o.Value == "" {
			continue
		}
		values[o.FieldName] = o.Value
	}

	if booking := values[domain.FieldBookingNumber]; booking != "" {
		sh, err := s.store.EnsureShipment(ctx, booking)
		if err != nil {
			return nil, "", fmt.Errorf("failed to ensure shipment %s: %w", booking, err)
		}
		return sh, domain.LinkByBooking, nil
	}
	if bl := values[domain.FieldBLNumber]; bl != "" {
		sh, err := s.store.FindByBL(ctx, bl)
		if err != nil {
			return nil, "", fmt.Errorf("failed to find shipment by bl: %w", err)
		}
		if sh != nil {
			return sh, domain.LinkByBL, nil
		}
	}
	for _, c := range domain.SplitContainers(values[domain.FieldContainerNumber]) {
		sh, err := s.store.FindByContainer(ctx, c)
		if err != nil {
			return nil, "", fmt.Errorf("failed to find shipment by container: %w", err)
		}
		if sh != nil {
			return sh, domain.LinkByContainer, nil
		}
	}
	return nil, "", nil
}

// afterCommit publishes the change event and projects the new link. Failures are logged only.
func (s *Service) afterCommit(ctx context.Context, doc *domain.Document, rec *domain.ClassificationRecord, st *applyState, source domain.TransitionSource) {
	if st.linked != nil && s.projector != nil {
		err := s.projector.ProjectLink(ctx, &out.LinkProjection{
			ShipmentID:    st.shipment.ID,
			BookingNumber: st.shipment.BookingNumber,
			DocumentID:    doc.ID,
			DocumentType:  rec.DocumentType,
			ThreadID:      doc.ThreadID,
			Method:        st.linked.Method,
		})
		if err != nil {
			logger.WithError(err).WithField("document_id", doc.ID).Warn("[IngestService.afterCommit] link projection failed")
		}
	}

	if len(st.changed) == 0 && st.transit == nil {
		return
	}
	event := &domain.ShipmentChangeEvent{
		ShipmentID:    st.shipment.ID,
		BookingNumber: st.shipment.BookingNumber,
		DocumentID:    doc.ID,
		DocumentType:  rec.DocumentType,
		Revision:      st.revision,
		ChangedFields: st.changed,
		Source:        string(source),
		OccurredAt:    time.Now().UTC(),
	}
	if st.workflow != nil {
		event.WorkflowState = st.workflow.State
	}
	if st.previous != nil {
		event.PreviousState = st.previous.State
	}
	s.publish(ctx, event)
}

func (s *Service) publish(ctx context.Context, event *domain.ShipmentChangeEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishShipmentChange(ctx, event); err != nil {
		logger.WithError(err).WithField("shipment_id", event.ShipmentID).Warn("[IngestService.publish] failed to publish change event")
	}
}

func rejectedOf(obs []*domain.ExtractedField) map[string]string {
	rejected := make(map[string]string)
	for _, o := range obs {
		if o.Resolution == domain.ResolutionRejected {
			rejected[o.FieldName] = o.Reason
		}
	}
	return rejected
}
