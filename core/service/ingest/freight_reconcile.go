package ingest

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"freight_server/core/domain"
	"freight_server/core/port/in"
	"freight_server/core/port/out"
	"freight_server/core/service/authority"
	"freight_server/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// Reconciliation (full replay)
// =============================================================================

// Reconcile replays every shipment from its full document history, then runs the
// thread repair pass over every thread. Per-item failures are collected.
func (s *Service) Reconcile(ctx context.Context) (*in.ReconcileSummary, error) {
	start := time.Now()
	ids, err := s.store.ListShipmentIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list shipments: %w", err)
	}

	summary := &in.ReconcileSummary{Shipments: len(ids)}
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.cfg.BatchConcurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			fields, stateChanged, err := s.rebuild(ctx, id, domain.SourceReconcile)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failures = append(summary.Failures, fmt.Sprintf("shipment %s: %v", id, err))
				return nil
			}
			summary.FieldsChanged += fields
			if stateChanged {
				summary.StatesChanged++
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return summary, err
	}

	threads, err := s.store.ListThreadIDs(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to list threads: %w", err)
	}
	summary.Threads = len(threads)
	for _, threadID := range threads {
		res, err := s.RepairThread(ctx, threadID)
		if err != nil {
			summary.Failures = append(summary.Failures, fmt.Sprintf("thread %s: %v", threadID, err))
			continue
		}
		summary.Corrections += len(res.Corrections)
	}

	logger.WithFields(map[string]any{
		"shipments":      summary.Shipments,
		"fields_changed": summary.FieldsChanged,
		"states_changed": summary.StatesChanged,
		"threads":        summary.Threads,
		"corrections":    summary.Corrections,
		"failures":       len(summary.Failures),
	}).WithDuration(time.Since(start)).Info("[IngestService.Reconcile] reconciliation finished")
	return summary, nil
}

// RebuildShipment replays one shipment.
func (s *Service) RebuildShipment(ctx context.Context, shipmentID uuid.UUID) error {
	_, _, err := s.rebuild(ctx, shipmentID, domain.SourceReconcile)
	return err
}

// rebuild recomputes fields, identifiers and workflow of a shipment from the
// replayable observations of its eligible documents, writing only differences.
func (s *Service) rebuild(ctx context.Context, shipmentID uuid.UUID, source domain.TransitionSource) (int, bool, error) {
	unlock, err := s.locks.Lock(ctx, shipmentID.String())
	if err != nil {
		return 0, false, err
	}
	defer unlock()

	st := &applyState{}
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Lock(ctx, shipmentID); err != nil {
			return fmt.Errorf("failed to lock shipment: %w", err)
		}
		sh, err := s.store.GetShipment(ctx, shipmentID)
		if err != nil {
			return fmt.Errorf("failed to get shipment: %w", err)
		}
		if sh == nil {
			return domain.ErrShipmentNotFound
		}
		st.shipment = sh

		docs, err := s.store.ListLinkedDocuments(ctx, shipmentID)
		if err != nil {
			return fmt.Errorf("failed to list linked documents: %w", err)
		}
		var eligible []uuid.UUID
		for _, d := range docs {
			if d.Eligible() {
				eligible = append(eligible, d.DocumentID)
			}
		}
		var obs []*domain.ExtractedField
		if len(eligible) > 0 {
			if obs, err = s.store.ListByDocuments(ctx, eligible); err != nil {
				return fmt.Errorf("failed to list observations: %w", err)
			}
		}

		stored, err := s.store.GetFields(ctx, shipmentID)
		if err != nil {
			return fmt.Errorf("failed to get shipment fields: %w", err)
		}
		resolved := s.resolver.Resolve(shipmentID, obs)

		for name, f := range resolved {
			cur, ok := stored[name]
			if ok && cur.Value == f.Value && cur.DocumentID == f.DocumentID &&
				cur.DocumentType == f.DocumentType && cur.AuthorityLevel == f.AuthorityLevel {
				continue
			}
			if err := s.store.UpsertField(ctx, f); err != nil {
				return fmt.Errorf("failed to upsert field %s: %w", name, err)
			}
		}
		for name := range stored {
			if _, ok := resolved[name]; ok {
				continue
			}
			if err := s.store.DeleteField(ctx, shipmentID, name); err != nil {
				return fmt.Errorf("failed to delete field %s: %w", name, err)
			}
		}
		st.changed = authority.ChangedFields(stored, resolved)
		if err := s.syncResolutions(ctx, obs, resolved); err != nil {
			return err
		}

		containers := authority.ContainerSet(obs)
		bl := ""
		if f, ok := resolved[domain.FieldBLNumber]; ok {
			bl = f.Value
		}
		if bl != sh.BLNumber || !slices.Equal(containers, sh.ContainerNumbers) {
			if !slices.Equal(containers, sh.ContainerNumbers) && !slices.Contains(st.changed, domain.FieldContainerNumber) {
				st.changed = append(st.changed, domain.FieldContainerNumber)
				slices.Sort(st.changed)
			}
			sh.BLNumber = bl
			sh.ContainerNumbers = containers
			if err := s.store.UpdateIdentifiers(ctx, sh); err != nil {
				return fmt.Errorf("failed to update shipment identifiers: %w", err)
			}
		}

		return s.recomputeWorkflow(ctx, shipmentID, source, st)
	})
	if err != nil {
		return 0, false, err
	}

	if len(st.changed) > 0 || st.transit != nil {
		logger.WithFields(map[string]any{
			"shipment_id": shipmentID,
			"changed":     st.changed,
			"source":      source,
		}).Info("[IngestService.rebuild] shipment rebuilt with differences")

		event := &domain.ShipmentChangeEvent{
			ShipmentID:    shipmentID,
			BookingNumber: st.shipment.BookingNumber,
			ChangedFields: st.changed,
			Source:        string(source),
			OccurredAt:    time.Now().UTC(),
		}
		if st.workflow != nil {
			event.WorkflowState = st.workflow.State
			event.DocumentID = st.workflow.TriggerDocumentID
			event.DocumentType = st.workflow.TriggerDocType
		}
		if st.previous != nil {
			event.PreviousState = st.previous.State
		}
		s.publish(ctx, event)
	}
	return len(st.changed), st.transit != nil, nil
}

// syncResolutions records the replay outcome on each replayable observation.
func (s *Service) syncResolutions(ctx context.Context, obs []*domain.ExtractedField, resolved map[string]*domain.ShipmentField) error {
	for _, o := range obs {
		if !o.Resolution.Replayable() || o.Value == "" {
			continue
		}
		want := domain.ResolutionAccepted
		if !domain.IsShipmentKey(o.FieldName) {
			if w, ok := resolved[o.FieldName]; !ok || w.DocumentID != o.DocumentID {
				want = domain.ResolutionDiscarded
			}
		}
		if o.Resolution == want {
			continue
		}
		if err := s.store.UpdateResolution(ctx, o.DocumentID, o.FieldName, want); err != nil {
			return fmt.Errorf("failed to record resolution: %w", err)
		}
	}
	return nil
}

// =============================================================================
// Thread repair
// =============================================================================

// RepairThread resolves the thread authority and relinks every reply attached to
// a different shipment, then rebuilds each affected shipment.
func (s *Service) RepairThread(ctx context.Context, threadID string) (*in.RepairResult, error) {
	authorityRow, corrections, err := s.planner.Plan(ctx, threadID)
	if err != nil {
		return nil, err
	}
	result := &in.RepairResult{ThreadID: threadID, Authority: authorityRow}
	if len(corrections) == 0 {
		return result, nil
	}

	affected := make(map[uuid.UUID]struct{})
	for _, c := range corrections {
		applied, err := s.applyCorrection(ctx, c)
		if err != nil {
			return result, err
		}
		if !applied {
			continue
		}
		result.Corrections = append(result.Corrections, c)
		affected[c.ToShipmentID] = struct{}{}
		if c.FromShipmentID != nil {
			affected[*c.FromShipmentID] = struct{}{}
		}
	}

	ids := make([]uuid.UUID, 0, len(affected))
	for id := range affected {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return compareUUID(a, b) })
	for _, id := range ids {
		if _, _, err := s.rebuild(ctx, id, domain.SourceRepair); err != nil {
			return result, fmt.Errorf("failed to rebuild shipment %s: %w", id, err)
		}
	}
	return result, nil
}

// applyCorrection moves one document between shipments while holding both locks.
// It reports false when the link changed since the plan was computed.
func (s *Service) applyCorrection(ctx context.Context, c *domain.LinkCorrection) (bool, error) {
	keys := []string{c.ToShipmentID.String()}
	if c.FromShipmentID != nil {
		keys = append(keys, c.FromShipmentID.String())
	}
	unlock, err := s.locks.LockAll(ctx, keys...)
	if err != nil {
		return false, err
	}
	defer unlock()

	applied := false
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		ids := []uuid.UUID{c.ToShipmentID}
		if c.FromShipmentID != nil {
			ids = append(ids, *c.FromShipmentID)
		}
		slices.SortFunc(ids, func(a, b uuid.UUID) int { return compareUUID(a, b) })
		for _, id := range ids {
			if err := s.store.Lock(ctx, id); err != nil {
				return fmt.Errorf("failed to lock shipment: %w", err)
			}
		}

		link, err := s.store.GetLink(ctx, c.DocumentID)
		if err != nil {
			return fmt.Errorf("failed to get link: %w", err)
		}
		switch {
		case link == nil && c.FromShipmentID != nil:
			return nil
		case link != nil && (c.FromShipmentID == nil || link.ShipmentID != *c.FromShipmentID):
			return nil
		}

		if link != nil {
			if err := s.store.Unlink(ctx, c.DocumentID); err != nil {
				return fmt.Errorf("failed to unlink document: %w", err)
			}
		}
		if err := s.store.Link(ctx, &domain.ShipmentLink{
			ShipmentID: c.ToShipmentID,
			DocumentID: c.DocumentID,
			Method:     domain.LinkByThreadRepair,
		}); err != nil {
			return fmt.Errorf("failed to relink document: %w", err)
		}
		if err := s.store.RecordCorrection(ctx, c); err != nil {
			return fmt.Errorf("failed to record correction: %w", err)
		}
		// the document's history follows it
		if c.FromShipmentID != nil {
			if _, err := s.tracker.Move(ctx, c.DocumentID, *c.FromShipmentID, c.ToShipmentID); err != nil {
				return fmt.Errorf("failed to move revisions: %w", err)
			}
		}
		if err := s.store.ReleaseDuplicates(ctx, c.DocumentID); err != nil {
			return fmt.Errorf("failed to release duplicates: %w", err)
		}
		applied = true
		return nil
	})
	if err != nil || !applied {
		return false, err
	}

	fields := map[string]any{
		"document_id":      c.DocumentID,
		"thread_id":        c.ThreadID,
		"to_shipment_id":   c.ToShipmentID,
		"identifier_kind":  c.IdentifierKind,
		"identifier_value": c.IdentifierValue,
	}
	if c.FromShipmentID != nil {
		fields["from_shipment_id"] = *c.FromShipmentID
	}
	logger.WithFields(fields).Info("[IngestService.RepairThread] document relinked")

	s.projectCorrection(ctx, c)
	return true, nil
}

func (s *Service) projectCorrection(ctx context.Context, c *domain.LinkCorrection) {
	if s.projector == nil {
		return
	}
	if c.FromShipmentID != nil {
		if err := s.projector.RemoveLink(ctx, *c.FromShipmentID, c.DocumentID); err != nil {
			logger.WithError(err).WithField("document_id", c.DocumentID).Warn("[IngestService.projectCorrection] failed to remove link")
		}
	}
	doc, err := s.store.GetDocument(ctx, c.DocumentID)
	if err != nil || doc == nil {
		return
	}
	sh, err := s.store.GetShipment(ctx, c.ToShipmentID)
	if err != nil || sh == nil {
		return
	}
	err = s.projector.ProjectLink(ctx, &out.LinkProjection{
		ShipmentID:    sh.ID,
		BookingNumber: sh.BookingNumber,
		DocumentID:    doc.ID,
		DocumentType:  doc.DocumentType,
		ThreadID:      doc.ThreadID,
		Method:        domain.LinkByThreadRepair,
	})
	if err != nil {
		logger.WithError(err).WithField("document_id", c.DocumentID).Warn("[IngestService.projectCorrection] failed to project link")
	}
}

func compareUUID(a, b uuid.UUID) int {
	as, bs := a.String(), b.String()
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	}
	return 0
}
