// Package ingest runs documents through classification, escalation, authority,
// revision and workflow, and hosts reconciliation and human review.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"freight_server/core/domain"
	"freight_server/core/port/in"
	"freight_server/core/port/out"
	"freight_server/core/service/authority"
	"freight_server/core/service/classification"
	"freight_server/core/service/confidence"
	"freight_server/core/service/revision"
	"freight_server/core/service/thread"
	"freight_server/core/service/workflow"
	"freight_server/pkg/keylock"
	"freight_server/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var _ in.IngestService = (*Service)(nil)

// Deps are the collaborators of the Service. Only Store and Rules are required.
type Deps struct {
	Store                out.Store
	Rules                *domain.RuleBook
	ClassificationOracle out.ClassificationOracle
	ExtractionOracle     out.ExtractionOracle
	Content              out.ContentStore
	Publisher            out.ChangePublisher
	Projector            out.LinkProjector
}

// Config tunes the Service.
type Config struct {
	BatchConcurrency int
	// RepairThreads runs the thread repair pass for a document's thread after it is applied.
	RepairThreads bool
}

// DefaultConfig returns the defaults used by the worker.
func DefaultConfig() Config {
	return Config{BatchConcurrency: 8, RepairThreads: true}
}

// Service implements in.IngestService.
type Service struct {
	store     out.Store
	content   out.ContentStore
	extractor out.ExtractionOracle
	publisher out.ChangePublisher
	projector out.LinkProjector

	classifier *classification.Classifier
	engine     *confidence.Engine
	resolver   *authority.Resolver
	guard      *authority.TemporalGuard
	tracker    *revision.Tracker
	machine    *workflow.Machine
	planner    *thread.Planner
	locks      *keylock.Locker

	cfg Config
}

// NewService wires every engine component from the rule book.
func NewService(deps Deps, cfg Config) (*Service, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("ingest: store is required")
	}
	if deps.Rules == nil {
		return nil, fmt.Errorf("ingest: rules are required")
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = DefaultConfig().BatchConcurrency
	}

	classifier, err := classification.NewClassifier(deps.Rules, deps.ClassificationOracle)
	if err != nil {
		return nil, fmt.Errorf("failed to build classifier: %w", err)
	}
	guard, err := authority.NewTemporalGuard(deps.Rules.Temporal)
	if err != nil {
		return nil, fmt.Errorf("failed to build temporal guard: %w", err)
	}

	return &Service{
		store:      deps.Store,
		content:    deps.Content,
		extractor:  deps.ExtractionOracle,
		publisher:  deps.Publisher,
		projector:  deps.Projector,
		classifier: classifier,
		engine:     confidence.NewEngine(deps.Rules.Confidence),
		resolver:   authority.NewResolver(deps.Rules.Authority),
		guard:      guard,
		tracker:    revision.NewTracker(deps.Store),
		machine:    workflow.NewMachine(deps.Rules.Workflow),
		planner:    thread.NewPlanner(deps.Store),
		locks:      keylock.New(),
		cfg:        cfg,
	}, nil
}

// =============================================================================
// Process
// =============================================================================

// Process classifies, extracts and applies one message. Re-processing the same
// external message is a no-op apart from retrying a failed extraction.
func (s *Service) Process(ctx context.Context, msg *domain.InboundMessage) (*in.ProcessResult, error) {
	if strings.TrimSpace(msg.ExternalID) == "" {
		return nil, domain.ErrMissingExternalID
	}
	docID := domain.DocumentIDFor(msg.ExternalID)

	rec, err := s.store.GetClassification(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to get classification: %w", err)
	}
	doc, err := s.store.GetDocument(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	if rec == nil || doc == nil || rec.ExtractionTier == "" {
		doc, rec, err = s.ingest(ctx, docID, msg, rec)
		if err != nil {
			return nil, err
		}
	}

	result, err := s.apply(ctx, doc, rec, domain.SourceDocument)
	if err != nil {
		return nil, err
	}
	s.repairAfterApply(ctx, doc)
	return result, nil
}

// Reprocess re-runs classification and extraction from the stored content and
// applies observations that were not recorded before.
func (s *Service) Reprocess(ctx context.Context, documentID uuid.UUID) (*in.ProcessResult, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	if doc == nil {
		return nil, domain.ErrDocumentNotFound
	}
	if s.content == nil {
		return nil, fmt.Errorf("reprocess %s: no content store configured", documentID)
	}
	content, err := s.content.GetContent(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get content: %w", err)
	}
	if content == nil {
		return nil, fmt.Errorf("reprocess %s: %w", documentID, domain.ErrDocumentNotFound)
	}
	prev, err := s.store.GetClassification(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get classification: %w", err)
	}

	msg := &domain.InboundMessage{
		ExternalID:     doc.ExternalID,
		ThreadID:       doc.ThreadID,
		InReplyTo:      content.InReplyTo,
		Subject:        content.Subject,
		SenderAddress:  doc.SenderAddress,
		Body:           content.Body,
		Attachments:    doc.Attachments,
		AttachmentText: content.AttachmentText,
		ReceivedAt:     doc.ReceivedAt,
	}
	doc, rec, err := s.ingest(ctx, documentID, msg, prev)
	if err != nil {
		return nil, err
	}

	result, err := s.apply(ctx, doc, rec, domain.SourceDocument)
	if err != nil {
		return nil, err
	}
	// observations added or re-ranked by this run are only reachable through replay
	if result.Outcome == in.OutcomeDuplicate && result.ShipmentID != nil {
		if _, _, err := s.rebuild(ctx, *result.ShipmentID, domain.SourceDocument); err != nil {
			return nil, err
		}
	}
	s.repairAfterApply(ctx, doc)
	return result, nil
}

// ingest stores the document and its content, classifies it, extracts fields and
// records the observations. prev carries an earlier human review decision.
func (s *Service) ingest(ctx context.Context, docID uuid.UUID, msg *domain.InboundMessage, prev *domain.ClassificationRecord) (*domain.Document, *domain.ClassificationRecord, error) {
	start := time.Now()

	cls, err := s.classifier.Classify(ctx, &classification.Input{
		Subject:     msg.Subject,
		Sender:      msg.SenderAddress,
		InReplyTo:   msg.InReplyTo,
		Attachments: msg.Attachments,
		Body:        msg.Body,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to classify: %w", err)
	}

	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	doc := &domain.Document{
		ID:             docID,
		ExternalID:     strings.TrimSpace(msg.ExternalID),
		ThreadID:       msg.ThreadID,
		Subject:        msg.Subject,
		SenderAddress:  msg.SenderAddress,
		SenderCategory: cls.SenderCategory,
		Direction:      cls.Direction,
		IsReply:        cls.IsReply,
		Attachments:    msg.Attachments,
		Fingerprint:    contentFingerprint(msg.Content()),
		DocumentType:   cls.DocumentType,
		Confidence:     cls.Confidence,
		ReceivedAt:     receivedAt.UTC(),
	}
	if err := s.store.SaveDocument(ctx, doc); err != nil {
		return nil, nil, fmt.Errorf("failed to save document: %w", err)
	}
	s.saveContent(ctx, doc, msg)

	rec := &domain.ClassificationRecord{
		DocumentID:   docID,
		DocumentType: cls.DocumentType,
		Confidence:   cls.Confidence,
		Method:       cls.Method,
		MatchedRule:  cls.MatchedRule,
		Reasoning:    cls.Reasoning,
		ReviewStatus: domain.ReviewNone,
	}

	fields, tier, err := s.extract(ctx, doc, msg.Content(), domain.TierBase)
	if err != nil {
		logger.WithError(err).WithField("document_id", docID).Warn("[IngestService.ingest] base extraction failed")
	} else {
		rec.ExtractionTier = tier
	}

	rec.ReviewAction = s.engine.Decide(cls.DocumentType, cls.Confidence, s.engine.Completeness(cls.DocumentType, valuesOf(fields)))
	switch {
	case rec.ReviewAction == domain.ActionFlagReview:
		rec.ReviewStatus = domain.ReviewPending

	case rec.ReviewAction.IsEscalation() && rec.ExtractionTier != "":
		escalated, tier, err := s.extract(ctx, doc, msg.Content(), confidence.TierFor(rec.ReviewAction))
		if err != nil {
			logger.WithError(err).WithFields(map[string]any{
				"document_id": docID,
				"action":      rec.ReviewAction,
			}).Warn("[IngestService.ingest] escalated extraction failed, holding for review")
			rec.ReviewStatus = domain.ReviewPending
		} else {
			fields = escalated
			rec.ExtractionTier = tier
		}

	case rec.ReviewAction.IsEscalation():
		rec.ReviewStatus = domain.ReviewPending
	}

	if prev != nil && (prev.ReviewStatus == domain.ReviewApproved || prev.ReviewStatus == domain.ReviewRejected) {
		rec.ReviewStatus = prev.ReviewStatus
	}
	if err := s.store.UpsertClassification(ctx, rec); err != nil {
		return nil, nil, fmt.Errorf("failed to save classification: %w", err)
	}

	if len(fields) > 0 {
		if err := s.store.InsertObservations(ctx, s.observations(doc, rec, fields)); err != nil {
			return nil, nil, fmt.Errorf("failed to save observations: %w", err)
		}
	}
	if prev != nil && prev.DocumentType != rec.DocumentType {
		if err := s.reclassify(ctx, docID, prev.DocumentType, rec.DocumentType); err != nil {
			return nil, nil, err
		}
	}

	logger.WithFields(map[string]any{
		"document_id":   docID,
		"document_type": rec.DocumentType,
		"confidence":    rec.Confidence,
		"method":        rec.Method,
		"action":        rec.ReviewAction,
		"tier":          rec.ExtractionTier,
		"fields":        len(fields),
	}).WithDuration(time.Since(start)).Info("[IngestService.ingest] document classified")

	return doc, rec, nil
}

// reclassify re-ranks observations recorded under the previous document type.
func (s *Service) reclassify(ctx context.Context, docID uuid.UUID, from, to domain.DocumentType) error {
	obs, err := s.store.ListByDocument(ctx, docID)
	if err != nil {
		return fmt.Errorf("failed to list observations: %w", err)
	}
	levels := make(map[string]int, len(obs))
	for _, o := range obs {
		levels[o.FieldName] = s.resolver.Level(o.FieldName, to)
	}
	if err := s.store.ReclassifyObservations(ctx, docID, to, levels); err != nil {
		return fmt.Errorf("failed to reclassify observations: %w", err)
	}

	logger.WithFields(map[string]any{
		"document_id": docID,
		"from":        from,
		"to":          to,
		"fields":      len(levels),
	}).Info("[IngestService.reclassify] document type changed")
	return nil
}

func (s *Service) extract(ctx context.Context, doc *domain.Document, content string, tier domain.ExtractionTier) (map[string]out.ExtractedValue, domain.ExtractionTier, error) {
	if s.extractor == nil {
		return nil, "", domain.ErrOracleUnavailable
	}
	res, err := s.extractor.Extract(ctx, &out.ExtractionRequest{
		DocumentID:   doc.ID,
		DocumentType: doc.DocumentType,
		Content:      content,
		Tier:         tier,
	})
	if err != nil {
		return nil, "", err
	}
	if res.Tier != "" {
		tier = res.Tier
	}
	return res.Fields, tier, nil
}

func (s *Service) saveContent(ctx context.Context, doc *domain.Document, msg *domain.InboundMessage) {
	if s.content == nil {
		return
	}
	err := s.content.SaveContent(ctx, &out.DocumentContent{
		DocumentID:     doc.ID,
		ExternalID:     doc.ExternalID,
		InReplyTo:      msg.InReplyTo,
		Subject:        msg.Subject,
		Body:           msg.Body,
		AttachmentText: msg.AttachmentText,
		StoredAt:       time.Now().UTC(),
	})
	if err != nil {
		logger.WithError(err).WithField("document_id", doc.ID).Warn("[IngestService.saveContent] failed to store content")
	}
}

// observations turns extracted values into append-only observations.
// Dates outside the collection window are kept as rejected observations.
func (s *Service) observations(doc *domain.Document, rec *domain.ClassificationRecord, fields map[string]out.ExtractedValue) []*domain.ExtractedField {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	now := time.Now().UTC()
	obs := make([]*domain.ExtractedField, 0, len(fields))
	for _, raw := range names {
		v := fields[raw]
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" || strings.TrimSpace(v.Value) == "" {
			continue
		}
		conf := v.Confidence
		if conf <= 0 {
			conf = rec.Confidence
		}

		f := &domain.ExtractedField{
			Provenance: domain.Provenance{
				DocumentID:     doc.ID,
				DocumentType:   rec.DocumentType,
				AuthorityLevel: s.resolver.Level(name, rec.DocumentType),
				Confidence:     conf,
				DocumentTime:   doc.ReceivedAt,
			},
			FieldName:   name,
			Resolution:  domain.ResolutionPending,
			ExtractedAt: now,
		}

		value, err := s.guard.Check(name, v.Value, doc.ReceivedAt)
		if err != nil {
			f.Value = strings.TrimSpace(v.Value)
			f.Resolution = domain.ResolutionRejected
			f.Reason = err.Error()
			logger.WithFields(map[string]any{
				"document_id": doc.ID,
				"field":       name,
				"value":       v.Value,
			}).Warn("[IngestService.observations] %v", err)
		} else {
			f.Value = normalizeIdentifier(name, value)
		}
		obs = append(obs, f)
	}
	return obs
}

func normalizeIdentifier(name, value string) string {
	switch name {
	case domain.FieldBookingNumber, domain.FieldBLNumber:
		return strings.ToUpper(strings.Join(strings.Fields(value), ""))
	case domain.FieldContainerNumber:
		return strings.Join(domain.SplitContainers(value), ",")
	}
	return value
}

func valuesOf(fields map[string]out.ExtractedValue) map[string]string {
	values := make(map[string]string, len(fields))
	for name, v := range fields {
		values[strings.ToLower(strings.TrimSpace(name))] = v.Value
	}
	return values
}

func contentFingerprint(content string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.Join(strings.Fields(content), " "))))
	return hex.EncodeToString(sum[:])
}

func (s *Service) repairAfterApply(ctx context.Context, doc *domain.Document) {
	if !s.cfg.RepairThreads || doc.ThreadID == "" {
		return
	}
	if _, err := s.RepairThread(ctx, doc.ThreadID); err != nil {
		logger.WithError(err).WithField("thread_id", doc.ThreadID).Warn("[IngestService.Process] thread repair failed")
	}
}

// =============================================================================
// Batch
// =============================================================================

// ProcessBatch processes messages with bounded concurrency. Failures are
// collected per message; the batch always runs to completion.
func (s *Service) ProcessBatch(ctx context.Context, msgs []*domain.InboundMessage) *in.BatchSummary {
	summary := &in.BatchSummary{Total: len(msgs)}
	results := make([]*in.ProcessResult, len(msgs))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.cfg.BatchConcurrency)

	for i, msg := range msgs {
		i, msg := i, msg
		g.Go(func() error {
			res, err := s.Process(ctx, msg)
			if err != nil {
				logger.WithError(err).WithField("external_id", msg.ExternalID).Warn("[IngestService.ProcessBatch] document failed")
				mu.Lock()
				summary.Failures = append(summary.Failures, in.BatchFailure{ExternalID: msg.ExternalID, Error: err.Error()})
				mu.Unlock()
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r != nil {
			summary.Results = append(summary.Results, r)
		}
	}
	summary.Succeeded = len(summary.Results)
	sort.Slice(summary.Failures, func(i, j int) bool {
		return summary.Failures[i].ExternalID < summary.Failures[j].ExternalID
	})
	return summary
}

// =============================================================================
// Review
// =============================================================================

func (s *Service) ListPendingReview(ctx context.Context, limit int) ([]*domain.ClassificationRecord, error) {
	return s.store.ListPendingReview(ctx, limit)
}

// ApproveReview releases a held document and applies its observations.
func (s *Service) ApproveReview(ctx context.Context, documentID uuid.UUID) (*in.ProcessResult, error) {
	rec, doc, err := s.pendingReview(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateReviewStatus(ctx, documentID, domain.ReviewApproved); err != nil {
		return nil, fmt.Errorf("failed to approve review: %w", err)
	}
	rec.ReviewStatus = domain.ReviewApproved

	logger.WithField("document_id", documentID).Info("[IngestService.ApproveReview] review approved")
	result, err := s.apply(ctx, doc, rec, domain.SourceReview)
	if err != nil {
		return nil, err
	}
	s.repairAfterApply(ctx, doc)
	return result, nil
}

// RejectReview keeps the document out of shipment state permanently.
func (s *Service) RejectReview(ctx context.Context, documentID uuid.UUID) error {
	if _, _, err := s.pendingReview(ctx, documentID); err != nil {
		return err
	}
	if err := s.store.UpdateReviewStatus(ctx, documentID, domain.ReviewRejected); err != nil {
		return fmt.Errorf("failed to reject review: %w", err)
	}
	logger.WithField("document_id", documentID).Info("[IngestService.RejectReview] review rejected")
	return nil
}

func (s *Service) pendingReview(ctx context.Context, documentID uuid.UUID) (*domain.ClassificationRecord, *domain.Document, error) {
	rec, err := s.store.GetClassification(ctx, documentID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get classification: %w", err)
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get document: %w", err)
	}
	if rec == nil || doc == nil {
		return nil, nil, domain.ErrDocumentNotFound
	}
	if rec.ReviewStatus != domain.ReviewPending {
		return nil, nil, fmt.Errorf("%w: status is %s", domain.ErrNotPendingReview, rec.ReviewStatus)
	}
	return rec, doc, nil
}

// =============================================================================
// Read model
// =============================================================================

func (s *Service) GetShipmentView(ctx context.Context, shipmentID uuid.UUID) (*domain.ShipmentView, error) {
	sh, err := s.store.GetShipment(ctx, shipmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get shipment: %w", err)
	}
	if sh == nil {
		return nil, domain.ErrShipmentNotFound
	}

	view := &domain.ShipmentView{Shipment: sh}

	fields, err := s.store.GetFields(ctx, shipmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get fields: %w", err)
	}
	for _, f := range fields {
		view.Fields = append(view.Fields, f)
	}
	sort.Slice(view.Fields, func(i, j int) bool { return view.Fields[i].FieldName < view.Fields[j].FieldName })

	if view.Workflow, err = s.store.GetState(ctx, shipmentID); err != nil {
		return nil, fmt.Errorf("failed to get workflow state: %w", err)
	}
	if view.Transitions, err = s.store.ListTransitions(ctx, shipmentID); err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	if view.Revisions, err = s.store.ListRevisions(ctx, shipmentID); err != nil {
		return nil, fmt.Errorf("failed to list revisions: %w", err)
	}
	if view.Documents, err = s.store.ListLinkedDocuments(ctx, shipmentID); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return view, nil
}
