package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"freight_server/adapter/out/memory"
	"freight_server/core/domain"
	"freight_server/core/port/in"
	"freight_server/core/port/out"

	"github.com/google/uuid"
)

// =============================================================================
// Fixtures
// =============================================================================

type fakeExtractor struct {
	mu       sync.Mutex
	byBody   map[string]map[string]string
	failTier map[domain.ExtractionTier]bool
	calls    []domain.ExtractionTier
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{
		byBody:   make(map[string]map[string]string),
		failTier: make(map[domain.ExtractionTier]bool),
	}
}

func (f *fakeExtractor) Extract(ctx context.Context, req *out.ExtractionRequest) (*out.ExtractionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.Tier)
	if f.failTier[req.Tier] {
		return nil, fmt.Errorf("tier %s: %w", req.Tier, domain.ErrOracleUnavailable)
	}
	fields := make(map[string]out.ExtractedValue)
	for name, v := range f.byBody[req.Content] {
		fields[name] = out.ExtractedValue{Value: v, Confidence: 90}
	}
	return &out.ExtractionResult{Fields: fields, Tier: req.Tier, Model: "fake-" + string(req.Tier)}, nil
}

type fakeClassifier struct {
	mu        sync.Mutex
	bySubject map[string]*out.ClassificationResult
}

func (f *fakeClassifier) Classify(ctx context.Context, req *out.ClassificationRequest) (*out.ClassificationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.bySubject[req.Subject]
	if !ok {
		return nil, domain.ErrOracleUnavailable
	}
	return res, nil
}

func (f *fakeClassifier) answer(subject string, docType domain.DocumentType, confidence int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bySubject[subject] = &out.ClassificationResult{DocumentType: string(docType), Confidence: confidence}
}

type fakeContent struct {
	mu   sync.Mutex
	docs map[uuid.UUID]out.DocumentContent
}

func (f *fakeContent) SaveContent(ctx context.Context, c *out.DocumentContent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[c.DocumentID] = *c
	return nil
}

func (f *fakeContent) GetContent(ctx context.Context, documentID uuid.UUID) (*out.DocumentContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.docs[documentID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*domain.ShipmentChangeEvent
}

func (p *recordingPublisher) PublishShipmentChange(ctx context.Context, e *domain.ShipmentChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func testRules() *domain.RuleBook {
	return &domain.RuleBook{
		Version: "test",
		Senders: domain.SenderRules{InternalDomains: []string{"forwarder.example"}},
		Carriers: []domain.CarrierRules{{
			Name:    "maersk",
			Domains: []string{"maersk.com"},
			Rules: []domain.ClassifierRule{
				{Name: "amendment", DocumentType: domain.DocBookingAmendment, Subject: `amendment`, Confidence: 93},
				{Name: "booking", DocumentType: domain.DocBookingConfirmation, Subject: `booking confirmation`, Confidence: 95},
				{Name: "arrival", DocumentType: domain.DocArrivalNotice, Subject: `arrival notice`, Confidence: 92},
				{Name: "final_bl", DocumentType: domain.DocFinalBL, Subject: `final bl`, Confidence: 70},
				{Name: "pod", DocumentType: domain.DocProofOfDelivery, Subject: `proof of delivery`, Confidence: 95},
			},
		}},
		Authority: domain.AuthorityTable{
			Defaults: map[domain.DocumentType]int{
				domain.DocBookingConfirmation:   50,
				domain.DocBookingAmendment:      60,
				domain.DocArrivalNotice:         40,
				domain.DocFinalBL:               80,
				domain.DocProofOfDelivery:       30,
				domain.DocGeneralCorrespondence: 5,
			},
			Fields: map[string]map[domain.DocumentType]int{
				domain.FieldETA: {domain.DocArrivalNotice: 90},
			},
		},
		Workflow: []domain.WorkflowRule{
			{DocumentType: domain.DocBookingConfirmation, Direction: domain.DirectionInbound, State: "booking_confirmation_received", Phase: domain.PhaseBooking, Priority: 20},
			{DocumentType: domain.DocBookingAmendment, Direction: domain.DirectionAny, State: "booking_amended", Phase: domain.PhaseBooking, Priority: 22},
			{DocumentType: domain.DocFinalBL, Direction: domain.DirectionInbound, State: "bl_received", Phase: domain.PhaseInTransit, Priority: 65},
			{DocumentType: domain.DocArrivalNotice, Direction: domain.DirectionInbound, State: "arrival_notice_received", Phase: domain.PhaseArrival, Priority: 80},
			{DocumentType: domain.DocProofOfDelivery, Direction: domain.DirectionAny, State: "delivered", Phase: domain.PhaseDelivery, Priority: 100, Terminal: true},
		},
		Temporal: domain.TemporalBounds{DataCollectionStart: "2024-01-01", MaxFutureDays: 365},
	}
}

type harness struct {
	svc        *Service
	store      *memory.Store
	extractor  *fakeExtractor
	classifier *fakeClassifier
	content    *fakeContent
	publisher  *recordingPublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:      memory.NewStore(),
		extractor:  newFakeExtractor(),
		classifier: &fakeClassifier{bySubject: make(map[string]*out.ClassificationResult)},
		content:    &fakeContent{docs: make(map[uuid.UUID]out.DocumentContent)},
		publisher:  &recordingPublisher{},
	}
	h.svc = h.service(t, testRules())
	return h
}

// service builds a Service over the harness collaborators with the given rules.
func (h *harness) service(t *testing.T, rules *domain.RuleBook) *Service {
	t.Helper()
	svc, err := NewService(Deps{
		Store:                h.store,
		Rules:                rules,
		ClassificationOracle: h.classifier,
		ExtractionOracle:     h.extractor,
		Content:              h.content,
		Publisher:            h.publisher,
	}, DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return svc
}

var t0 = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

// message registers the extraction output for body and returns the message.
func (h *harness) message(id, subject, body string, at time.Time, fields map[string]string) *domain.InboundMessage {
	h.extractor.byBody[body] = fields
	return &domain.InboundMessage{
		ExternalID:    id,
		Subject:       subject,
		SenderAddress: "docs@maersk.com",
		Body:          body,
		Attachments:   []string{id + ".pdf"},
		ReceivedAt:    at,
	}
}

func (h *harness) process(t *testing.T, msg *domain.InboundMessage) *in.ProcessResult {
	t.Helper()
	res, err := h.svc.Process(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return res
}

func (h *harness) fields(t *testing.T, shipmentID uuid.UUID) map[string]*domain.ShipmentField {
	t.Helper()
	fields, err := h.store.GetFields(context.Background(), shipmentID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return fields
}

// =============================================================================
// Tests
// =============================================================================

func TestProcessIdempotent(t *testing.T) {
	h := newHarness(t)
	msg := h.message("m1", "Booking Confirmation ABC123", "bc body", t0, map[string]string{
		"booking_number": "abc123",
		"vessel_name":    "MAERSK KOLKATA",
		"etd":            "10/03/2025",
	})

	first := h.process(t, msg)
	if first.Outcome != in.OutcomeApplied {
		t.Fatalf("expected %q, got %q", in.OutcomeApplied, first.Outcome)
	}
	if first.Revision != 1 {
		t.Errorf("expected revision 1, got %d", first.Revision)
	}
	if first.Workflow == nil || first.Workflow.State != "booking_confirmation_received" {
		t.Errorf("expected booking_confirmation_received, got %+v", first.Workflow)
	}

	second := h.process(t, msg)
	if second.Outcome != in.OutcomeDuplicate {
		t.Errorf("expected %q, got %q", in.OutcomeDuplicate, second.Outcome)
	}
	if len(h.extractor.calls) != 1 {
		t.Errorf("expected 1 extraction call, got %d", len(h.extractor.calls))
	}

	ctx := context.Background()
	revs, _ := h.store.ListRevisions(ctx, *first.ShipmentID)
	if len(revs) != 1 {
		t.Errorf("expected 1 revision, got %d", len(revs))
	}
	transitions, _ := h.store.ListTransitions(ctx, *first.ShipmentID)
	if len(transitions) != 1 {
		t.Errorf("expected 1 transition, got %d", len(transitions))
	}

	fields := h.fields(t, *first.ShipmentID)
	if got := fields[domain.FieldETD].Value; got != "2025-03-10" {
		t.Errorf("expected %q, got %q", "2025-03-10", got)
	}
	sh, _ := h.store.GetShipment(ctx, *first.ShipmentID)
	if sh.BookingNumber != "ABC123" {
		t.Errorf("expected %q, got %q", "ABC123", sh.BookingNumber)
	}
	if len(h.publisher.events) != 1 {
		t.Errorf("expected 1 change event, got %d", len(h.publisher.events))
	}
}

func TestProcessOrderIndependent(t *testing.T) {
	type snapshot struct {
		fields map[string]string
		state  string
	}

	run := func(order []int) snapshot {
		h := newHarness(t)
		msgs := []*domain.InboundMessage{
			h.message("m1", "Booking Confirmation ABC123", "bc", t0, map[string]string{
				"booking_number":   "ABC123",
				"vessel_name":      "MAERSK KOLKATA",
				"eta":              "2025-03-20",
				"container_number": "MSCU1234567",
			}),
			h.message("m2", "Booking Amendment ABC123", "amend", t0.Add(24*time.Hour), map[string]string{
				"booking_number":   "ABC123",
				"vessel_name":      "MAERSK KENSINGTON",
				"container_number": "TGHU7654321",
			}),
			h.message("m3", "Arrival Notice ABC123", "an", t0.Add(48*time.Hour), map[string]string{
				"booking_number": "ABC123",
				"eta":            "2025-03-22",
				"vessel_name":    "MAERSK KOLKATA",
			}),
		}

		var shipmentID uuid.UUID
		for _, i := range order {
			res := h.process(t, msgs[i])
			shipmentID = *res.ShipmentID
		}

		snap := snapshot{fields: make(map[string]string)}
		for name, f := range h.fields(t, shipmentID) {
			snap.fields[name] = f.Value + "@" + f.DocumentID.String()
		}
		sh, _ := h.store.GetShipment(context.Background(), shipmentID)
		snap.fields["containers"] = fmt.Sprint(sh.ContainerNumbers)
		if st, _ := h.store.GetState(context.Background(), shipmentID); st != nil {
			snap.state = st.State
		}
		return snap
	}

	orders := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	want := run(orders[0])
	if want.state != "arrival_notice_received" {
		t.Fatalf("expected arrival_notice_received, got %q", want.state)
	}
	if want.fields[domain.FieldVesselName] != "MAERSK KENSINGTON@"+domain.DocumentIDFor("m2").String() {
		t.Errorf("expected amendment to own vessel_name, got %q", want.fields[domain.FieldVesselName])
	}

	for _, order := range orders[1:] {
		t.Run(fmt.Sprint(order), func(t *testing.T) {
			got := run(order)
			if got.state != want.state {
				t.Errorf("expected %q, got %q", want.state, got.state)
			}
			if len(got.fields) != len(want.fields) {
				t.Fatalf("expected %d fields, got %d", len(want.fields), len(got.fields))
			}
			for name, v := range want.fields {
				if got.fields[name] != v {
					t.Errorf("field %s: expected %q, got %q", name, v, got.fields[name])
				}
			}
		})
	}
}

func TestAuthorityLowerSourceDiscarded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.process(t, h.message("m1", "Booking Confirmation ABC123", "bc", t0, map[string]string{
		"booking_number": "ABC123", "eta": "2025-03-10",
	}))
	an := h.process(t, h.message("m2", "Arrival Notice ABC123", "an", t0.Add(time.Hour), map[string]string{
		"booking_number": "ABC123", "eta": "2025-03-12",
	}))
	amend := h.process(t, h.message("m3", "Booking Amendment ABC123", "amend", t0.Add(2*time.Hour), map[string]string{
		"booking_number": "ABC123", "eta": "2025-03-15",
	}))

	fields := h.fields(t, *an.ShipmentID)
	if got := fields[domain.FieldETA]; got.Value != "2025-03-12" || got.DocumentType != domain.DocArrivalNotice {
		t.Errorf("expected arrival notice ETA 2025-03-12, got %+v", got)
	}
	if len(amend.ChangedFields) != 0 {
		t.Errorf("expected no changed fields, got %v", amend.ChangedFields)
	}

	obs, _ := h.store.ListByDocument(ctx, amend.DocumentID)
	for _, o := range obs {
		if o.FieldName == domain.FieldETA && o.Resolution != domain.ResolutionDiscarded {
			t.Errorf("expected %q, got %q", domain.ResolutionDiscarded, o.Resolution)
		}
	}
}

func TestRevisionDeduplication(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	fields := map[string]string{"booking_number": "ABC123", "vessel_name": "MAERSK KOLKATA"}

	first := h.process(t, h.message("m1", "Booking Confirmation ABC123", "bc v1", t0, fields))
	resent := h.process(t, h.message("m2", "Booking Confirmation ABC123", "bc v1 resent", t0.Add(time.Hour), map[string]string{
		"booking_number": "ABC123", "vessel_name": "maersk  kolkata",
	}))
	if resent.Outcome != in.OutcomeDuplicate || resent.Revision != 1 {
		t.Errorf("expected duplicate of revision 1, got %q rev %d", resent.Outcome, resent.Revision)
	}

	amended := h.process(t, h.message("m3", "Booking Confirmation ABC123 update", "bc v2", t0.Add(2*time.Hour), map[string]string{
		"booking_number": "ABC123", "vessel_name": "MAERSK KENSINGTON",
	}))
	if amended.Revision != 2 {
		t.Errorf("expected revision 2, got %d", amended.Revision)
	}
	if len(amended.ChangedFields) != 1 || amended.ChangedFields[0] != domain.FieldVesselName {
		t.Errorf("expected [vessel_name], got %v", amended.ChangedFields)
	}

	obs, _ := h.store.ListByDocument(ctx, resent.DocumentID)
	for _, o := range obs {
		if o.Resolution != domain.ResolutionDuplicate {
			t.Errorf("field %s: expected %q, got %q", o.FieldName, domain.ResolutionDuplicate, o.Resolution)
		}
	}
	revs, _ := h.store.ListRevisions(ctx, *first.ShipmentID)
	if len(revs) != 2 {
		t.Errorf("expected 2 revisions, got %d", len(revs))
	}
}

func TestThreadRepairRelinksReply(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	original := h.message("m1", "Booking Confirmation ABC123", "original", t0, map[string]string{"booking_number": "ABC123"})
	original.ThreadID = "T1"
	reply := h.message("m2", "RE: Booking Confirmation ABC123", "reply", t0.Add(time.Hour), map[string]string{"booking_number": "XYZ999"})
	reply.ThreadID = "T1"
	reply.Attachments = nil

	first := h.process(t, original)
	res := h.process(t, reply)
	if res.DocumentType != domain.DocGeneralCorrespondence {
		t.Errorf("expected guard to classify reply as %q, got %q", domain.DocGeneralCorrespondence, res.DocumentType)
	}

	link, _ := h.store.GetLink(ctx, res.DocumentID)
	if link == nil || link.ShipmentID != *first.ShipmentID {
		t.Fatalf("expected reply linked to %s, got %+v", *first.ShipmentID, link)
	}
	if link.Method != domain.LinkByThreadRepair {
		t.Errorf("expected %q, got %q", domain.LinkByThreadRepair, link.Method)
	}

	corrections, _ := h.store.ListCorrections(ctx, "T1")
	if len(corrections) != 1 {
		t.Fatalf("expected 1 correction, got %d", len(corrections))
	}
	c := corrections[0]
	if c.FromShipmentID == nil || *c.FromShipmentID != *res.ShipmentID {
		t.Errorf("expected correction from %s, got %+v", *res.ShipmentID, c.FromShipmentID)
	}
	if c.IdentifierValue != "ABC123" {
		t.Errorf("expected %q, got %q", "ABC123", c.IdentifierValue)
	}

	// second pass finds nothing to do
	repair, err := h.svc.RepairThread(ctx, "T1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repair.Corrections) != 0 {
		t.Errorf("expected no corrections, got %d", len(repair.Corrections))
	}
}

func TestEscalation(t *testing.T) {
	t.Run("successful escalation applies", func(t *testing.T) {
		h := newHarness(t)
		res := h.process(t, h.message("m1", "Final BL ABC123", "bl", t0, map[string]string{
			"booking_number": "ABC123", "bl_number": "mae 998877",
		}))
		if res.Action != domain.ActionEscalateSonnet {
			t.Errorf("expected %q, got %q", domain.ActionEscalateSonnet, res.Action)
		}
		if res.Tier != domain.TierMid {
			t.Errorf("expected tier %q, got %q", domain.TierMid, res.Tier)
		}
		if res.Outcome != in.OutcomeApplied {
			t.Errorf("expected %q, got %q", in.OutcomeApplied, res.Outcome)
		}
		sh, _ := h.store.GetShipment(context.Background(), *res.ShipmentID)
		if sh.BLNumber != "MAE998877" {
			t.Errorf("expected BL mirrored as %q, got %q", "MAE998877", sh.BLNumber)
		}
	})

	t.Run("failed escalation holds for review", func(t *testing.T) {
		h := newHarness(t)
		h.extractor.failTier[domain.TierMid] = true
		ctx := context.Background()

		res := h.process(t, h.message("m1", "Final BL ABC123", "bl", t0, map[string]string{
			"booking_number": "ABC123", "bl_number": "MAE998877",
		}))
		if res.ReviewStatus != domain.ReviewPending || res.Outcome != in.OutcomeHeld {
			t.Fatalf("expected pending hold, got %q %q", res.ReviewStatus, res.Outcome)
		}
		if len(h.fields(t, *res.ShipmentID)) != 0 {
			t.Error("expected no shipment fields while held")
		}

		pending, _ := h.svc.ListPendingReview(ctx, 10)
		if len(pending) != 1 {
			t.Fatalf("expected 1 pending review, got %d", len(pending))
		}

		approved, err := h.svc.ApproveReview(ctx, res.DocumentID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if approved.Outcome != in.OutcomeApplied {
			t.Errorf("expected %q, got %q", in.OutcomeApplied, approved.Outcome)
		}
		if approved.Workflow == nil || approved.Workflow.State != "bl_received" {
			t.Errorf("expected bl_received, got %+v", approved.Workflow)
		}
		if _, err := h.svc.ApproveReview(ctx, res.DocumentID); !errors.Is(err, domain.ErrNotPendingReview) {
			t.Errorf("expected %v, got %v", domain.ErrNotPendingReview, err)
		}
	})
}

func TestRejectReview(t *testing.T) {
	h := newHarness(t)
	h.extractor.failTier[domain.TierMid] = true
	ctx := context.Background()

	res := h.process(t, h.message("m1", "Final BL ABC123", "bl", t0, map[string]string{"booking_number": "ABC123"}))
	if err := h.svc.RejectReview(ctx, res.DocumentID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec, _ := h.store.GetClassification(ctx, res.DocumentID)
	if rec.ReviewStatus != domain.ReviewRejected {
		t.Errorf("expected %q, got %q", domain.ReviewRejected, rec.ReviewStatus)
	}
	if st, _ := h.store.GetState(ctx, *res.ShipmentID); st != nil {
		t.Errorf("expected no workflow state, got %q", st.State)
	}
	if err := h.svc.RejectReview(ctx, uuid.New()); !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Errorf("expected %v, got %v", domain.ErrDocumentNotFound, err)
	}
}

func TestTemporalGuardRejectsDates(t *testing.T) {
	h := newHarness(t)
	res := h.process(t, h.message("m1", "Booking Confirmation ABC123", "bc", t0, map[string]string{
		"booking_number": "ABC123",
		"etd":            "1999-01-01",
		"eta":            "2031-01-01",
		"vgm_cutoff":     "next tuesday",
		"vessel_name":    "MAERSK KOLKATA",
	}))

	for _, name := range []string{"etd", "eta", "vgm_cutoff"} {
		if _, ok := res.Rejected[name]; !ok {
			t.Errorf("expected %s to be rejected", name)
		}
	}
	fields := h.fields(t, *res.ShipmentID)
	if len(fields) != 1 || fields[domain.FieldVesselName] == nil {
		t.Errorf("expected only vessel_name stored, got %d fields", len(fields))
	}
}

func TestProcessBatchCollectsFailures(t *testing.T) {
	h := newHarness(t)
	msgs := []*domain.InboundMessage{
		h.message("m1", "Booking Confirmation A1", "a1", t0, map[string]string{"booking_number": "A1"}),
		{ExternalID: "  ", Subject: "broken"},
		h.message("m2", "Booking Confirmation A2", "a2", t0, map[string]string{"booking_number": "A2"}),
		h.message("m3", "Arrival Notice A1", "a3", t0.Add(time.Hour), map[string]string{"booking_number": "A1"}),
	}

	summary := h.svc.ProcessBatch(context.Background(), msgs)
	if summary.Total != 4 {
		t.Errorf("expected total 4, got %d", summary.Total)
	}
	if summary.Succeeded != 3 {
		t.Errorf("expected 3 succeeded, got %d", summary.Succeeded)
	}
	if len(summary.Failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(summary.Failures))
	}
	if summary.Failures[0].Error != domain.ErrMissingExternalID.Error() {
		t.Errorf("expected %q, got %q", domain.ErrMissingExternalID.Error(), summary.Failures[0].Error)
	}
}

func TestUnidentifiedDocumentStaysUnlinked(t *testing.T) {
	h := newHarness(t)
	res := h.process(t, h.message("m1", "Arrival Notice", "an", t0, map[string]string{"vessel_name": "MAERSK KOLKATA"}))
	if res.Outcome != in.OutcomeUnlinked || res.ShipmentID != nil {
		t.Errorf("expected unlinked document, got %q %v", res.Outcome, res.ShipmentID)
	}
}

func TestReconcileRepairsDrift(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.process(t, h.message("m1", "Booking Confirmation ABC123", "bc", t0, map[string]string{
		"booking_number": "ABC123", "vessel_name": "MAERSK KOLKATA",
	}))

	_ = h.store.UpsertField(ctx, &domain.ShipmentField{ShipmentID: *res.ShipmentID, FieldName: domain.FieldVesselName, Value: "WRONG"})
	_ = h.store.UpsertField(ctx, &domain.ShipmentField{ShipmentID: *res.ShipmentID, FieldName: domain.FieldCommodity, Value: "stale"})

	summary, err := h.svc.Reconcile(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Shipments != 1 || summary.FieldsChanged != 2 {
		t.Errorf("expected 1 shipment with 2 changed fields, got %+v", summary)
	}

	fields := h.fields(t, *res.ShipmentID)
	if fields[domain.FieldVesselName].Value != "MAERSK KOLKATA" {
		t.Errorf("expected %q, got %q", "MAERSK KOLKATA", fields[domain.FieldVesselName].Value)
	}
	if _, ok := fields[domain.FieldCommodity]; ok {
		t.Error("expected stale field to be removed")
	}

	again, _ := h.svc.Reconcile(ctx)
	if again.FieldsChanged != 0 || again.StatesChanged != 0 {
		t.Errorf("expected second reconcile to be a no-op, got %+v", again)
	}
}

func TestTerminalStateHolds(t *testing.T) {
	h := newHarness(t)
	pod := h.process(t, h.message("m1", "Proof of Delivery ABC123", "pod", t0, map[string]string{"booking_number": "ABC123"}))
	an := h.process(t, h.message("m2", "Arrival Notice ABC123", "an", t0.Add(time.Hour), map[string]string{"booking_number": "ABC123"}))

	if pod.Workflow == nil || pod.Workflow.State != "delivered" {
		t.Fatalf("expected delivered, got %+v", pod.Workflow)
	}
	if an.Workflow == nil || an.Workflow.State != "delivered" {
		t.Errorf("expected delivered to hold, got %+v", an.Workflow)
	}
	if an.Transition != nil {
		t.Errorf("expected no transition, got %+v", an.Transition)
	}
}

func TestGetShipmentView(t *testing.T) {
	h := newHarness(t)
	res := h.process(t, h.message("m1", "Booking Confirmation ABC123", "bc", t0, map[string]string{
		"booking_number": "ABC123", "vessel_name": "MAERSK KOLKATA", "carrier": "Maersk",
	}))

	view, err := h.svc.GetShipmentView(context.Background(), *res.ShipmentID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(view.Fields) != 2 || view.Fields[0].FieldName != domain.FieldCarrier {
		t.Errorf("expected sorted fields [carrier vessel_name], got %d", len(view.Fields))
	}
	if len(view.Documents) != 1 || len(view.Revisions) != 1 || len(view.Transitions) != 1 {
		t.Errorf("unexpected view %+v", view)
	}

	if _, err := h.svc.GetShipmentView(context.Background(), uuid.New()); !errors.Is(err, domain.ErrShipmentNotFound) {
		t.Errorf("expected %v, got %v", domain.ErrShipmentNotFound, err)
	}
}

func TestReprocessSameTypeIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.process(t, h.message("m1", "Booking Confirmation ABC123", "bc", t0, map[string]string{
		"booking_number": "ABC123", "vessel_name": "MAERSK KOLKATA",
	}))
	transitions, _ := h.store.ListTransitions(ctx, *first.ShipmentID)
	events := len(h.publisher.events)

	res, err := h.svc.Reprocess(ctx, first.DocumentID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != in.OutcomeDuplicate || res.Revision != 1 {
		t.Errorf("expected duplicate of revision 1, got %q rev %d", res.Outcome, res.Revision)
	}
	if len(h.extractor.calls) != 2 {
		t.Errorf("expected 2 extraction calls, got %d", len(h.extractor.calls))
	}

	revs, _ := h.store.ListRevisions(ctx, *first.ShipmentID)
	if len(revs) != 1 {
		t.Errorf("expected 1 revision, got %d", len(revs))
	}
	transitionsAfter, _ := h.store.ListTransitions(ctx, *first.ShipmentID)
	if len(transitionsAfter) != len(transitions) {
		t.Errorf("expected %d transitions, got %d", len(transitions), len(transitionsAfter))
	}
	if len(h.publisher.events) != events {
		t.Errorf("expected %d change events, got %d", events, len(h.publisher.events))
	}
	if got := h.fields(t, *first.ShipmentID)[domain.FieldVesselName].Value; got != "MAERSK KOLKATA" {
		t.Errorf("expected %q, got %q", "MAERSK KOLKATA", got)
	}

	if _, err := h.svc.Reprocess(ctx, uuid.New()); !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Errorf("expected %v, got %v", domain.ErrDocumentNotFound, err)
	}
}

func TestReprocessReclassificationFollowsNewType(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	booking := h.process(t, h.message("m1", "Booking Confirmation ABC123", "bc", t0, map[string]string{
		"booking_number": "ABC123", "vessel_name": "OLD VESSEL",
	}))
	shipmentID := *booking.ShipmentID

	const subject = "Vessel change ABC123"
	h.classifier.answer(subject, domain.DocGeneralCorrespondence, 95)
	update := h.process(t, h.message("m2", subject, "vessel change", t0.Add(time.Hour), map[string]string{
		"booking_number": "ABC123", "vessel_name": "NEW VESSEL",
	}))
	if update.DocumentType != domain.DocGeneralCorrespondence || update.Outcome != in.OutcomeApplied {
		t.Fatalf("expected applied general correspondence, got %q %q", update.DocumentType, update.Outcome)
	}
	if got := h.fields(t, shipmentID)[domain.FieldVesselName].Value; got != "OLD VESSEL" {
		t.Fatalf("expected %q, got %q", "OLD VESSEL", got)
	}

	h.classifier.answer(subject, domain.DocBookingAmendment, 95)
	res, err := h.svc.Reprocess(ctx, update.DocumentID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.DocumentType != domain.DocBookingAmendment {
		t.Errorf("expected %q, got %q", domain.DocBookingAmendment, res.DocumentType)
	}

	vessel := h.fields(t, shipmentID)[domain.FieldVesselName]
	if vessel.Value != "NEW VESSEL" || vessel.DocumentType != domain.DocBookingAmendment || vessel.AuthorityLevel != 60 {
		t.Errorf("expected NEW VESSEL owned by booking_amendment at 60, got %+v", vessel)
	}

	obs, _ := h.store.ListByDocument(ctx, update.DocumentID)
	for _, o := range obs {
		if o.DocumentType != domain.DocBookingAmendment {
			t.Errorf("field %s: expected %q, got %q", o.FieldName, domain.DocBookingAmendment, o.DocumentType)
		}
		if o.FieldName == domain.FieldVesselName && (o.AuthorityLevel != 60 || o.Resolution != domain.ResolutionAccepted) {
			t.Errorf("expected accepted vessel at level 60, got level %d %q", o.AuthorityLevel, o.Resolution)
		}
	}
	owner, _ := h.store.ListByDocument(ctx, booking.DocumentID)
	for _, o := range owner {
		if o.FieldName == domain.FieldVesselName && o.Resolution != domain.ResolutionDiscarded {
			t.Errorf("expected %q, got %q", domain.ResolutionDiscarded, o.Resolution)
		}
	}

	st, _ := h.store.GetState(ctx, shipmentID)
	if st == nil || st.State != "booking_amended" {
		t.Errorf("expected booking_amended, got %+v", st)
	}

	// a second reprocess changes nothing
	revs, _ := h.store.ListRevisions(ctx, shipmentID)
	transitions, _ := h.store.ListTransitions(ctx, shipmentID)
	if _, err := h.svc.Reprocess(ctx, update.DocumentID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	revsAfter, _ := h.store.ListRevisions(ctx, shipmentID)
	transitionsAfter, _ := h.store.ListTransitions(ctx, shipmentID)
	if len(revsAfter) != len(revs) || len(transitionsAfter) != len(transitions) {
		t.Errorf("expected %d revisions and %d transitions, got %d and %d",
			len(revs), len(transitions), len(revsAfter), len(transitionsAfter))
	}
}

func TestRetunedAuthorityAppliesOnReconcile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := h.process(t, h.message("m1", "Booking Confirmation ABC123", "bc", t0, map[string]string{
		"booking_number": "ABC123", "vessel_name": "MAERSK KOLKATA",
	}))
	h.process(t, h.message("m2", "Arrival Notice ABC123", "an", t0.Add(time.Hour), map[string]string{
		"booking_number": "ABC123", "vessel_name": "MAERSK KENSINGTON",
	}))
	if got := h.fields(t, *res.ShipmentID)[domain.FieldVesselName].Value; got != "MAERSK KOLKATA" {
		t.Fatalf("expected %q, got %q", "MAERSK KOLKATA", got)
	}

	rules := testRules()
	rules.Authority.Defaults[domain.DocArrivalNotice] = 70
	svc := h.service(t, rules)

	summary, err := svc.Reconcile(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.FieldsChanged != 1 {
		t.Errorf("expected 1 changed field, got %d", summary.FieldsChanged)
	}
	vessel := h.fields(t, *res.ShipmentID)[domain.FieldVesselName]
	if vessel.Value != "MAERSK KENSINGTON" || vessel.AuthorityLevel != 70 {
		t.Errorf("expected MAERSK KENSINGTON at level 70, got %+v", vessel)
	}
}

func TestThreadRepairMovesRevisions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	reply := h.message("r1", "RE: Booking Confirmation AAA111", "reply", t0.Add(time.Hour), map[string]string{
		"booking_number": "AAA111", "vessel_name": "MAERSK KOLKATA",
	})
	reply.ThreadID = "T1"
	reply.Attachments = nil
	original := h.message("o1", "Booking Confirmation BBB222", "original", t0, map[string]string{"booking_number": "BBB222"})
	original.ThreadID = "T1"

	first := h.process(t, reply)
	stale := *first.ShipmentID
	owner := h.process(t, original)
	target := *owner.ShipmentID

	link, _ := h.store.GetLink(ctx, first.DocumentID)
	if link == nil || link.ShipmentID != target {
		t.Fatalf("expected reply relinked to %s, got %+v", target, link)
	}

	staleRevs, _ := h.store.ListRevisions(ctx, stale)
	if len(staleRevs) != 0 {
		t.Errorf("expected no revisions left on the old shipment, got %d", len(staleRevs))
	}
	staleDocs, _ := h.store.ListLinkedDocuments(ctx, stale)
	if len(staleDocs) != 0 {
		t.Errorf("expected no documents left on the old shipment, got %d", len(staleDocs))
	}

	moved, _ := h.store.FindBySource(ctx, target, first.DocumentID)
	if moved == nil {
		t.Fatal("expected the reply's revision on the new shipment")
	}
	revs, _ := h.store.ListRevisions(ctx, target)

	again := h.process(t, reply)
	if again.Outcome != in.OutcomeDuplicate || again.Revision != moved.Revision {
		t.Errorf("expected duplicate of revision %d, got %q rev %d", moved.Revision, again.Outcome, again.Revision)
	}
	revsAfter, _ := h.store.ListRevisions(ctx, target)
	if len(revsAfter) != len(revs) {
		t.Errorf("expected %d revisions, got %d", len(revs), len(revsAfter))
	}
	if got := h.fields(t, target)[domain.FieldVesselName]; got == nil || got.Value != "MAERSK KOLKATA" {
		t.Errorf("expected reply fields replayed onto the new shipment, got %+v", got)
	}
}
