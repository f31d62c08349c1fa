package workflow

import (
	"testing"
	"time"

	"freight_server/core/domain"

	"github.com/google/uuid"
)

func testRules() []domain.WorkflowRule {
	return []domain.WorkflowRule{
		{DocumentType: domain.DocBookingConfirmation, Direction: domain.DirectionInbound, State: "booking_confirmation_received", Phase: domain.PhaseBooking, Priority: 20},
		{DocumentType: domain.DocBookingConfirmation, Direction: domain.DirectionOutbound, State: "booking_confirmation_shared", Phase: domain.PhaseBooking, Priority: 25},
		{DocumentType: domain.DocVGMConfirmation, Direction: domain.DirectionAny, State: "vgm_confirmed", Phase: domain.PhasePreDeparture, Priority: 40},
		{DocumentType: domain.DocSOBConfirmation, Direction: domain.DirectionAny, State: "vessel_departed", Phase: domain.PhaseInTransit, Priority: 60},
		{DocumentType: domain.DocArrivalNotice, Direction: domain.DirectionInbound, State: "arrival_notice_received", Phase: domain.PhaseArrival, Priority: 80},
		{DocumentType: domain.DocProofOfDelivery, Direction: domain.DirectionAny, State: "delivered", Phase: domain.PhaseDelivery, Priority: 100, Terminal: true},
	}
}

func linked(docType domain.DocumentType, dir domain.Direction, at time.Time) *domain.LinkedDocument {
	return &domain.LinkedDocument{
		DocumentID:   uuid.New(),
		DocumentType: docType,
		Direction:    dir,
		ReviewStatus: domain.ReviewNone,
		ReceivedAt:   at,
	}
}

func TestMachineRuleFor(t *testing.T) {
	m := NewMachine(testRules())

	tests := []struct {
		name      string
		docType   domain.DocumentType
		direction domain.Direction
		wantState string
		wantOK    bool
	}{
		{"inbound booking confirmation", domain.DocBookingConfirmation, domain.DirectionInbound, "booking_confirmation_received", true},
		{"outbound booking confirmation", domain.DocBookingConfirmation, domain.DirectionOutbound, "booking_confirmation_shared", true},
		{"any direction fallback", domain.DocVGMConfirmation, domain.DirectionOutbound, "vgm_confirmed", true},
		{"sob maps to vessel departed", domain.DocSOBConfirmation, domain.DirectionInbound, "vessel_departed", true},
		{"no rule for outbound arrival notice", domain.DocArrivalNotice, domain.DirectionOutbound, "", false},
		{"no rule for invoice", domain.DocInvoice, domain.DirectionInbound, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, ok := m.RuleFor(tt.docType, tt.direction)
			if ok != tt.wantOK {
				t.Fatalf("expected ok=%v, got %v", tt.wantOK, ok)
			}
			if ok && rule.State != tt.wantState {
				t.Errorf("expected %q, got %q", tt.wantState, rule.State)
			}
		})
	}
}

func TestMachineDeriveOutOfOrder(t *testing.T) {
	m := NewMachine(testRules())
	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	// Arrival notice lands before the VGM confirmation is recorded.
	docs := []*domain.LinkedDocument{
		linked(domain.DocBookingConfirmation, domain.DirectionInbound, t0),
		linked(domain.DocArrivalNotice, domain.DirectionInbound, t0.Add(24*time.Hour)),
		linked(domain.DocVGMConfirmation, domain.DirectionInbound, t0.Add(48*time.Hour)),
	}

	c, ok := m.Derive(docs)
	if !ok {
		t.Fatal("expected a candidate")
	}
	if c.Rule.State != "arrival_notice_received" {
		t.Errorf("expected arrival_notice_received, got %q", c.Rule.State)
	}

	reversed := []*domain.LinkedDocument{docs[2], docs[1], docs[0]}
	c2, _ := m.Derive(reversed)
	if c2.Rule.State != c.Rule.State || c2.DocumentID != c.DocumentID {
		t.Errorf("expected derivation to ignore document order")
	}
}

func TestMachineDeriveSkipsIneligible(t *testing.T) {
	m := NewMachine(testRules())
	t0 := time.Now()

	pending := linked(domain.DocArrivalNotice, domain.DirectionInbound, t0)
	pending.ReviewStatus = domain.ReviewPending

	docs := []*domain.LinkedDocument{
		linked(domain.DocBookingConfirmation, domain.DirectionOutbound, t0),
		pending,
		linked(domain.DocInvoice, domain.DirectionInbound, t0),
	}

	c, ok := m.Derive(docs)
	if !ok {
		t.Fatal("expected a candidate")
	}
	if c.Rule.State != "booking_confirmation_shared" {
		t.Errorf("expected booking_confirmation_shared, got %q", c.Rule.State)
	}

	if _, ok := m.Derive([]*domain.LinkedDocument{pending}); ok {
		t.Error("expected no candidate from pending documents")
	}
}

func TestMachineNext(t *testing.T) {
	m := NewMachine(testRules())
	shipmentID := uuid.New()
	t0 := time.Now()

	booking := linked(domain.DocBookingConfirmation, domain.DirectionInbound, t0)
	c, _ := m.Derive([]*domain.LinkedDocument{booking})

	state, tr := m.Next(shipmentID, nil, c, domain.SourceDocument)
	if state == nil || tr == nil {
		t.Fatal("expected initial transition")
	}
	if tr.FromState != "" || tr.ToState != "booking_confirmation_received" {
		t.Errorf("unexpected transition %+v", tr)
	}
	if tr.TriggerDocType != domain.DocBookingConfirmation {
		t.Errorf("expected trigger %q, got %q", domain.DocBookingConfirmation, tr.TriggerDocType)
	}

	if s, _ := m.Next(shipmentID, state, c, domain.SourceReconcile); s != nil {
		t.Error("expected no change when the derived state is already stored")
	}

	delivered := &domain.WorkflowState{ShipmentID: shipmentID, State: "delivered", Priority: 100, Terminal: true}
	arrival, _ := m.Derive([]*domain.LinkedDocument{linked(domain.DocArrivalNotice, domain.DirectionInbound, t0)})
	if s, _ := m.Next(shipmentID, delivered, arrival, domain.SourceReconcile); s != nil {
		t.Errorf("expected terminal state to hold, got %q", s.State)
	}

	vgm := &domain.WorkflowState{ShipmentID: shipmentID, State: "vgm_confirmed", Priority: 40}
	s, tr := m.Next(shipmentID, vgm, arrival, domain.SourceReconcile)
	if s == nil || s.State != "arrival_notice_received" {
		t.Fatalf("expected advance to arrival_notice_received, got %+v", s)
	}
	if tr.FromState != "vgm_confirmed" || tr.Source != domain.SourceReconcile {
		t.Errorf("unexpected transition %+v", tr)
	}
}
