package thread

import (
	"context"
	"testing"
	"time"

	"freight_server/adapter/out/memory"
	"freight_server/core/domain"

	"github.com/google/uuid"
)

func TestResolve(t *testing.T) {
	t0 := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	original := uuid.New()
	reply := uuid.New()

	tests := []struct {
		name      string
		emails    []*Email
		wantOK    bool
		wantDoc   uuid.UUID
		wantKind  domain.IdentifierKind
		wantValue string
	}{
		{
			name: "original wins over earlier reply",
			emails: []*Email{
				{DocumentID: reply, IsReply: true, ReceivedAt: t0, Identifiers: []Identifier{{Kind: domain.IdentifierBooking, Value: "XYZ999", Confidence: 90}}},
				{DocumentID: original, ReceivedAt: t0.Add(time.Hour), Identifiers: []Identifier{{Kind: domain.IdentifierBooking, Value: "ABC123", Confidence: 80}}},
			},
			wantOK:    true,
			wantDoc:   original,
			wantKind:  domain.IdentifierBooking,
			wantValue: "ABC123",
		},
		{
			name: "booking beats container within the winning email",
			emails: []*Email{
				{DocumentID: original, ReceivedAt: t0, Identifiers: []Identifier{
					{Kind: domain.IdentifierContainer, Value: "MSCU1234567", Confidence: 99},
					{Kind: domain.IdentifierReference, Value: "PO-1", Confidence: 99},
					{Kind: domain.IdentifierBooking, Value: "ABC123", Confidence: 60},
				}},
			},
			wantOK:    true,
			wantDoc:   original,
			wantKind:  domain.IdentifierBooking,
			wantValue: "ABC123",
		},
		{
			name: "confidence breaks same-kind ties",
			emails: []*Email{
				{DocumentID: original, ReceivedAt: t0, Identifiers: []Identifier{
					{Kind: domain.IdentifierBL, Value: "BL1", Confidence: 70},
					{Kind: domain.IdentifierBL, Value: "BL2", Confidence: 85},
				}},
			},
			wantOK:    true,
			wantDoc:   original,
			wantKind:  domain.IdentifierBL,
			wantValue: "BL2",
		},
		{
			name: "email without identifiers is skipped",
			emails: []*Email{
				{DocumentID: original, ReceivedAt: t0},
				{DocumentID: reply, IsReply: true, ReceivedAt: t0.Add(time.Hour), Identifiers: []Identifier{{Kind: domain.IdentifierContainer, Value: "TGHU7654321", Confidence: 80}}},
			},
			wantOK:    true,
			wantDoc:   reply,
			wantKind:  domain.IdentifierContainer,
			wantValue: "TGHU7654321",
		},
		{
			name:   "no identifiers leaves the thread unresolved",
			emails: []*Email{{DocumentID: original, ReceivedAt: t0}},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, ok := Resolve("thread-1", tt.emails)
			if ok != tt.wantOK {
				t.Fatalf("expected ok=%v, got %v", tt.wantOK, ok)
			}
			if !ok {
				return
			}
			if a.AuthorityDocumentID != tt.wantDoc {
				t.Errorf("expected authority document %s, got %s", tt.wantDoc, a.AuthorityDocumentID)
			}
			if a.IdentifierKind != tt.wantKind {
				t.Errorf("expected %q, got %q", tt.wantKind, a.IdentifierKind)
			}
			if a.IdentifierValue != tt.wantValue {
				t.Errorf("expected %q, got %q", tt.wantValue, a.IdentifierValue)
			}
		})
	}
}

func TestPlannerRelinksMisattributedReply(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	t0 := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

	original := &domain.Document{ID: uuid.New(), ExternalID: "m1", ThreadID: "T", ReceivedAt: t0}
	reply := &domain.Document{ID: uuid.New(), ExternalID: "m2", ThreadID: "T", IsReply: true, ReceivedAt: t0.Add(time.Hour)}
	unlinked := &domain.Document{ID: uuid.New(), ExternalID: "m3", ThreadID: "T", IsReply: true, ReceivedAt: t0.Add(2 * time.Hour)}
	for _, d := range []*domain.Document{original, reply, unlinked} {
		if err := store.SaveDocument(ctx, d); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	err := store.InsertObservations(ctx, []*domain.ExtractedField{
		{Provenance: domain.Provenance{DocumentID: original.ID, Confidence: 90}, FieldName: domain.FieldBookingNumber, Value: "ABC123", Resolution: domain.ResolutionAccepted},
		{Provenance: domain.Provenance{DocumentID: reply.ID, Confidence: 95}, FieldName: domain.FieldBookingNumber, Value: "XYZ999", Resolution: domain.ResolutionAccepted},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	right, _ := store.EnsureShipment(ctx, "ABC123")
	wrong, _ := store.EnsureShipment(ctx, "XYZ999")
	_ = store.Link(ctx, &domain.ShipmentLink{ShipmentID: right.ID, DocumentID: original.ID, Method: domain.LinkByBooking})
	_ = store.Link(ctx, &domain.ShipmentLink{ShipmentID: wrong.ID, DocumentID: reply.ID, Method: domain.LinkByBooking})

	authority, corrections, err := NewPlanner(store).Plan(ctx, "T")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if authority == nil || authority.IdentifierValue != "ABC123" {
		t.Fatalf("expected authority ABC123, got %+v", authority)
	}
	if len(corrections) != 2 {
		t.Fatalf("expected 2 corrections, got %d", len(corrections))
	}

	byDoc := make(map[uuid.UUID]*domain.LinkCorrection)
	for _, c := range corrections {
		byDoc[c.DocumentID] = c
		if c.ToShipmentID != right.ID {
			t.Errorf("expected correction to %s, got %s", right.ID, c.ToShipmentID)
		}
	}
	if c := byDoc[reply.ID]; c == nil || c.FromShipmentID == nil || *c.FromShipmentID != wrong.ID {
		t.Errorf("expected reply to move from %s, got %+v", wrong.ID, c)
	}
	if c := byDoc[unlinked.ID]; c == nil || c.FromShipmentID != nil {
		t.Errorf("expected unlinked reply to be linked fresh, got %+v", c)
	}

	stored, _ := store.GetAuthority(ctx, "T")
	if stored == nil || stored.AuthorityDocumentID != original.ID {
		t.Errorf("expected persisted authority for %s, got %+v", original.ID, stored)
	}
}

func TestPlannerUnresolvedThread(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	_ = store.SaveDocument(ctx, &domain.Document{ID: uuid.New(), ExternalID: "m1", ThreadID: "T", ReceivedAt: time.Now()})

	authority, corrections, err := NewPlanner(store).Plan(ctx, "T")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if authority != nil || len(corrections) != 0 {
		t.Errorf("expected unresolved thread, got %+v %v", authority, corrections)
	}
	if a, _ := store.GetAuthority(ctx, "T"); a != nil {
		t.Error("expected no authority row")
	}
}
