package revision

import (
	"context"
	"testing"

	"freight_server/adapter/out/memory"
	"freight_server/core/domain"

	"github.com/google/uuid"
)

func TestFingerprintNormalization(t *testing.T) {
	a := map[string]string{
		"vessel_name":      "MAERSK  Kolkata",
		"etd":              "2025-03-10",
		"container_number": "TGHU7654321, mscu1234567",
	}
	b := map[string]string{
		"container_number": "MSCU1234567 TGHU7654321",
		"etd":              "2025-03-10",
		"vessel_name":      " maersk kolkata ",
	}
	if Fingerprint(a) != Fingerprint(b) {
		t.Error("expected normalized field sets to share a fingerprint")
	}

	c := map[string]string{
		"vessel_name":      "MAERSK KOLKATA",
		"etd":              "2025-03-11",
		"container_number": "TGHU7654321, MSCU1234567",
	}
	if Fingerprint(a) == Fingerprint(c) {
		t.Error("expected a single differing field to change the fingerprint")
	}

	if Fingerprint(map[string]string{"etd": ""}) != Fingerprint(nil) {
		t.Error("expected empty values to be ignored")
	}
}

func TestTrackerDeduplicates(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	tracker := NewTracker(store)
	shipmentID := uuid.New()

	fields := map[string]string{"booking_number": "ABC123", "vessel_name": "MAERSK KOLKATA"}
	fp := Fingerprint(fields)

	first := uuid.New()
	dup, err := tracker.DuplicateOf(ctx, shipmentID, first, domain.DocBookingConfirmation, fp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dup != nil {
		t.Fatal("expected first document not to be a duplicate")
	}

	rev, err := tracker.Record(ctx, shipmentID, first, domain.DocBookingConfirmation, fp, []string{"vessel_name"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rev.Revision != 1 {
		t.Errorf("expected revision 1, got %d", rev.Revision)
	}

	// Same PDF received again under a new message.
	second := uuid.New()
	dup, err = tracker.DuplicateOf(ctx, shipmentID, second, domain.DocBookingConfirmation, fp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dup == nil || dup.Revision != 1 {
		t.Fatalf("expected duplicate of revision 1, got %+v", dup)
	}

	// Same document reprocessed.
	dup, err = tracker.DuplicateOf(ctx, shipmentID, first, domain.DocBookingConfirmation, "other")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dup == nil {
		t.Fatal("expected reprocessed document to be a duplicate")
	}

	// Same fingerprint under a different type is a new revision line.
	dup, err = tracker.DuplicateOf(ctx, shipmentID, second, domain.DocBookingAmendment, fp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dup != nil {
		t.Error("expected fingerprint match to be scoped to the document type")
	}

	amended := Fingerprint(map[string]string{"booking_number": "ABC123", "vessel_name": "MAERSK KENSINGTON"})
	rev, err = tracker.Record(ctx, shipmentID, second, domain.DocBookingConfirmation, amended, []string{"vessel_name"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rev.Revision != 2 {
		t.Errorf("expected revision 2, got %d", rev.Revision)
	}

	revs, _ := store.ListRevisions(ctx, shipmentID)
	if len(revs) != 2 {
		t.Errorf("expected 2 revisions, got %d", len(revs))
	}
}

func TestTrackerMove(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	tracker := NewTracker(store)
	from, to := uuid.New(), uuid.New()

	moving, resident, twin := uuid.New(), uuid.New(), uuid.New()
	fp := Fingerprint(map[string]string{"booking_number": "AAA111"})
	other := Fingerprint(map[string]string{"booking_number": "BBB222"})

	if _, err := tracker.Record(ctx, from, moving, domain.DocGeneralCorrespondence, fp, []string{"vessel_name"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := tracker.Record(ctx, from, twin, domain.DocBookingConfirmation, other, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := tracker.Record(ctx, to, resident, domain.DocGeneralCorrespondence, other, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	moved, err := tracker.Move(ctx, moving, from, to)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if moved != 1 {
		t.Errorf("expected 1 moved revision, got %d", moved)
	}

	left, _ := store.ListRevisions(ctx, from)
	if len(left) != 1 || left[0].SourceDocumentID != twin {
		t.Errorf("expected only the unrelated revision left behind, got %+v", left)
	}
	rev, _ := store.FindBySource(ctx, to, moving)
	if rev == nil || rev.Revision != 2 || rev.Fingerprint != fp {
		t.Fatalf("expected revision 2 with the original fingerprint, got %+v", rev)
	}
	if len(rev.ChangedFields) != 1 || rev.ChangedFields[0] != "vessel_name" {
		t.Errorf("expected changed fields to travel, got %v", rev.ChangedFields)
	}

	// moving again finds nothing on the old shipment
	moved, err = tracker.Move(ctx, moving, from, to)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if moved != 0 {
		t.Errorf("expected 0 moved revisions, got %d", moved)
	}
}
