package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"freight_server/core/domain"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type mockWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, msgs...)
	return nil
}

func (m *mockWriter) Close() error {
	m.closed = true
	return nil
}

type recordingSink struct {
	events []*domain.ShipmentChangeEvent
	err    error
}

func (s *recordingSink) PublishShipmentChange(ctx context.Context, event *domain.ShipmentChangeEvent) error {
	s.events = append(s.events, event)
	return s.err
}

func testEvent() *domain.ShipmentChangeEvent {
	return &domain.ShipmentChangeEvent{
		ShipmentID:    uuid.New(),
		BookingNumber: "MAEU123456789",
		DocumentID:    uuid.New(),
		DocumentType:  domain.DocumentType("arrival_notice"),
		Revision:      2,
		ChangedFields: []string{"eta"},
		Source:        "document",
		OccurredAt:    time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestKafkaChangePublisher(t *testing.T) {
	w := &mockWriter{}
	p := NewKafkaChangePublisherWithWriter(w)
	event := testEvent()

	if err := p.PublishShipmentChange(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	if string(w.msgs[0].Key) != event.ShipmentID.String() {
		t.Errorf("expected key %q, got %q", event.ShipmentID.String(), string(w.msgs[0].Key))
	}

	var decoded domain.ShipmentChangeEvent
	if err := json.Unmarshal(w.msgs[0].Value, &decoded); err != nil {
		t.Fatalf("failed to decode value: %v", err)
	}
	if decoded.BookingNumber != event.BookingNumber {
		t.Errorf("expected booking %q, got %q", event.BookingNumber, decoded.BookingNumber)
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Errorf("expected writer to be closed")
	}
}

func TestKafkaChangePublisherWriteError(t *testing.T) {
	w := &mockWriter{err: errors.New("broker down")}
	p := NewKafkaChangePublisherWithWriter(w)

	if err := p.PublishShipmentChange(context.Background(), testEvent()); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestFanoutPublisher(t *testing.T) {
	ok := &recordingSink{}
	failing := &recordingSink{err: errors.New("sink failed")}

	tests := []struct {
		name    string
		sinks   []*recordingSink
		wantErr bool
	}{
		{"all succeed", []*recordingSink{ok}, false},
		{"one fails, others still receive", []*recordingSink{failing, ok}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok.events, failing.events = nil, nil
			f := NewFanoutPublisher(nil)
			for _, s := range tt.sinks {
				f.sinks = append(f.sinks, s)
			}

			err := f.PublishShipmentChange(context.Background(), testEvent())
			if (err != nil) != tt.wantErr {
				t.Errorf("expected error=%v, got %v", tt.wantErr, err)
			}
			for _, s := range tt.sinks {
				if len(s.events) != 1 {
					t.Errorf("expected every sink to receive 1 event, got %d", len(s.events))
				}
			}
		})
	}
}

func TestNewFanoutPublisherDropsNil(t *testing.T) {
	f := NewFanoutPublisher(nil, &recordingSink{}, nil)
	if f.Len() != 1 {
		t.Errorf("expected 1 sink, got %d", f.Len())
	}
}

func TestDeadLetterStream(t *testing.T) {
	if got := DeadLetterStream(StreamIngest); got != "dlq:freight:ingest" {
		t.Errorf("expected %q, got %q", "dlq:freight:ingest", got)
	}
}
