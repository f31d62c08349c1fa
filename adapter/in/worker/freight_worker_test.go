package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"freight_server/adapter/out/messaging"
	"freight_server/core/domain"
	"freight_server/core/port/in"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type fakeIngest struct {
	mu          sync.Mutex
	processed   []*domain.InboundMessage
	reprocessed []uuid.UUID
	reconciles  int
	err         error
}

func (f *fakeIngest) Process(ctx context.Context, msg *domain.InboundMessage) (*in.ProcessResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.processed = append(f.processed, msg)
	return &in.ProcessResult{DocumentID: uuid.New(), Outcome: in.OutcomeApplied}, nil
}

func (f *fakeIngest) Reprocess(ctx context.Context, documentID uuid.UUID) (*in.ProcessResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.reprocessed = append(f.reprocessed, documentID)
	return &in.ProcessResult{DocumentID: documentID, Outcome: in.OutcomeApplied}, nil
}

func (f *fakeIngest) ProcessBatch(ctx context.Context, msgs []*domain.InboundMessage) *in.BatchSummary {
	return &in.BatchSummary{Total: len(msgs)}
}

func (f *fakeIngest) Reconcile(ctx context.Context) (*in.ReconcileSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconciles++
	return &in.ReconcileSummary{}, f.err
}

func (f *fakeIngest) RebuildShipment(ctx context.Context, shipmentID uuid.UUID) error { return nil }

func (f *fakeIngest) RepairThread(ctx context.Context, threadID string) (*in.RepairResult, error) {
	return &in.RepairResult{ThreadID: threadID}, nil
}

func (f *fakeIngest) ListPendingReview(ctx context.Context, limit int) ([]*domain.ClassificationRecord, error) {
	return nil, nil
}

func (f *fakeIngest) ApproveReview(ctx context.Context, documentID uuid.UUID) (*in.ProcessResult, error) {
	return nil, nil
}

func (f *fakeIngest) RejectReview(ctx context.Context, documentID uuid.UUID) error { return nil }

func (f *fakeIngest) GetShipmentView(ctx context.Context, shipmentID uuid.UUID) (*domain.ShipmentView, error) {
	return nil, nil
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestHandlerProcess(t *testing.T) {
	docID := uuid.New()

	tests := []struct {
		name    string
		msg     func(t *testing.T) *Message
		wantErr bool
		check   func(t *testing.T, f *fakeIngest)
	}{
		{
			name: "ingest",
			msg: func(t *testing.T) *Message {
				return NewMessage(JobIngest, mustJSON(t, messaging.IngestJob{
					JobID:   "j1",
					Message: &domain.InboundMessage{ExternalID: "m-1", Subject: "Booking Confirmation"},
				}))
			},
			check: func(t *testing.T, f *fakeIngest) {
				if len(f.processed) != 1 || f.processed[0].ExternalID != "m-1" {
					t.Errorf("expected message m-1 to be processed, got %v", f.processed)
				}
			},
		},
		{
			name: "ingest without message",
			msg: func(t *testing.T) *Message {
				return NewMessage(JobIngest, mustJSON(t, messaging.IngestJob{JobID: "j2"}))
			},
			wantErr: true,
		},
		{
			name: "reprocess",
			msg: func(t *testing.T) *Message {
				return NewMessage(JobReprocess, mustJSON(t, messaging.ReprocessJob{DocumentID: docID}))
			},
			check: func(t *testing.T, f *fakeIngest) {
				if len(f.reprocessed) != 1 || f.reprocessed[0] != docID {
					t.Errorf("expected %s to be reprocessed, got %v", docID, f.reprocessed)
				}
			},
		},
		{
			name: "reconcile",
			msg: func(t *testing.T) *Message {
				return NewMessage(JobReconcile, []byte(`{}`))
			},
			check: func(t *testing.T, f *fakeIngest) {
				if f.reconciles != 1 {
					t.Errorf("expected 1 reconcile, got %d", f.reconciles)
				}
			},
		},
		{
			name: "malformed payload",
			msg: func(t *testing.T) *Message {
				return NewMessage(JobReprocess, []byte(`{"document_id": 42`))
			},
			wantErr: true,
		},
		{
			name: "unknown type is dropped",
			msg: func(t *testing.T) *Message {
				return NewMessage("freight.unknown", []byte(`{}`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeIngest{}
			h := NewHandler(f)

			err := h.Process(context.Background(), tt.msg(t))
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error=%v, got %v", tt.wantErr, err)
			}
			if tt.check != nil {
				tt.check(t, f)
			}
		})
	}
}

func TestStreamJobType(t *testing.T) {
	tests := []struct {
		stream string
		want   JobType
	}{
		{messaging.StreamIngest, JobIngest},
		{messaging.StreamReprocess, JobReprocess},
		{messaging.StreamReconcile, JobReconcile},
		{"other", "other"},
	}
	for _, tt := range tests {
		t.Run(tt.stream, func(t *testing.T) {
			if got := StreamJobType(tt.stream); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestPoolTrackedMessage(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"success", nil, false},
		{"failure is reported, not retried", errors.New("oracle down"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeIngest{err: tt.err}
			p := NewPool(NewHandler(f), DefaultPoolConfig(), zerolog.Nop())
			p.Start()
			defer p.Stop()

			msg, done := NewTrackedMessage(JobReconcile, []byte(`{}`))
			if !p.Submit(msg) {
				t.Fatal("expected submit to succeed")
			}

			select {
			case err := <-done:
				if (err != nil) != tt.wantErr {
					t.Errorf("expected error=%v, got %v", tt.wantErr, err)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("timed out waiting for job")
			}

			m := p.GetMetrics()
			if tt.wantErr && m.JobsRetried != 0 {
				t.Errorf("expected no in-pool retries, got %d", m.JobsRetried)
			}
		})
	}
}

func TestPoolSubmitBeforeStart(t *testing.T) {
	p := NewPool(NewHandler(&fakeIngest{}), nil, zerolog.Nop())
	if p.Submit(NewMessage(JobReconcile, []byte(`{}`))) {
		t.Error("expected submit to fail before Start")
	}
}

func TestPoolDropsOverRate(t *testing.T) {
	cfg := DefaultPoolConfig()
	cfg.RatePerSecond = 2
	p := NewPool(NewHandler(&fakeIngest{}), cfg, zerolog.Nop())
	p.Start()
	defer p.Stop()

	accepted := 0
	for i := 0; i < 3; i++ {
		if p.Submit(NewMessage(JobReconcile, []byte(`{}`))) {
			accepted++
		}
	}
	if accepted != 2 {
		t.Errorf("expected 2 accepted jobs, got %d", accepted)
	}
	if got := p.GetMetrics().JobsDropped; got != 1 {
		t.Errorf("expected 1 dropped job, got %d", got)
	}
}
