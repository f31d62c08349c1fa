package metrics

import (
	"testing"
	"time"
)

func TestLatencyTrackerWindow(t *testing.T) {
	tr := NewLatencyTracker(4)
	for i := 1; i <= 6; i++ {
		tr.Record(time.Duration(i) * time.Millisecond)
	}

	st := tr.Stats()
	if st.Count != 6 {
		t.Errorf("expected count 6, got %d", st.Count)
	}
	if st.Samples != 4 {
		t.Errorf("expected 4 samples, got %d", st.Samples)
	}
	if st.MaxMS != 6 {
		t.Errorf("expected max 6, got %v", st.MaxMS)
	}
	if st.P50MS != 4 {
		t.Errorf("expected p50 4, got %v", st.P50MS)
	}
}

func TestRegistrySnapshot(t *testing.T) {
	r := NewRegistry(10)
	r.Observe("stage.classify", 2*time.Millisecond)
	r.Inc("outcome.applied")
	r.Inc("outcome.applied")

	s := r.Snapshot()
	if s.Counters["outcome.applied"] != 2 {
		t.Errorf("expected 2, got %d", s.Counters["outcome.applied"])
	}
	if s.Latency["stage.classify"].Count != 1 {
		t.Errorf("expected 1 sample, got %d", s.Latency["stage.classify"].Count)
	}
}
