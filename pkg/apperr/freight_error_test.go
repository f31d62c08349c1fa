package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAsAppError(t *testing.T) {
	base := NotFound("shipment")
	wrapped := fmt.Errorf("handler: %w", base)

	if got := AsAppError(wrapped); got != base {
		t.Errorf("expected %v, got %v", base, got)
	}
	if got := GetHTTPStatus(wrapped); got != http.StatusNotFound {
		t.Errorf("expected %d, got %d", http.StatusNotFound, got)
	}

	plain := errors.New("boom")
	got := AsAppError(plain)
	if got.Code != CodeInternalError || !errors.Is(got, plain) {
		t.Errorf("expected internal error wrapping %v, got %v", plain, got)
	}
}

func TestWithDetailCopies(t *testing.T) {
	base := InvalidInput("document_id", "not a uuid")
	detailed := base.WithDetail("value", "abc")
	if _, ok := base.Details["value"]; ok {
		t.Error("expected base error to be unchanged")
	}
	if detailed.Details["field"] != "document_id" || detailed.Details["value"] != "abc" {
		t.Errorf("unexpected details %v", detailed.Details)
	}
}
