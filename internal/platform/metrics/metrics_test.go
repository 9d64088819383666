package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRegistryServesCounters(t *testing.T) {
	m := New()
	m.Page("index")
	m.Page("index")
	m.UploadsStored.Inc()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, `reproserver_pages_total{name="index"} 2`) {
		t.Fatalf("missing page counter in exposition:\n%s", body)
	}
	if !strings.Contains(body, "reproserver_uploads_stored_total 1") {
		t.Fatalf("missing uploads counter in exposition:\n%s", body)
	}
}

func TestPageNilRegistry(t *testing.T) {
	var m *Registry
	m.Page("index") // must not panic
}
