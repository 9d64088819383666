package postgres

import (
	"strings"
	"testing"
)

func TestExperimentInsertIsIdempotentByHash(t *testing.T) {
	if !strings.Contains(insertExperimentQuery, "ON CONFLICT (hash) DO NOTHING") {
		t.Fatalf("expected hash conflict clause in insert query")
	}
}

func TestLatestUploadQueryOrdersByNewest(t *testing.T) {
	if !strings.Contains(selectLatestUploadByKeyQuery, "ORDER BY u.id DESC") {
		t.Fatalf("expected newest-first ordering in repository key lookup")
	}
	if !strings.Contains(selectLatestUploadByKeyQuery, "repository_key = $1") {
		t.Fatalf("expected repository_key predicate")
	}
}

func TestLogLinesQueryIsMonotonic(t *testing.T) {
	if !strings.Contains(selectLogLinesQuery, "line_no >= $2") {
		t.Fatalf("expected offset predicate in log query")
	}
	if !strings.Contains(selectLogLinesQuery, "ORDER BY line_no") {
		t.Fatalf("expected ordered log lines")
	}
}
