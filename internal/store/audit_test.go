package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestAuditLog(t *testing.T) *SQLiteAuditLog {
	t.Helper()

	auditLog, err := NewSQLiteAuditLog(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("failed to open audit log: %v", err)
	}
	t.Cleanup(func() { auditLog.Close() })
	return auditLog
}

func TestAuditLogRoundTrip(t *testing.T) {
	auditLog := openTestAuditLog(t)
	ctx := context.Background()

	entries := []*AuditEntry{
		{UserID: "u1", Intent: "plan_trip", Success: true, Cost: 0.01, Duration: 800 * time.Millisecond},
		{UserID: "u1", Intent: "book_flight", Success: false, Error: "all providers failed"},
		{UserID: "u2", Intent: "plan_trip", Success: true, Cached: true},
	}
	for _, entry := range entries {
		if err := auditLog.Log(ctx, entry); err != nil {
			t.Fatalf("log failed: %v", err)
		}
	}

	all, err := auditLog.Query(ctx, nil)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}

	byUser, err := auditLog.Query(ctx, &AuditFilter{UserID: "u1"})
	if err != nil {
		t.Fatalf("filtered query failed: %v", err)
	}
	if len(byUser) != 2 {
		t.Errorf("expected 2 entries for u1, got %d", len(byUser))
	}

	success := true
	succeeded, err := auditLog.Query(ctx, &AuditFilter{Success: &success})
	if err != nil {
		t.Fatalf("success query failed: %v", err)
	}
	if len(succeeded) != 2 {
		t.Errorf("expected 2 successful entries, got %d", len(succeeded))
	}

	limited, err := auditLog.Query(ctx, &AuditFilter{Limit: 1})
	if err != nil {
		t.Fatalf("limited query failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected the limit respected, got %d", len(limited))
	}

	if err := auditLog.Log(ctx, nil); err == nil {
		t.Error("expected error for nil entry")
	}
}

func TestAuditLogPreservesFields(t *testing.T) {
	auditLog := openTestAuditLog(t)
	ctx := context.Background()

	logged := &AuditEntry{
		UserID:      "u1",
		Intent:      "book_hotel",
		Fingerprint: "u1:find me a hotel:deadbeef",
		ExecutionID: "exec-42",
		Success:     true,
		Cost:        0.025,
		Duration:    1500 * time.Millisecond,
	}
	if err := auditLog.Log(ctx, logged); err != nil {
		t.Fatalf("log failed: %v", err)
	}

	entries, err := auditLog.Query(ctx, &AuditFilter{UserID: "u1"})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	got := entries[0]
	if got.Fingerprint != logged.Fingerprint || got.ExecutionID != logged.ExecutionID {
		t.Errorf("identifiers lost in round trip: %+v", got)
	}
	if got.Duration != logged.Duration {
		t.Errorf("expected duration %v, got %v", logged.Duration, got.Duration)
	}
	if got.Cost != logged.Cost {
		t.Errorf("expected cost %v, got %v", logged.Cost, got.Cost)
	}
}

func TestAuditLogIntentCounts(t *testing.T) {
	auditLog := openTestAuditLog(t)
	ctx := context.Background()

	for _, intent := range []string{"plan_trip", "plan_trip", "book_flight"} {
		if err := auditLog.Log(ctx, &AuditEntry{UserID: "u1", Intent: intent}); err != nil {
			t.Fatalf("log failed: %v", err)
		}
	}

	counts, err := auditLog.IntentCounts(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("intent counts failed: %v", err)
	}
	if counts["plan_trip"] != 2 || counts["book_flight"] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}

	future, err := auditLog.IntentCounts(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("intent counts failed: %v", err)
	}
	if len(future) != 0 {
		t.Errorf("expected no counts after the cutoff, got %v", future)
	}
}
