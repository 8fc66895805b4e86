package runlog

import (
	"context"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/recolte/dbopen"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	return s
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	runID, err := s.BeginRun(ctx, "https://example.com/portal", time.Now())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	outcomes := []*Outcome{
		{URL: "https://example.com/a.pdf", Year: "2025", Category: "薬価改定通知",
			FileName: "a.pdf", Status: "成功", SizeKB: 1.5, ContentHash: "aa"},
		{URL: "https://example.com/b.pdf", Year: "2025", Category: "薬価改定通知",
			FileName: "b.pdf", Status: "スキップ", Note: "ハッシュ重複"},
		{URL: "https://example.com/c.pdf", Year: "2024", Category: "疑義解釈",
			FileName: "c.pdf", Status: "失敗", ErrorKind: "network"},
	}
	for _, o := range outcomes {
		if err := s.RecordOutcome(ctx, runID, o); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	if err := s.FinishRun(ctx, runID, 1, 1, 1); err != nil {
		t.Fatalf("finish: %v", err)
	}

	got, err := s.RunOutcomes(ctx, runID)
	if err != nil {
		t.Fatalf("outcomes: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("count: got %d", len(got))
	}
	// Insertion order is preserved: outcome IDs are time-sortable.
	if got[0].URL != outcomes[0].URL || got[2].ErrorKind != "network" {
		t.Errorf("order or fields wrong: %+v", got)
	}
}

func TestRunOutcomes_EmptyRun(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	runID, err := s.BeginRun(ctx, "https://example.com", time.Now())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	got, err := s.RunOutcomes(ctx, runID)
	if err != nil {
		t.Fatalf("outcomes: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d outcomes", len(got))
	}
}
