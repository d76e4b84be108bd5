package parslet

import (
	"path/filepath"
	"testing"
	"time"
)

func TestHistoryStorePutGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	hs, err := OpenHistoryStore(path)
	if err != nil {
		t.Fatalf("OpenHistoryStore: %v", err)
	}
	defer hs.Close()

	rec := RunRecord{
		WorkflowID: "wf-1",
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
		Workers:    2,
		TaskStates: map[FutureID]string{1: "COMPLETED"},
		CacheHits:  3,
	}
	if err := hs.Put(rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, found, err := hs.Get("wf-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatalf("expected record to be found")
	}
	if got.Workers != 2 || got.CacheHits != 3 {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestHistoryStoreRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	hs, err := OpenHistoryStore(path)
	if err != nil {
		t.Fatalf("OpenHistoryStore: %v", err)
	}
	defer hs.Close()

	for i := 0; i < 3; i++ {
		rec := RunRecord{WorkflowID: string(rune('a' + i)), Workers: i + 1}
		if err := hs.Put(rec); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	recent, err := hs.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recent))
	}
}
