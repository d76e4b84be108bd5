package parslet

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// RunRecord is a snapshot of one completed Runner.Run invocation, archived
// for later inspection (e.g. by the diagnose command). It is a point-in-
// time summary, not a live view: a Runner's in-memory task_statuses map is
// the authority while a run is in flight.
type RunRecord struct {
	WorkflowID  string            `json:"workflow_id"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
	Workers     int               `json:"workers"`
	TaskStates  map[FutureID]string `json:"task_states"`
	CacheHits   int               `json:"cache_hits"`
	Aborted     bool              `json:"aborted"`
	AbortReason string            `json:"abort_reason,omitempty"`
}

var historyBucket = []byte("runs")

// HistoryStore is an optional, best-effort on-disk archive of RunRecords
// backed by BoltDB, adapted from the versioned bucket-write pattern used
// for workflow persistence in the corpus: a single bucket keyed by workflow
// ID holding the JSON-encoded record. A run's outcome is never affected by
// HistoryStore failures; the Runner logs and moves on (SPEC_FULL.md §4.5).
type HistoryStore struct {
	db *bbolt.DB
}

// OpenHistoryStore opens (creating if needed) a BoltDB file at path and
// ensures the runs bucket exists.
func OpenHistoryStore(path string) (*HistoryStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("parslet: open history store: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(historyBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("parslet: init history store: %w", err)
	}
	return &HistoryStore{db: db}, nil
}

// Close releases the underlying BoltDB file.
func (h *HistoryStore) Close() error {
	return h.db.Close()
}

// Put archives rec under its WorkflowID, overwriting any prior record for
// the same ID.
func (h *HistoryStore) Put(rec RunRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("parslet: marshal run record: %w", err)
	}
	return h.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(historyBucket)
		return bucket.Put([]byte(rec.WorkflowID), data)
	})
}

// Get retrieves the archived record for workflowID, if any.
func (h *HistoryStore) Get(workflowID string) (RunRecord, bool, error) {
	var rec RunRecord
	found := false
	err := h.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(historyBucket)
		data := bucket.Get([]byte(workflowID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return RunRecord{}, false, fmt.Errorf("parslet: read run record: %w", err)
	}
	return rec, found, nil
}

// Recent returns up to limit archived records in BoltDB key order, i.e.
// ascending by workflow ID. Records are not sorted by run time, so the ones
// returned are the first limit IDs, not necessarily the latest runs.
func (h *HistoryStore) Recent(limit int) ([]RunRecord, error) {
	var out []RunRecord
	err := h.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(historyBucket)
		return bucket.ForEach(func(k, v []byte) error {
			if len(out) >= limit {
				return nil
			}
			var rec RunRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}
