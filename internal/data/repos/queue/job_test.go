package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/castellan/chatvault/internal/data/repos/testutil"
	types "github.com/castellan/chatvault/internal/domain"
	"github.com/castellan/chatvault/internal/pkg/dbctx"
)

func TestBackoffSchedule(t *testing.T) {
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 5 * time.Minute},
		{2, 10 * time.Minute},
		{3, 20 * time.Minute},
		{0, 5 * time.Minute}, // clamped
	}
	for _, tc := range cases {
		if got := Backoff(5, tc.attempts); got != tc.want {
			t.Fatalf("Backoff(5, %d) = %v, want %v", tc.attempts, got, tc.want)
		}
	}
}

func TestEnqueueDequeueOrder(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	repo := NewJobRepo(tx, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}

	early := time.Now().UTC().Add(-time.Minute)
	late := time.Now().UTC()

	second, err := repo.Enqueue(dbc, "generate_embedding", map[string]string{"n": "2"}, late)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	first, err := repo.Enqueue(dbc, "generate_embedding", map[string]string{"n": "1"}, early)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got, err := repo.DequeueNext(dbc, nil, 3)
	if err != nil || got == nil {
		t.Fatalf("dequeue: %v %v", got, err)
	}
	if got.ID != first.ID {
		t.Fatalf("FIFO by not_before: got %d want %d", got.ID, first.ID)
	}
	if got.Status != "running" || got.Attempts != 1 {
		t.Fatalf("claimed state: %s attempts=%d", got.Status, got.Attempts)
	}

	got, err = repo.DequeueNext(dbc, nil, 3)
	if err != nil || got == nil || got.ID != second.ID {
		t.Fatalf("second dequeue: %v %v", got, err)
	}
	// Queue drained.
	got, err = repo.DequeueNext(dbc, nil, 3)
	if err != nil || got != nil {
		t.Fatalf("empty queue: %v %v", got, err)
	}
}

func TestDequeueRespectsKindsAndNotBefore(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	repo := NewJobRepo(tx, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}

	if _, err := repo.Enqueue(dbc, "youtube_transcription", nil, time.Time{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := repo.Enqueue(dbc, "generate_embedding", nil, time.Now().UTC().Add(time.Hour)); err != nil {
		t.Fatalf("enqueue future: %v", err)
	}

	got, err := repo.DequeueNext(dbc, []string{"generate_embedding"}, 3)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got != nil {
		t.Fatalf("future job must not be claimed, got %d", got.ID)
	}
	got, err = repo.DequeueNext(dbc, []string{"youtube_transcription"}, 3)
	if err != nil || got == nil {
		t.Fatalf("kind filter: %v %v", got, err)
	}
}

func TestMarkFailedBackoffAndExhaustion(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	repo := NewJobRepo(tx, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}

	job, err := repo.Enqueue(dbc, "generate_embedding", nil, time.Time{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// First failure: attempts=1 after dequeue, retry scheduled.
	if _, err := repo.DequeueNext(dbc, nil, 3); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := repo.MarkFailed(dbc, job.ID, 5, 3); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	var row types.Job
	if err := tx.First(&row, job.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if row.Status != "pending" {
		t.Fatalf("should retry: %s", row.Status)
	}
	if !row.NotBefore.After(time.Now().UTC().Add(4 * time.Minute)) {
		t.Fatalf("backoff too short: %v", row.NotBefore)
	}

	// Exhaust attempts.
	if err := tx.Model(&types.Job{}).Where("id = ?", job.ID).
		Updates(map[string]interface{}{"attempts": 3, "not_before": time.Now().UTC().Add(-time.Minute)}).Error; err != nil {
		t.Fatalf("prep: %v", err)
	}
	if err := repo.MarkFailed(dbc, job.ID, 5, 3); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := tx.First(&row, job.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if row.Status != "failed" {
		t.Fatalf("exhausted job should park as failed: %s", row.Status)
	}
}

func TestMarkFailedPermanent(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	repo := NewJobRepo(tx, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}

	job, err := repo.Enqueue(dbc, "generate_embedding", nil, time.Time{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := repo.MarkFailedPermanent(dbc, job.ID); err != nil {
		t.Fatalf("mark permanent: %v", err)
	}
	var row types.Job
	if err := tx.First(&row, job.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if row.Status != "failed" {
		t.Fatalf("status: %s", row.Status)
	}
}

func TestCleanupStuckAndCompleted(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	repo := NewJobRepo(tx, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}

	job, err := repo.Enqueue(dbc, "generate_embedding", nil, time.Time{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	stale := time.Now().UTC().Add(-2 * time.Hour)
	if err := tx.Model(&types.Job{}).Where("id = ?", job.ID).
		Updates(map[string]interface{}{"status": "running", "updated_at": stale}).Error; err != nil {
		t.Fatalf("prep: %v", err)
	}

	n, err := repo.CleanupStuck(dbc, time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("cleanup stuck: n=%d err=%v", n, err)
	}
	var row types.Job
	if err := tx.First(&row, job.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if row.Status != "pending" {
		t.Fatalf("stuck job should revert to pending: %s", row.Status)
	}

	if err := repo.MarkCompleted(dbc, job.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := tx.Model(&types.Job{}).Where("id = ?", job.ID).
		Update("updated_at", time.Now().UTC().Add(-48*time.Hour)).Error; err != nil {
		t.Fatalf("prep: %v", err)
	}
	n, err = repo.CleanupCompleted(dbc, 24*time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("cleanup completed: n=%d err=%v", n, err)
	}
}

// Concurrent claims need real sessions: SKIP LOCKED never contends
// inside a single transaction, so this test runs against the shared
// pool instead of a rolled-back tx and cleans up by kind.
func TestConcurrentDequeueClaimsExactlyOnce(t *testing.T) {
	db := testutil.DB(t)
	repo := NewJobRepo(db, testutil.Logger(t))
	dbc := dbctx.New(context.Background())

	kind := "claim_fairness_" + uuid.New().String()
	t.Cleanup(func() {
		db.Where("kind = ?", kind).Delete(&types.Job{})
	})

	const jobs = 40
	const workers = 8
	want := make(map[int64]bool, jobs)
	for i := 0; i < jobs; i++ {
		j, err := repo.Enqueue(dbc, kind, map[string]int{"n": i}, time.Time{})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		want[j.ID] = true
	}

	var mu sync.Mutex
	claimed := make(map[int64]int, jobs)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := repo.DequeueNext(dbc, []string{kind}, 3)
				if err != nil {
					t.Errorf("dequeue: %v", err)
					return
				}
				if job == nil {
					return
				}
				mu.Lock()
				claimed[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimed) != jobs {
		t.Fatalf("claimed %d of %d jobs", len(claimed), jobs)
	}
	for id, n := range claimed {
		if n != 1 {
			t.Fatalf("job %d delivered %d times", id, n)
		}
		if !want[id] {
			t.Fatalf("claimed job %d that was never enqueued", id)
		}
	}
	var notRunning int64
	if err := db.Model(&types.Job{}).
		Where("kind = ? AND (status <> 'running' OR attempts <> 1)", kind).
		Count(&notRunning).Error; err != nil {
		t.Fatalf("recount: %v", err)
	}
	if notRunning != 0 {
		t.Fatalf("%d claimed jobs not in (running, attempts=1)", notRunning)
	}
}

func TestCountByStatus(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	repo := NewJobRepo(tx, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}

	if _, err := repo.Enqueue(dbc, "generate_embedding", nil, time.Time{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	counts, err := repo.CountByStatus(dbc)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts["pending"] < 1 {
		t.Fatalf("counts: %v", counts)
	}
}
