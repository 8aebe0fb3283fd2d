package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/castellan/chatvault/internal/domain"
	"github.com/castellan/chatvault/internal/pkg/dbctx"
	"github.com/castellan/chatvault/internal/platform/logger"
)

const DefaultMaxAttempts = 3

type JobRepo interface {
	Enqueue(dbc dbctx.Context, kind string, payload interface{}, notBefore time.Time) (*types.Job, error)
	// DequeueNext claims the FIFO-by-(not_before, id) smallest eligible
	// row in a single statement; concurrent callers skip locked rows
	// rather than wait. Returns nil when nothing is eligible.
	DequeueNext(dbc dbctx.Context, kinds []string, maxAttempts int) (*types.Job, error)
	MarkCompleted(dbc dbctx.Context, id int64) error
	// MarkFailed retries with exponential backoff retryMinutes·2^(attempts-1)
	// until attempts reaches maxAttempts, then parks the job as failed.
	MarkFailed(dbc dbctx.Context, id int64, retryMinutes, maxAttempts int) error
	// MarkFailedPermanent parks the job as failed immediately, skipping
	// the retry schedule. For invalid payloads and vanished rows.
	MarkFailedPermanent(dbc dbctx.Context, id int64) error
	// CleanupStuck reverts running rows not touched within the window,
	// recovering jobs abandoned by crashed workers.
	CleanupStuck(dbc dbctx.Context, olderThan time.Duration) (int64, error)
	CleanupCompleted(dbc dbctx.Context, olderThan time.Duration) (int64, error)
	CountByStatus(dbc dbctx.Context) (map[string]int64, error)
}

type jobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRepo(db *gorm.DB, log *logger.Logger) JobRepo {
	return &jobRepo{db: db, log: log.With("repo", "JobRepo")}
}

func (r *jobRepo) handle(dbc dbctx.Context) *gorm.DB {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx)
}

func (r *jobRepo) Enqueue(dbc dbctx.Context, kind string, payload interface{}, notBefore time.Time) (*types.Job, error) {
	if kind == "" {
		return nil, fmt.Errorf("missing job kind")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal job payload: %w", err)
	}
	now := time.Now().UTC()
	if notBefore.IsZero() {
		notBefore = now
	}
	job := &types.Job{
		Kind:      kind,
		Payload:   datatypes.JSON(raw),
		Status:    "pending",
		NotBefore: notBefore.UTC(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.handle(dbc).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (r *jobRepo) DequeueNext(dbc dbctx.Context, kinds []string, maxAttempts int) (*types.Job, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	sub := `SELECT id FROM jobs
	        WHERE status = 'pending' AND not_before <= now() AND attempts < ?`
	args := []interface{}{maxAttempts}
	if len(kinds) > 0 {
		sub += ` AND kind IN ?`
		args = append(args, kinds)
	}
	sub += ` ORDER BY not_before, id FOR UPDATE SKIP LOCKED LIMIT 1`

	var claimed []types.Job
	err := r.handle(dbc).Raw(`
		UPDATE jobs SET status = 'running', attempts = attempts + 1, updated_at = now()
		WHERE id = (`+sub+`)
		RETURNING *`, args...).Scan(&claimed).Error
	if err != nil {
		return nil, err
	}
	if len(claimed) == 0 {
		return nil, nil
	}
	return &claimed[0], nil
}

func (r *jobRepo) MarkCompleted(dbc dbctx.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("missing job id")
	}
	return r.handle(dbc).
		Model(&types.Job{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     "completed",
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *jobRepo) MarkFailed(dbc dbctx.Context, id int64, retryMinutes, maxAttempts int) error {
	if id <= 0 {
		return fmt.Errorf("missing job id")
	}
	if retryMinutes <= 0 {
		retryMinutes = 5
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return r.handle(dbc).Exec(`
		UPDATE jobs SET
		  status = CASE WHEN attempts >= ? THEN 'failed' ELSE 'pending' END,
		  not_before = CASE WHEN attempts >= ? THEN not_before
		    ELSE now() + make_interval(mins => (? * power(2, GREATEST(attempts - 1, 0)))::int) END,
		  updated_at = now()
		WHERE id = ?`, maxAttempts, maxAttempts, retryMinutes, id).Error
}

func (r *jobRepo) MarkFailedPermanent(dbc dbctx.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("missing job id")
	}
	return r.handle(dbc).
		Model(&types.Job{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     "failed",
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *jobRepo) CleanupStuck(dbc dbctx.Context, olderThan time.Duration) (int64, error) {
	res := r.handle(dbc).Exec(`
		UPDATE jobs SET status = 'pending', updated_at = now()
		WHERE status = 'running' AND updated_at < now() - make_interval(secs => ?)`,
		olderThan.Seconds())
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *jobRepo) CleanupCompleted(dbc dbctx.Context, olderThan time.Duration) (int64, error) {
	res := r.handle(dbc).Exec(`
		DELETE FROM jobs
		WHERE status = 'completed' AND updated_at < now() - make_interval(secs => ?)`,
		olderThan.Seconds())
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *jobRepo) CountByStatus(dbc dbctx.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	if err := r.handle(dbc).
		Model(&types.Job{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.N
	}
	return out, nil
}

// Backoff mirrors the SQL in MarkFailed so callers (and tests) can reason
// about the retry schedule: retryMinutes·2^(attempts-1).
func Backoff(retryMinutes, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return time.Duration(retryMinutes) * time.Minute * (1 << (attempts - 1))
}
