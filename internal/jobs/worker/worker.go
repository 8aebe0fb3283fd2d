// Package worker runs the background job pool: N loops dequeuing with
// SKIP LOCKED, a heartbeat writer, and periodic queue hygiene sweeps.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/castellan/chatvault/internal/data/repos/queue"
	settingsrepo "github.com/castellan/chatvault/internal/data/repos/settings"
	types "github.com/castellan/chatvault/internal/domain"
	domainsettings "github.com/castellan/chatvault/internal/domain/settings"
	"github.com/castellan/chatvault/internal/pkg/dbctx"
	"github.com/castellan/chatvault/internal/platform/logger"
)

const (
	DefaultPoolSize     = 4
	DefaultBatchSize    = 5
	DefaultPollInterval = 2 * time.Second
	DefaultRetryMinutes = 5

	heartbeatInterval = 30 * time.Second
	stuckWindow       = time.Hour
	completedTTL      = 30 * 24 * time.Hour
)

// errPermanent wraps handler failures that must not be retried: bad
// payloads, rows that no longer exist.
var errPermanent = errors.New("permanent job failure")

func Permanent(err error) error {
	return fmt.Errorf("%w: %w", errPermanent, err)
}

// Handler processes one claimed job. Returning an error wrapped with
// Permanent parks the job; any other error schedules a retry.
type Handler func(ctx context.Context, job *types.Job) error

type Config struct {
	PoolSize     int
	BatchSize    int
	PollInterval time.Duration
	RetryMinutes int
	MaxAttempts  int
}

func (c Config) withDefaults() Config {
	if c.PoolSize <= 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.RetryMinutes <= 0 {
		c.RetryMinutes = DefaultRetryMinutes
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = queue.DefaultMaxAttempts
	}
	return c
}

type Pool struct {
	db          *gorm.DB
	log         *logger.Logger
	jobRepo     queue.JobRepo
	settingRepo settingsrepo.SettingRepo
	cfg         Config
	handlers    map[string]Handler
}

func NewPool(db *gorm.DB, log *logger.Logger, jobRepo queue.JobRepo, settingRepo settingsrepo.SettingRepo, cfg Config) *Pool {
	return &Pool{
		db:          db,
		log:         log.With("component", "WorkerPool"),
		jobRepo:     jobRepo,
		settingRepo: settingRepo,
		cfg:         cfg.withDefaults(),
		handlers:    make(map[string]Handler),
	}
}

// Register binds a handler to a job kind. Only registered kinds are
// dequeued, so unknown jobs stay pending for a process that knows them.
func (p *Pool) Register(kind string, h Handler) {
	p.handlers[kind] = h
}

func (p *Pool) kinds() []string {
	out := make([]string, 0, len(p.handlers))
	for k := range p.handlers {
		out = append(out, k)
	}
	return out
}

// Run blocks until ctx is cancelled. In-flight jobs finish or are left
// running for the stuck sweep to reclaim.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.PoolSize; i++ {
		id := i
		g.Go(func() error {
			p.workerLoop(ctx, id)
			return nil
		})
	}
	g.Go(func() error {
		p.heartbeatLoop(ctx)
		return nil
	})
	g.Go(func() error {
		p.sweepLoop(ctx)
		return nil
	})
	p.log.Info("Worker pool started", "size", p.cfg.PoolSize, "kinds", p.kinds())
	return g.Wait()
}

func (p *Pool) workerLoop(ctx context.Context, id int) {
	log := p.log.With("worker", id)
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drainBatch(ctx, log)
		}
	}
}

// drainBatch claims and processes up to BatchSize jobs, stopping early
// when the queue runs dry.
func (p *Pool) drainBatch(ctx context.Context, log *logger.Logger) {
	for i := 0; i < p.cfg.BatchSize; i++ {
		if ctx.Err() != nil {
			return
		}
		job, err := p.jobRepo.DequeueNext(dbctx.New(ctx), p.kinds(), p.cfg.MaxAttempts)
		if err != nil {
			log.Error("Dequeue failed", "error", err)
			return
		}
		if job == nil {
			return
		}
		p.process(ctx, log, job)
	}
}

func (p *Pool) process(ctx context.Context, log *logger.Logger, job *types.Job) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		handler, ok := p.handlers[job.Kind]
		if !ok {
			err = Permanent(fmt.Errorf("no handler for kind %q", job.Kind))
			return
		}
		err = handler(ctx, job)
	}()

	dbc := dbctx.New(ctx)
	switch {
	case err == nil:
		if mErr := p.jobRepo.MarkCompleted(dbc, job.ID); mErr != nil {
			log.Error("Mark completed failed", "job_id", job.ID, "error", mErr)
		}
	case errors.Is(err, errPermanent):
		log.Warn("Job failed permanently", "job_id", job.ID, "kind", job.Kind, "error", err)
		if mErr := p.jobRepo.MarkFailedPermanent(dbc, job.ID); mErr != nil {
			log.Error("Mark failed failed", "job_id", job.ID, "error", mErr)
		}
	default:
		log.Warn("Job failed, scheduling retry",
			"job_id", job.ID, "kind", job.Kind, "attempts", job.Attempts, "error", err)
		if mErr := p.jobRepo.MarkFailed(dbc, job.ID, p.cfg.RetryMinutes, p.cfg.MaxAttempts); mErr != nil {
			log.Error("Mark failed failed", "job_id", job.ID, "error", mErr)
		}
	}
}

func (p *Pool) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.settingRepo.Touch(dbctx.New(ctx),
				domainsettings.KeyEmbeddingWorkerBeat, domainsettings.CategoryHeartbeat); err != nil {
				p.log.Warn("Heartbeat write failed", "error", err)
			}
		}
	}
}

// sweepLoop reclaims jobs abandoned by crashed workers hourly and
// prunes old completed rows daily.
func (p *Pool) sweepLoop(ctx context.Context) {
	stuck := time.NewTicker(time.Hour)
	prune := time.NewTicker(24 * time.Hour)
	defer stuck.Stop()
	defer prune.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stuck.C:
			n, err := p.jobRepo.CleanupStuck(dbctx.New(ctx), stuckWindow)
			if err != nil {
				p.log.Error("Stuck job sweep failed", "error", err)
			} else if n > 0 {
				p.log.Info("Reclaimed stuck jobs", "count", n)
			}
		case <-prune.C:
			n, err := p.jobRepo.CleanupCompleted(dbctx.New(ctx), completedTTL)
			if err != nil {
				p.log.Error("Completed job prune failed", "error", err)
			} else if n > 0 {
				p.log.Info("Pruned completed jobs", "count", n)
			}
		}
	}
}
