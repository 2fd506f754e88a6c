// Package batchpoller implements BatchPoller (spec.md §4.8): a
// cron-driven recovery loop that runs jobs left in the scheduled state,
// such as jobs whose owner explicitly scheduled resumption, grounded on the
// teacher's robfig/cron CronManager. Jobs that a stopped process left
// in_progress are not picked up.
package batchpoller

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sahilchouksey/extraction-orchestrator/model"
	"github.com/sahilchouksey/extraction-orchestrator/progressstore"
	"gorm.io/gorm"
)

// Runner executes one job's pipeline to completion, failure, pause, or
// cancellation. *extraction.Engine satisfies this, parameterized per job
// by whichever LLMClient the job's LLMConfig selects.
type Runner interface {
	Run(ctx context.Context, jobID uint) error
}

// RunnerFactory builds the Runner for a specific job, letting BatchPoller
// honor a job's own stored LLMConfig rather than a single fixed client.
type RunnerFactory func(job *model.Job) (Runner, error)

// Poller periodically scans ProgressStore for scheduled jobs and resumes
// them one at a time, preserving the single-writer-per-job invariant.
type Poller struct {
	cron     *cron.Cron
	db       *gorm.DB
	progress *progressstore.Store
	factory  RunnerFactory
	interval time.Duration
}

// New builds a Poller. interval defaults to 60s, matching spec.md.
func New(db *gorm.DB, progress *progressstore.Store, factory RunnerFactory, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Poller{
		cron:     cron.New(cron.WithSeconds()),
		db:       db,
		progress: progress,
		factory:  factory,
		interval: interval,
	}
}

// Start registers the recovery tick and starts the scheduler.
func (p *Poller) Start() error {
	spec := fmt.Sprintf("@every %s", p.interval)
	if _, err := p.cron.AddFunc(spec, p.tick); err != nil {
		return fmt.Errorf("batchpoller: schedule recovery tick: %w", err)
	}
	p.cron.Start()
	log.Printf("[BatchPoller] started, polling every %s", p.interval)
	return nil
}

// Stop drains any in-flight tick and stops the scheduler.
func (p *Poller) Stop() {
	ctx := p.cron.Stop()
	<-ctx.Done()
	log.Println("[BatchPoller] stopped")
}

const cronJobName = "batch_poller_recovery_tick"

func (p *Poller) tick() {
	ctx := context.Background()
	p.logTickStart()

	jobs, err := p.progress.ListActive(ctx)
	if err != nil {
		log.Printf("[BatchPoller] failed to list active jobs: %v", err)
		p.logTickError(err)
		return
	}

	recovered := 0
	for _, job := range jobs {
		if job.Status != model.JobStatusScheduled {
			continue
		}
		p.recover(ctx, job)
		recovered++
	}
	p.logTickComplete(fmt.Sprintf("recovered %d job(s)", recovered))
}

// logTickStart, logTickComplete and logTickError persist one CronJobLog row
// per poll, adapted from the teacher's CronManager audit trail to this
// poller's single recovery tick instead of its fixed roster of named jobs.
func (p *Poller) logTickStart() {
	p.db.Create(&model.CronJobLog{
		JobName:   cronJobName,
		Status:    "running",
		StartedAt: time.Now(),
		Metadata:  "{}",
	})
}

func (p *Poller) logTickComplete(message string) {
	p.db.Model(&model.CronJobLog{}).
		Where("job_name = ? AND status = ?", cronJobName, "running").
		Order("started_at DESC").
		Limit(1).
		Updates(map[string]interface{}{
			"status":       "completed",
			"completed_at": time.Now(),
			"message":      message,
		})
}

func (p *Poller) logTickError(err error) {
	p.db.Model(&model.CronJobLog{}).
		Where("job_name = ? AND status = ?", cronJobName, "running").
		Order("started_at DESC").
		Limit(1).
		Updates(map[string]interface{}{
			"status":       "failed",
			"completed_at": time.Now(),
			"error_msg":    err.Error(),
		})
}

// recover re-checks one job under a fresh transaction before running it,
// so two poller ticks (or a poller tick racing a direct Start call) never
// pick up the same job twice.
func (p *Poller) recover(ctx context.Context, job model.Job) {
	var stillScheduled bool
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var fresh model.Job
		if err := tx.Where("id = ?", job.ID).First(&fresh).Error; err != nil {
			return err
		}
		if fresh.Status != model.JobStatusScheduled {
			return nil
		}
		res := tx.Model(&model.Job{}).Where("id = ? AND status = ?", job.ID, model.JobStatusScheduled).
			Updates(map[string]interface{}{"status": model.JobStatusInProgress, "message": "resumed by batch poller"})
		if res.Error != nil {
			return res.Error
		}
		stillScheduled = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		log.Printf("[BatchPoller] failed to claim job %d: %v", job.ID, err)
		return
	}
	if !stillScheduled {
		return
	}

	log.Printf("[BatchPoller] resuming job %d (%s/%s)", job.ID, job.Source, job.Dataset)

	runner, err := p.factory(&job)
	if err != nil {
		log.Printf("[BatchPoller] failed to build runner for job %d: %v", job.ID, err)
		_ = p.progress.SetFailed(ctx, job.ID, err)
		return
	}

	if err := runner.Run(ctx, job.ID); err != nil {
		log.Printf("[BatchPoller] job %d failed during recovery run: %v", job.ID, err)
		_ = p.progress.SetFailed(ctx, job.ID, err)
	}
}
