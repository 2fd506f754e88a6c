package batchpoller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sahilchouksey/extraction-orchestrator/model"
	"github.com/sahilchouksey/extraction-orchestrator/progressstore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type fakeRunner struct {
	mu      sync.Mutex
	jobIDs  []uint
	failErr error
}

func (f *fakeRunner) Run(ctx context.Context, jobID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobIDs = append(f.jobIDs, jobID)
	return f.failErr
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION_TESTS") != "true" {
		t.Skip("skipping integration test. Set RUN_INTEGRATION_TESTS=true to run against a real Postgres instance")
	}
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		os.Getenv("DB_HOST"), os.Getenv("DB_USER_NAME"), os.Getenv("DB_PASSWORD"), os.Getenv("DB_NAME"), os.Getenv("DB_PORT"))
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}
	if err := db.AutoMigrate(&model.Job{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func TestRecoverRunsOnlyScheduledJobs(t *testing.T) {
	db := openTestDB(t)
	progress := progressstore.New(db, nil)
	ctx := context.Background()

	scheduled, err := progress.CreateJob(ctx, &model.Job{Source: "bp-source", Dataset: fmt.Sprintf("bp-sched-%d", time.Now().UnixNano())})
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	runner := &fakeRunner{}
	poller := New(db, progress, func(job *model.Job) (Runner, error) { return runner, nil }, time.Minute)

	poller.recover(ctx, *scheduled)

	if len(runner.jobIDs) != 1 || runner.jobIDs[0] != scheduled.ID {
		t.Fatalf("expected recover to run the scheduled job once, got %v", runner.jobIDs)
	}
}

func TestRecoverSkipsJobNoLongerScheduled(t *testing.T) {
	db := openTestDB(t)
	progress := progressstore.New(db, nil)
	ctx := context.Background()

	job, err := progress.CreateJob(ctx, &model.Job{Source: "bp-source", Dataset: fmt.Sprintf("bp-paused-%d", time.Now().UnixNano())})
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if err := progress.Pause(ctx, job.ID); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}

	runner := &fakeRunner{}
	poller := New(db, progress, func(job *model.Job) (Runner, error) { return runner, nil }, time.Minute)

	// pass the stale in-memory copy (still "scheduled") to prove recover
	// re-checks live status under its own transaction rather than trusting it
	poller.recover(ctx, *job)

	if len(runner.jobIDs) != 0 {
		t.Fatalf("expected recover to skip a job that is no longer scheduled, but it ran %v", runner.jobIDs)
	}
}

func TestRecoverMarksJobFailedWhenRunnerErrors(t *testing.T) {
	db := openTestDB(t)
	progress := progressstore.New(db, nil)
	ctx := context.Background()

	job, err := progress.CreateJob(ctx, &model.Job{Source: "bp-source", Dataset: fmt.Sprintf("bp-fail-%d", time.Now().UnixNano())})
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	runner := &fakeRunner{failErr: errors.New("llm unreachable")}
	poller := New(db, progress, func(job *model.Job) (Runner, error) { return runner, nil }, time.Minute)

	poller.recover(ctx, *job)

	got, err := progress.GetByID(ctx, fmt.Sprintf("%d", job.ID))
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != model.JobStatusFailed {
		t.Fatalf("status = %s, want %s", got.Status, model.JobStatusFailed)
	}
}

func TestNewDefaultsInterval(t *testing.T) {
	p := New(nil, nil, nil, 0)
	if p.interval != 60*time.Second {
		t.Errorf("default interval = %s, want 60s", p.interval)
	}
}
