package progressstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/sahilchouksey/extraction-orchestrator/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func TestCalculateProgressIsMonotoneAcrossPhases(t *testing.T) {
	phases := []string{PhaseInitializing, PhaseDownload, PhaseChunking, PhaseExtraction, PhaseMerge, PhaseSave, PhaseComplete}
	last := -1
	for _, phase := range phases {
		got := CalculateProgress(phase, 0, 0)
		if got < last {
			t.Errorf("phase %s produced progress %d, lower than previous phase's %d", phase, got, last)
		}
		last = got
	}
}

func TestCalculateProgressClampsExtractionAt70(t *testing.T) {
	if got := CalculateProgress(PhaseExtraction, 1000, 10); got > 70 {
		t.Errorf("extraction progress = %d, want <= 70", got)
	}
}

func TestClassifyErrorBucketsByMessage(t *testing.T) {
	cases := []struct {
		err            error
		wantType       ErrorType
		wantRecoverable bool
	}{
		{errors.New("dial tcp: connection refused"), ErrorTypeNetwork, true},
		{errors.New("status 429 rate limit exceeded"), ErrorTypeLLM, true},
		{errors.New("context deadline exceeded"), ErrorTypeTimeout, true},
		{errors.New("gorm: record not found"), ErrorTypeDatabase, false},
		{errors.New("failed to extract text from pdf"), ErrorTypePDF, false},
		{errors.New("field is required"), ErrorTypeValidation, false},
		{errors.New("something unexpected happened"), ErrorTypeUnknown, false},
	}
	for _, c := range cases {
		gotType, gotRecoverable := ClassifyError(c.err)
		if gotType != c.wantType {
			t.Errorf("ClassifyError(%q) type = %s, want %s", c.err, gotType, c.wantType)
		}
		if gotRecoverable != c.wantRecoverable {
			t.Errorf("ClassifyError(%q) recoverable = %v, want %v", c.err, gotRecoverable, c.wantRecoverable)
		}
	}
}

func TestClassifyErrorNil(t *testing.T) {
	gotType, recoverable := ClassifyError(nil)
	if gotType != ErrorTypeUnknown || recoverable {
		t.Errorf("ClassifyError(nil) = (%s, %v), want (%s, false)", gotType, recoverable, ErrorTypeUnknown)
	}
}

// openTestDB connects to a real Postgres instance the same way the
// teacher's integration tests do, skipping entirely when the database
// isn't configured for this run.
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

func TestCreateJobRejectsSecondActiveJob(t *testing.T) {
	db := openTestDB(t)
	store := New(db, nil)
	ctx := context.Background()

	source, dataset := "itest-source", fmt.Sprintf("itest-dataset-%d", time.Now().UnixNano())

	first := &model.Job{Source: source, Dataset: dataset, Files: model.StringList{"a.pdf"}}
	if _, err := store.CreateJob(ctx, first); err != nil {
		t.Fatalf("first CreateJob failed: %v", err)
	}

	second := &model.Job{Source: source, Dataset: dataset, Files: model.StringList{"b.pdf"}}
	if _, err := store.CreateJob(ctx, second); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive for a second non-terminal job, got %v", err)
	}
}

func TestUpdateProgressNeverRegresses(t *testing.T) {
	db := openTestDB(t)
	store := New(db, nil)
	ctx := context.Background()

	job, err := store.CreateJob(ctx, &model.Job{
		Source:  "itest-source",
		Dataset: fmt.Sprintf("itest-monotone-%d", time.Now().UnixNano()),
		Files:   model.StringList{"a.pdf"},
	})
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	if err := store.UpdateProgress(ctx, job.ID, PhaseExtraction, 5, 10, "chunk 5/10"); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}
	if err := store.UpdateProgress(ctx, job.ID, PhaseExtraction, 2, 10, "stale retry for chunk 2"); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}

	got, err := store.GetByID(ctx, fmt.Sprintf("%d", job.ID))
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.CurrentChunk < 5 {
		t.Errorf("CurrentChunk regressed to %d after a stale update for an earlier chunk", got.CurrentChunk)
	}
}

func TestSetResultAlwaysWritesReasoningTogetherWithData(t *testing.T) {
	db := openTestDB(t)
	store := New(db, nil)
	ctx := context.Background()

	job, err := store.CreateJob(ctx, &model.Job{
		Source:  "itest-source",
		Dataset: fmt.Sprintf("itest-reason-%d", time.Now().UnixNano()),
		Files:   model.StringList{"a.pdf"},
	})
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	history := model.ReasoningHistory{{ChunkIndex: 0, TotalChunks: 1, IsFinal: true}}
	if err := store.SetResult(ctx, job.ID, model.RawJSON(`{"a":1}`), history); err != nil {
		t.Fatalf("SetResult failed: %v", err)
	}

	got, err := store.GetByID(ctx, fmt.Sprintf("%d", job.ID))
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if len(got.MergedData) == 0 {
		t.Error("MergedData is empty after SetResult")
	}
	if len(got.MergeReasoningHistory) == 0 {
		t.Error("MergeReasoningHistory is empty after SetResult, but data was written")
	}
}
