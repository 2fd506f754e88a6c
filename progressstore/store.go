// Package progressstore implements ProgressStore: the single source of
// truth for extraction job state, keyed by (source, dataset). It persists
// rows in Postgres through GORM and mirrors the hot-path fields
// (active-job lookup, cancellation flag) in Redis so JobManager's
// active-job lookup and the engine's cancellation checks can skip a
// Postgres round trip when the key is cached.
package progressstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sahilchouksey/extraction-orchestrator/model"
	"github.com/sahilchouksey/extraction-orchestrator/utils/cache"
	"gorm.io/gorm"
)

// Phase names used in progress events, mirroring the percentage bands
// CalculateProgress maps them to.
const (
	PhaseInitializing = "initializing"
	PhaseDownload     = "download"
	PhaseChunking     = "chunking"
	PhaseExtraction   = "extraction"
	PhaseMerge        = "merge"
	PhaseSave         = "save"
	PhaseComplete     = "complete"
)

// ErrAlreadyActive is returned by CreateJob when a non-terminal job already
// exists for the (source, dataset) pair.
var ErrAlreadyActive = errors.New("progressstore: a non-terminal job already exists for this source/dataset")

// ErrNotFound is returned when no job matches the requested key.
var ErrNotFound = errors.New("progressstore: job not found")

func activeKey(source, dataset string) string {
	return fmt.Sprintf("extraction:active:%s:%s", source, dataset)
}

func cancelKey(jobID uint) string {
	return fmt.Sprintf("extraction:cancel:%d", jobID)
}

const activeKeyTTL = 24 * time.Hour
const cancelKeyTTL = 24 * time.Hour

// Store is the GORM+Redis backed ProgressStore implementation.
type Store struct {
	db    *gorm.DB
	cache *cache.RedisCache // optional; nil disables the fast path
}

// New builds a Store. redisCache may be nil, in which case every operation
// falls back to a Postgres round trip.
func New(db *gorm.DB, redisCache *cache.RedisCache) *Store {
	return &Store{db: db, cache: redisCache}
}

// CreateJob inserts a new scheduled Job for (source, dataset), refusing to
// do so if a non-terminal job already exists — this is the single-writer
// invariant (spec.md §3, invariant I-ACTIVE).
func (s *Store) CreateJob(ctx context.Context, job *model.Job) (*model.Job, error) {
	var created *model.Job

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var existing model.Job
		err := tx.Where("source = ? AND dataset = ? AND status IN ?",
			job.Source, job.Dataset, model.NonTerminalStatuses).
			First(&existing).Error
		if err == nil {
			return ErrAlreadyActive
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		job.Status = model.JobStatusScheduled
		job.StartTime = time.Now()
		job.Message = "extraction queued"
		if err := tx.Create(job).Error; err != nil {
			return err
		}
		created = job
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, activeKey(job.Source, job.Dataset), fmt.Sprintf("%d", job.ID), activeKeyTTL)
	}

	return created, nil
}

// GetActiveJob returns the current non-terminal job for (source, dataset),
// if any. It checks the Redis fast path first, falling back to Postgres
// and repopulating the cache on a miss.
func (s *Store) GetActiveJob(ctx context.Context, source, dataset string) (*model.Job, error) {
	if s.cache != nil {
		idStr, err := s.cache.Get(ctx, activeKey(source, dataset))
		if err == nil && idStr != "" {
			job, err := s.GetByID(ctx, idStr)
			if err == nil && !job.Status.IsTerminal() {
				return job, nil
			}
			// stale cache entry, fall through to Postgres
			_ = s.cache.Delete(ctx, activeKey(source, dataset))
		}
	}

	var job model.Job
	err := s.db.WithContext(ctx).Where("source = ? AND dataset = ? AND status IN ?",
		source, dataset, model.NonTerminalStatuses).
		Order("created_at desc").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, activeKey(source, dataset), fmt.Sprintf("%d", job.ID), activeKeyTTL)
	}
	return &job, nil
}

// GetByID loads a job by its primary key. idStr is accepted as a string so
// callers holding a cached Redis value don't need to re-parse it.
func (s *Store) GetByID(ctx context.Context, idStr string) (*model.Job, error) {
	var job model.Job
	err := s.db.WithContext(ctx).Where("id = ?", idStr).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Get loads the most recent job for (source, dataset), terminal or not —
// used by the status endpoint.
func (s *Store) Get(ctx context.Context, source, dataset string) (*model.Job, error) {
	var job model.Job
	err := s.db.WithContext(ctx).Where("source = ? AND dataset = ?", source, dataset).
		Order("created_at desc").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListActive returns every non-terminal job (scheduled, in progress, or
// paused), used by BatchPoller's recovery scan.
func (s *Store) ListActive(ctx context.Context) ([]model.Job, error) {
	var jobs []model.Job
	err := s.db.WithContext(ctx).Where("status IN ?", model.NonTerminalStatuses).Find(&jobs).Error
	return jobs, err
}

// ListAll returns every job, most recent first, for the progress-listing
// endpoint.
func (s *Store) ListAll(ctx context.Context) ([]model.Job, error) {
	var jobs []model.Job
	err := s.db.WithContext(ctx).Order("created_at desc").Find(&jobs).Error
	return jobs, err
}

// UpdateProgress applies a monotone progress update: the completed-chunk
// counter may only move forward within a job's lifetime (spec.md §3,
// invariant I-MONOTONE); phase is not stored. Callers pass the already-computed absolute
// values; UpdateProgress clamps regressions rather than rejecting them so
// a stale retry can never roll the UI backwards.
func (s *Store) UpdateProgress(ctx context.Context, jobID uint, phase string, completedChunks, totalChunks int, message string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job model.Job
		if err := tx.Where("id = ?", jobID).First(&job).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{
			"message":    message,
			"updated_at": time.Now(),
		}
		if totalChunks > 0 {
			updates["total_chunks"] = totalChunks
		}
		if completedChunks > job.CurrentChunk {
			updates["current_chunk"] = completedChunks
		}
		if job.Status == model.JobStatusScheduled {
			updates["status"] = model.JobStatusInProgress
		}

		return tx.Model(&model.Job{}).Where("id = ?", jobID).Updates(updates).Error
	})
}

// SetFileProgress records which file of a multi-file job is currently
// being processed.
func (s *Store) SetFileProgress(ctx context.Context, jobID uint, index int, file string, processedFiles, totalFiles int) error {
	return s.db.WithContext(ctx).Model(&model.Job{}).Where("id = ?", jobID).Updates(map[string]interface{}{
		"current_file_index": index,
		"current_file":       file,
		"processed_files":    processedFiles,
		"total_files":        totalFiles,
		"updated_at":         time.Now(),
	}).Error
}

// SetResult marks the job completed with its merged data and full
// reasoning history (spec.md invariant I-REASON: data and history are
// always written together).
func (s *Store) SetResult(ctx context.Context, jobID uint, merged model.RawJSON, history model.ReasoningHistory) error {
	now := time.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job model.Job
		if err := tx.Where("id = ?", jobID).First(&job).Error; err != nil {
			return err
		}
		duration := int64(now.Sub(job.StartTime).Seconds())

		updates := map[string]interface{}{
			"status":                  model.JobStatusCompleted,
			"merged_data":             merged,
			"merge_reasoning_history": history,
			"end_time":                &now,
			"duration":                duration,
			"message":                 "extraction complete",
			"current_chunk":           job.TotalChunks,
			"updated_at":              now,
		}
		return tx.Model(&model.Job{}).Where("id = ?", jobID).Updates(updates).Error
	})
}

// SetFailed marks the job failed with the given error message, classified
// via ClassifyError for the caller's logging.
func (s *Store) SetFailed(ctx context.Context, jobID uint, cause error) error {
	now := time.Now()
	errType, recoverable := ClassifyError(cause)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job model.Job
		if err := tx.Where("id = ?", jobID).First(&job).Error; err != nil {
			return err
		}
		updates := map[string]interface{}{
			"status":     model.JobStatusFailed,
			"error":      cause.Error(),
			"message":    fmt.Sprintf("failed (%s, recoverable=%v)", errType, recoverable),
			"end_time":   &now,
			"duration":   int64(now.Sub(job.StartTime).Seconds()),
			"updated_at": now,
		}
		if err := tx.Model(&model.Job{}).Where("id = ?", jobID).Updates(updates).Error; err != nil {
			return err
		}
		return nil
	})
}

// Pause moves a scheduled or in_progress job to paused. The running worker
// observes this on its next checkpoint via IsPaused/IsCancelled.
func (s *Store) Pause(ctx context.Context, jobID uint) error {
	return s.transitionTo(ctx, jobID, model.JobStatusPaused, []model.JobStatus{model.JobStatusScheduled, model.JobStatusInProgress}, "paused")
}

// Resume moves a paused job back to scheduled so BatchPoller or a direct
// call can pick it back up from its last checkpoint.
func (s *Store) Resume(ctx context.Context, jobID uint) error {
	return s.transitionTo(ctx, jobID, model.JobStatusScheduled, []model.JobStatus{model.JobStatusPaused}, "resumed, awaiting pickup")
}

// Cancel marks a job cancelled and sets the Redis cancellation flag that
// running workers poll between chunks.
func (s *Store) Cancel(ctx context.Context, jobID uint) error {
	if err := s.transitionTo(ctx, jobID, model.JobStatusCancelled, model.NonTerminalStatuses, "cancelled"); err != nil {
		return err
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, cancelKey(jobID), "1", cancelKeyTTL)
	}
	return nil
}

// Clear marks a job cleared, releasing the (source, dataset) key for a new
// job regardless of the current status.
func (s *Store) Clear(ctx context.Context, jobID uint) error {
	return s.transitionTo(ctx, jobID, model.JobStatusCleared, nil, "cleared")
}

func (s *Store) transitionTo(ctx context.Context, jobID uint, to model.JobStatus, from []model.JobStatus, message string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job model.Job
		if err := tx.Where("id = ?", jobID).First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if from != nil {
			allowed := false
			for _, st := range from {
				if job.Status == st {
					allowed = true
					break
				}
			}
			if !allowed {
				return fmt.Errorf("progressstore: cannot move job %d from %s to %s", jobID, job.Status, to)
			}
		}

		now := time.Now()
		updates := map[string]interface{}{
			"status":     to,
			"message":    message,
			"updated_at": now,
		}
		if to.IsTerminal() {
			updates["end_time"] = &now
			updates["duration"] = int64(now.Sub(job.StartTime).Seconds())
		}

		return tx.Model(&model.Job{}).Where("id = ?", jobID).Updates(updates).Error
	})
}

// IsCancelled reports whether the cancellation flag has been set for a
// job, consulting Redis first and falling back to the persisted status.
func (s *Store) IsCancelled(ctx context.Context, jobID uint) bool {
	if s.cache != nil {
		val, err := s.cache.Get(ctx, cancelKey(jobID))
		if err == nil && val == "1" {
			return true
		}
	}
	job, err := s.GetByID(ctx, fmt.Sprintf("%d", jobID))
	if err != nil {
		return false
	}
	return job.Status == model.JobStatusCancelled
}

// IsPaused reports whether a job has been asked to pause.
func (s *Store) IsPaused(ctx context.Context, jobID uint) bool {
	job, err := s.GetByID(ctx, fmt.Sprintf("%d", jobID))
	if err != nil {
		return false
	}
	return job.Status == model.JobStatusPaused
}

// ReleaseActive clears the Redis active-job pointer once a job leaves the
// non-terminal set, so CreateJob doesn't need to wait out the TTL.
func (s *Store) ReleaseActive(ctx context.Context, source, dataset string) {
	if s.cache != nil {
		_ = s.cache.Delete(ctx, activeKey(source, dataset))
	}
}

// AppendReasoning appends one ReasoningEntry to the job's merge history
// and advances its chunk counter in a single transaction.
func (s *Store) AppendReasoning(ctx context.Context, jobID uint, entry model.ReasoningEntry) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job model.Job
		if err := tx.Where("id = ?", jobID).First(&job).Error; err != nil {
			return err
		}
		history := append(job.MergeReasoningHistory, entry)
		return tx.Model(&model.Job{}).Where("id = ?", jobID).Updates(map[string]interface{}{
			"merge_reasoning_history": history,
			"current_chunk":           entry.ChunkIndex + 1,
			"total_chunks":            entry.TotalChunks,
			"updated_at":              time.Now(),
		}).Error
	})
}

// ErrorType classifies a failure for logging; SetFailed records it, with
// its recoverable flag, in the failed job's message.
type ErrorType string

const (
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeLLM        ErrorType = "llm"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeDatabase   ErrorType = "database"
	ErrorTypePDF        ErrorType = "pdf"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeUnknown    ErrorType = "unknown"
)

// ClassifyError buckets an error by substring matching on its message,
// the same heuristic the teacher used for deciding whether a job's
// failure is worth an automatic retry.
func ClassifyError(err error) (ErrorType, bool) {
	if err == nil {
		return ErrorTypeUnknown, false
	}
	errStr := strings.ToLower(err.Error())

	switch {
	case containsAny(errStr, "connection", "network", "dial", "eof", "reset by peer"):
		return ErrorTypeNetwork, true
	case containsAny(errStr, "inference api", "status 429", "rate limit", "status 500", "status 502", "status 503", "status 504", "llm"):
		return ErrorTypeLLM, true
	case containsAny(errStr, "timeout", "deadline exceeded", "context deadline"):
		return ErrorTypeTimeout, true
	case containsAny(errStr, "database", "transaction", "sql", "gorm"):
		return ErrorTypeDatabase, false
	case containsAny(errStr, "pdf", "extract text", "invalid document"):
		return ErrorTypePDF, false
	case containsAny(errStr, "validation", "invalid", "required"):
		return ErrorTypeValidation, false
	default:
		return ErrorTypeUnknown, false
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// CalculateProgress maps a phase and chunk-completion count onto the
// overall 0-100 progress percentage reported to clients.
func CalculateProgress(phase string, completedChunks, totalChunks int) int {
	switch phase {
	case PhaseInitializing:
		return 0
	case PhaseDownload:
		return 5
	case PhaseChunking:
		return 10
	case PhaseExtraction:
		if totalChunks == 0 {
			return 10
		}
		chunkIncrement := 60.0 / float64(totalChunks)
		progress := 10 + int(float64(completedChunks)*chunkIncrement)
		if progress > 70 {
			progress = 70
		}
		return progress
	case PhaseMerge:
		return 75
	case PhaseSave:
		return 95
	case PhaseComplete:
		return 100
	default:
		return 0
	}
}
