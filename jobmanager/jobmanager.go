// Package jobmanager implements JobManager (spec.md §4.7): the lifecycle
// control surface the HTTP layer drives. It owns job creation, pause,
// resume, and cancel, dispatching the long-running extraction work to a
// goroutine per job rather than blocking the calling request.
package jobmanager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/sahilchouksey/extraction-orchestrator/blobstore"
	"github.com/sahilchouksey/extraction-orchestrator/extraction"
	"github.com/sahilchouksey/extraction-orchestrator/llm"
	"github.com/sahilchouksey/extraction-orchestrator/markdowncache"
	"github.com/sahilchouksey/extraction-orchestrator/model"
	"github.com/sahilchouksey/extraction-orchestrator/progressstore"
	"github.com/sahilchouksey/extraction-orchestrator/promptbuilder"
	"github.com/sahilchouksey/extraction-orchestrator/schemastore"
)

// ErrNoActiveJob is returned by Pause when there is no non-terminal job to
// pause, matching spec.md's "NoActiveJob" error kind.
var ErrNoActiveJob = errors.New("jobmanager: no active job for this source/dataset")

// ErrNothingToResume is returned by Resume when no paused job exists.
var ErrNothingToResume = errors.New("jobmanager: no paused job to resume")

// ErrDatasetEmpty is returned by Start when the blob store has no files
// under (source, dataset).
var ErrDatasetEmpty = errors.New("jobmanager: dataset has no files")

// ErrAPIKeyMissing is returned by Start when the caller asks for cloud-API
// mode but the orchestrator has no API key configured. This is the typed,
// up-front check spec.md §9 calls for in place of the source system's
// catch-ValueError-and-retry-with-useApi=false pattern: the mode choice is
// validated before a job is even created, never discovered by a failed
// LLM call.
var ErrAPIKeyMissing = errors.New("jobmanager: useApi requested but no LLM API key is configured")

// StartRequest is the caller-supplied subset of a new job's configuration.
type StartRequest struct {
	Source  string
	Dataset string
	// Schema overrides the registered SchemaStore document for this run,
	// when non-nil.
	Schema json.RawMessage
	LLM    model.LLMConfig
}

// Manager is the GORM+BlobStore+LLM-factory backed JobManager
// implementation.
type Manager struct {
	progress  *progressstore.Store
	schemas   *schemastore.Store
	blobs     blobstore.BlobStore
	cache     *markdowncache.Cache
	engineCfg extraction.Config
	llmBase   llm.Config

	subMu       sync.Mutex
	subscribers map[uint][]chan extraction.ProgressEvent
}

// New builds a Manager. llmBase carries the orchestrator-wide LLM
// connection settings (API key, base URLs, default provider/model) that
// every job's own LLMConfig (provider, model, useApi, temperature) is
// layered on top of in BuildRunner.
func New(progress *progressstore.Store, schemas *schemastore.Store, blobs blobstore.BlobStore, cache *markdowncache.Cache, engineCfg extraction.Config, llmBase llm.Config) *Manager {
	return &Manager{
		progress:    progress,
		schemas:     schemas,
		blobs:       blobs,
		cache:       cache,
		engineCfg:   engineCfg,
		llmBase:     llmBase,
		subscribers: make(map[uint][]chan extraction.ProgressEvent),
	}
}

// Subscribe registers an observer for jobID's live progress events,
// mirroring the teacher's SSE reconnection pattern without the Redis
// round trip: each Engine.Run reports through Manager.publish, which fans
// out to every subscriber of that job. The returned func unregisters the
// channel; callers must call it when done watching.
func (m *Manager) Subscribe(jobID uint) (<-chan extraction.ProgressEvent, func()) {
	ch := make(chan extraction.ProgressEvent, 16)

	m.subMu.Lock()
	m.subscribers[jobID] = append(m.subscribers[jobID], ch)
	m.subMu.Unlock()

	unsubscribe := func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		subs := m.subscribers[jobID]
		for i, c := range subs {
			if c == ch {
				m.subscribers[jobID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(m.subscribers[jobID]) == 0 {
			delete(m.subscribers, jobID)
		}
		close(ch)
	}
	return ch, unsubscribe
}

// publish fans ev out to jobID's subscribers without blocking; a
// subscriber slow enough to fill its buffer misses events rather than
// stalling extraction.
func (m *Manager) publish(ev extraction.ProgressEvent) {
	m.subMu.Lock()
	subs := append([]chan extraction.ProgressEvent(nil), m.subscribers[ev.JobID]...)
	m.subMu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Start creates a job and dispatches its extraction run on a new
// goroutine. It returns the created job immediately; the job's status
// stays `scheduled` (then `in_progress`) while the run proceeds in the
// background. If a non-terminal job already exists, the existing job is
// returned instead of erroring, matching spec.md's "200 if already
// active" response.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*model.Job, bool, error) {
	if req.LLM.UseAPI && m.llmBase.APIKey == "" {
		return nil, false, ErrAPIKeyMissing
	}

	if existing, err := m.progress.GetActiveJob(ctx, req.Source, req.Dataset); err != nil {
		return nil, false, fmt.Errorf("jobmanager: check active job: %w", err)
	} else if existing != nil {
		return existing, false, nil
	}

	files, err := m.blobs.ListFiles(ctx, req.Source, req.Dataset)
	if err != nil {
		return nil, false, fmt.Errorf("jobmanager: list files: %w", err)
	}
	if len(files) == 0 {
		return nil, false, ErrDatasetEmpty
	}

	schemaDoc := req.Schema
	if len(schemaDoc) == 0 {
		schemaDoc, err = m.schemas.Get(ctx, req.Source, req.Dataset)
		if err != nil {
			return nil, false, fmt.Errorf("jobmanager: load schema: %w", err)
		}
	}

	keys := make(model.StringList, len(files))
	for i, f := range files {
		keys[i] = blobstore.Key(req.Source, req.Dataset, f.Name)
	}

	job := &model.Job{
		Source:  req.Source,
		Dataset: req.Dataset,
		Files:   keys,
		Schema:  model.RawJSON(schemaDoc),
	}
	job.ApplyLLMConfig(req.LLM)
	job.TotalFiles = len(keys)

	created, err := m.progress.CreateJob(ctx, job)
	if err != nil {
		if errors.Is(err, progressstore.ErrAlreadyActive) {
			active, getErr := m.progress.GetActiveJob(ctx, req.Source, req.Dataset)
			if getErr == nil && active != nil {
				return active, false, nil
			}
		}
		return nil, false, fmt.Errorf("jobmanager: create job: %w", err)
	}

	go m.run(created)

	return created, true, nil
}

// BuildRunner constructs the extraction engine for job, wired to its own
// stored LLMConfig layered on the Manager's base connection settings.
// BatchPoller uses this to honor each job's provider choice during
// recovery rather than assuming a single fixed client.
func (m *Manager) BuildRunner(job *model.Job) (*extraction.Engine, error) {
	cfg := m.llmBase
	cfg.UseAPI = job.LLMUseAPI
	if job.LLMProvider != "" {
		cfg.Provider = job.LLMProvider
	}
	if job.LLMModel != "" {
		cfg.Model = job.LLMModel
	}

	client, err := llm.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("jobmanager: build llm client: %w", err)
	}
	engine := extraction.New(m.progress, m.blobs, m.cache, client, m.engineCfg)
	engine.SetProgressCallback(m.publish)
	engine.SetLLMParams(promptbuilder.Params{
		Temperature: job.LLMTemperature,
		MaxTokens:   m.engineCfg.DefaultMaxTokens,
	})
	return engine, nil
}

// run builds the job's LLMClient from its stored config and executes the
// extraction engine in the background.
func (m *Manager) run(job *model.Job) {
	ctx := context.Background()

	engine, err := m.BuildRunner(job)
	if err != nil {
		log.Printf("[JobManager] job %d: %v", job.ID, err)
		_ = m.progress.SetFailed(ctx, job.ID, err)
		return
	}
	if err := engine.Run(ctx, job.ID); err != nil {
		log.Printf("[JobManager] job %d: run failed: %v", job.ID, err)
	}
}

// Pause transitions an active job to paused.
func (m *Manager) Pause(ctx context.Context, source, dataset string) error {
	job, err := m.progress.GetActiveJob(ctx, source, dataset)
	if err != nil {
		return fmt.Errorf("jobmanager: pause: %w", err)
	}
	if job == nil {
		return ErrNoActiveJob
	}
	if job.Status == model.JobStatusPaused {
		return nil
	}
	return m.progress.Pause(ctx, job.ID)
}

// Resume transitions a paused job back to scheduled for BatchPoller (or a
// fresh worker) to pick up.
func (m *Manager) Resume(ctx context.Context, source, dataset string) error {
	job, err := m.progress.Get(ctx, source, dataset)
	if err != nil {
		if errors.Is(err, progressstore.ErrNotFound) {
			return ErrNothingToResume
		}
		return fmt.Errorf("jobmanager: resume: %w", err)
	}
	if job.Status != model.JobStatusPaused {
		return ErrNothingToResume
	}
	if err := m.progress.Resume(ctx, job.ID); err != nil {
		return err
	}

	refreshed, err := m.progress.GetByID(ctx, fmt.Sprintf("%d", job.ID))
	if err == nil {
		go m.run(refreshed)
	}
	return nil
}

// Cancel transitions any non-terminal job to cancelled.
func (m *Manager) Cancel(ctx context.Context, source, dataset string) error {
	job, err := m.progress.GetActiveJob(ctx, source, dataset)
	if err != nil {
		return fmt.Errorf("jobmanager: cancel: %w", err)
	}
	if job == nil {
		return ErrNoActiveJob
	}
	return m.progress.Cancel(ctx, job.ID)
}

// Clear marks the most recent job for (source, dataset) cleared,
// releasing it for a fresh Start regardless of current status.
func (m *Manager) Clear(ctx context.Context, source, dataset string) error {
	job, err := m.progress.Get(ctx, source, dataset)
	if err != nil {
		if errors.Is(err, progressstore.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("jobmanager: clear: %w", err)
	}
	if err := m.progress.Clear(ctx, job.ID); err != nil {
		return err
	}
	m.progress.ReleaseActive(ctx, source, dataset)
	return nil
}

// InferSchema generates a JSON-Schema document from a sample JSON object
// and registers it in the SchemaStore for (source, dataset), so a caller
// with example data but no hand-written schema can bootstrap one instead
// of waiting on Start's "no schema registered" failure.
func (m *Manager) InferSchema(ctx context.Context, source, dataset string, sample json.RawMessage, title string) (json.RawMessage, error) {
	var data map[string]interface{}
	if err := json.Unmarshal(sample, &data); err != nil {
		return nil, fmt.Errorf("jobmanager: decode sample for schema inference: %w", err)
	}

	schema := schemastore.GenerateFromSample(data, title)
	doc, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("jobmanager: marshal inferred schema: %w", err)
	}

	if err := m.schemas.Put(ctx, source, dataset, doc); err != nil {
		return nil, fmt.Errorf("jobmanager: store inferred schema: %w", err)
	}
	return doc, nil
}

// Status returns the most recent job for (source, dataset), terminal or
// not.
func (m *Manager) Status(ctx context.Context, source, dataset string) (*model.Job, error) {
	return m.progress.Get(ctx, source, dataset)
}

// List returns every job, newest first.
func (m *Manager) List(ctx context.Context) ([]model.Job, error) {
	return m.progress.ListAll(ctx)
}
