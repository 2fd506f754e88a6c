// Package extraction implements ExtractionEngine (spec.md §4.6): the
// per-file pipeline that turns a job's source files into merged structured
// data, checkpointing progress after every chunk. A resumed job continues
// at the file it had reached, but that file's chunks are extracted again
// from its first chunk.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sahilchouksey/extraction-orchestrator/blobstore"
	"github.com/sahilchouksey/extraction-orchestrator/chunker"
	"github.com/sahilchouksey/extraction-orchestrator/llm"
	"github.com/sahilchouksey/extraction-orchestrator/markdowncache"
	"github.com/sahilchouksey/extraction-orchestrator/model"
	"github.com/sahilchouksey/extraction-orchestrator/progressstore"
	"github.com/sahilchouksey/extraction-orchestrator/promptbuilder"
	"github.com/sahilchouksey/extraction-orchestrator/responseparser"
)

// Config tunes the engine's concurrency and retry behavior.
type Config struct {
	// MaxConcurrentConversions bounds the PDF->markdown pre-pass fan-out.
	MaxConcurrentConversions int
	MaxRetries               int
	ChunkTimeout             time.Duration
	MergeTimeout             time.Duration
	ChunkConfig              chunker.Config
	// DefaultMaxTokens is the provider response cap (spec.md §6
	// `llmMaxTokens`) applied to every chunk/merge request; a job's
	// LLMTemperature overrides the per-request temperature, but the token
	// cap is an orchestrator-wide tunable, not a per-job one.
	DefaultMaxTokens int
}

// DefaultConfig matches the teacher's chunked-extractor defaults, scaled
// down for the pre-pass fan-out spec.md caps at 10.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentConversions: 10,
		MaxRetries:               2,
		ChunkTimeout:             90 * time.Second,
		MergeTimeout:             60 * time.Second,
		ChunkConfig:              chunker.DefaultConfig(),
		DefaultMaxTokens:         4000,
	}
}

// ProgressEvent mirrors one checkpoint of the file loop, for observers that
// want a live feed without polling ProgressStore. It carries the same
// numbers UpdateProgress/SetFileProgress persist, just fanned out in-process.
type ProgressEvent struct {
	JobID   uint   `json:"jobId"`
	Phase   string `json:"phase"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message"`
}

// ProgressCallback receives a ProgressEvent at every checkpoint Engine
// already reports to ProgressStore. It must not block; slow observers should
// buffer internally.
type ProgressCallback func(ProgressEvent)

// Engine drives one job's file loop from start (or resume point) to
// completion, failure, pause, or cancellation.
type Engine struct {
	progress   *progressstore.Store
	blobs      blobstore.BlobStore
	cache      *markdowncache.Cache
	client     llm.Client
	cfg        Config
	onProgress ProgressCallback
	llmParams  promptbuilder.Params
}

// New builds an Engine. client is the LLMClient to use for this job's
// extraction and merge calls; callers typically build one per job from the
// job's stored LLMConfig via llm.New.
func New(progress *progressstore.Store, blobs blobstore.BlobStore, cache *markdowncache.Cache, client llm.Client, cfg Config) *Engine {
	return &Engine{
		progress:  progress,
		blobs:     blobs,
		cache:     cache,
		client:    client,
		cfg:       cfg,
		llmParams: promptbuilder.Params{MaxTokens: cfg.DefaultMaxTokens},
	}
}

// SetLLMParams overrides the sampling parameters applied to every chunk and
// merge request for the job this Engine is running. BuildRunner calls this
// with the job's stored LLMTemperature so a job's configured temperature
// actually reaches the provider instead of defaulting to zero.
func (e *Engine) SetLLMParams(params promptbuilder.Params) {
	e.llmParams = params
}

// SetProgressCallback registers an observer invoked alongside every
// ProgressStore checkpoint this Engine writes. Passing nil disables it.
// The engine never waits on the callback, so a blocked observer cannot
// stall extraction.
func (e *Engine) SetProgressCallback(cb ProgressCallback) {
	e.onProgress = cb
}

func (e *Engine) emit(jobID uint, phase string, current, total int, message string) {
	if e.onProgress == nil {
		return
	}
	e.onProgress(ProgressEvent{JobID: jobID, Phase: phase, Current: current, Total: total, Message: message})
}

// chunkResult pairs one chunk's projected extraction with its index, so
// results collected out of order (pre-pass) can still be merged in order.
type chunkResult struct {
	index int
	data  map[string]interface{}
}

// Run executes jobID's file loop. It returns nil on normal completion,
// pause, or cancellation (all of which are recorded on the job itself);
// it returns an error only when the job cannot be loaded or its final
// result cannot be recorded, since extraction failures are recorded via
// SetFailed rather than propagated to the caller.
func (e *Engine) Run(ctx context.Context, jobID uint) error {
	job, err := e.progress.GetByID(ctx, fmt.Sprintf("%d", jobID))
	if err != nil {
		return fmt.Errorf("extraction: load job %d: %w", jobID, err)
	}

	var schema map[string]interface{}
	_ = json.Unmarshal(job.Schema, &schema)

	if e.suspended(ctx, job) {
		return nil
	}

	markdownByFile, ok := e.prePass(ctx, job)
	if !ok {
		return nil
	}

	for i := job.CurrentFileIndex; i < len(job.Files); i++ {
		if e.suspended(ctx, job) {
			return nil
		}

		file := job.Files[i]
		if err := e.progress.SetFileProgress(ctx, jobID, i, file, i, len(job.Files)); err != nil {
			log.Printf("[ExtractionEngine] job %d: failed to record file progress: %v", jobID, err)
		}
		e.emit(jobID, progressstore.PhaseExtraction, i, len(job.Files), fmt.Sprintf("starting %s", file))

		text, ok := markdownByFile[file]
		if !ok {
			var err error
			text, err = e.cache.GetOrConvert(ctx, file)
			if err != nil {
				e.fail(ctx, jobID, fmt.Errorf("markdown conversion for %s: %w", file, err))
				return nil
			}
		}

		chunks := chunker.Split(text, e.cfg.ChunkConfig)
		if len(chunks) == 0 {
			e.fail(ctx, jobID, fmt.Errorf("file %s produced no chunks", file))
			return nil
		}
		if err := e.progress.UpdateProgress(ctx, jobID, progressstore.PhaseChunking, 0, len(chunks), fmt.Sprintf("chunked %s into %d pieces", file, len(chunks))); err != nil {
			log.Printf("[ExtractionEngine] job %d: failed to record chunk count: %v", jobID, err)
		}
		e.emit(jobID, progressstore.PhaseChunking, 0, len(chunks), fmt.Sprintf("chunked %s into %d pieces", file, len(chunks)))

		results, mergedData, reasoning, completed := e.processFile(ctx, job, schema, chunks)
		if !completed {
			return nil
		}
		if results == nil && mergedData == nil {
			e.fail(ctx, jobID, fmt.Errorf("file %s produced no extraction results", file))
			return nil
		}

		entry := model.ReasoningEntry{
			Timestamp:   time.Now().Unix(),
			ChunkIndex:  len(chunks) - 1,
			TotalChunks: len(chunks),
			IsFinal:     true,
		}
		entry.Reasoning, _ = json.Marshal(reasoning)
		if err := e.progress.AppendReasoning(ctx, jobID, entry); err != nil {
			log.Printf("[ExtractionEngine] job %d: failed to append final reasoning: %v", jobID, err)
		}

		mergedBytes, _ := json.Marshal(mergedData)
		job.MergedData = model.RawJSON(mergedBytes)

		if err := e.progress.SetFileProgress(ctx, jobID, i, file, i+1, len(job.Files)); err != nil {
			log.Printf("[ExtractionEngine] job %d: failed to record file completion: %v", jobID, err)
		}
	}

	history := append(model.ReasoningHistory{}, job.MergeReasoningHistory...)
	if latest, err := e.progress.GetByID(ctx, fmt.Sprintf("%d", jobID)); err == nil {
		history = latest.MergeReasoningHistory
	}
	if err := e.progress.SetResult(ctx, jobID, job.MergedData, history); err != nil {
		log.Printf("[ExtractionEngine] job %d: failed to record final result: %v", jobID, err)
		return fmt.Errorf("extraction: record result: %w", err)
	}
	e.emit(jobID, progressstore.PhaseComplete, len(job.Files), len(job.Files), "extraction complete")
	e.progress.ReleaseActive(ctx, job.Source, job.Dataset)
	return nil
}

// prePass converts every file in job.Files that isn't already cached,
// fanned out with bounded concurrency. Returns false if the job was
// paused or cancelled mid-conversion.
func (e *Engine) prePass(ctx context.Context, job *model.Job) (map[string]string, bool) {
	if e.suspended(ctx, job) {
		return nil, false
	}

	results := make(map[string]string, len(job.Files))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.cfg.MaxConcurrentConversions)

	for _, file := range job.Files {
		wg.Add(1)
		go func(file string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			text, err := e.cache.GetOrConvert(ctx, file)
			if err != nil {
				log.Printf("[ExtractionEngine] job %d: pre-pass conversion of %s failed: %v", job.ID, file, err)
				return
			}
			mu.Lock()
			results[file] = text
			mu.Unlock()
		}(file)
	}
	wg.Wait()

	return results, !e.suspended(ctx, job)
}

// processFile runs the chunk loop for one file: extract each chunk, merge
// every other chunk, and produce the file's final merged result. The bool
// return is false when the job was paused/cancelled mid-file.
func (e *Engine) processFile(ctx context.Context, job *model.Job, schema map[string]interface{}, chunks []chunker.Chunk) ([]chunkResult, map[string]interface{}, map[string]interface{}, bool) {
	var results []chunkResult
	var merged map[string]interface{}
	var reasoning map[string]interface{}

	for i, c := range chunks {
		if e.suspended(ctx, job) {
			return nil, nil, nil, false
		}

		data, err := e.extractChunkWithRetry(ctx, c, schema)
		if err != nil {
			e.fail(ctx, job.ID, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err))
			return nil, nil, nil, false
		}
		results = append(results, chunkResult{index: i, data: data})

		if err := e.progress.UpdateProgress(ctx, job.ID, progressstore.PhaseExtraction, i+1, len(chunks),
			fmt.Sprintf("extracted chunk %d/%d", i+1, len(chunks))); err != nil {
			log.Printf("[ExtractionEngine] job %d: failed to record chunk progress: %v", job.ID, err)
		}
		e.emit(job.ID, progressstore.PhaseExtraction, i+1, len(chunks), fmt.Sprintf("extracted chunk %d/%d", i+1, len(chunks)))

		if i > 0 && i%2 == 0 && i < len(chunks)-1 {
			mergedSoFar, reasoningSoFar, err := e.mergeChunks(ctx, results, schema)
			if err != nil {
				log.Printf("[ExtractionEngine] job %d: intermediate merge at chunk %d failed, continuing: %v", job.ID, i, err)
				continue
			}
			merged = mergedSoFar
			reasoning = reasoningSoFar

			entry := model.ReasoningEntry{
				Timestamp:   time.Now().Unix(),
				ChunkIndex:  i,
				TotalChunks: len(chunks),
				IsFinal:     false,
			}
			entry.Reasoning, _ = json.Marshal(reasoning)
			if err := e.progress.AppendReasoning(ctx, job.ID, entry); err != nil {
				log.Printf("[ExtractionEngine] job %d: failed to append intermediate reasoning: %v", job.ID, err)
			}
			e.emit(job.ID, progressstore.PhaseMerge, i, len(chunks), "intermediate merge")
		}
	}

	if len(chunks) == 1 {
		return results, results[0].data, map[string]interface{}{"note": "single chunk, no merge required"}, true
	}

	finalMerged, finalReasoning, err := e.mergeChunks(ctx, results, schema)
	if err != nil {
		finalMerged = programmaticMerge(results)
		finalReasoning = map[string]interface{}{"fallback": err.Error()}
	}
	return results, finalMerged, finalReasoning, true
}

// extractChunkWithRetry calls the LLM for one chunk, retrying with
// exponential backoff the way the teacher's chunked extractor does.
func (e *Engine) extractChunkWithRetry(ctx context.Context, c chunker.Chunk, schema map[string]interface{}) (map[string]interface{}, error) {
	req := promptbuilder.BuildChunkPrompt(c, mustMarshal(schema), e.llmParams)

	var lastErr error
	backoff := time.Second
	maxRetries := e.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		callCtx, cancel := context.WithTimeout(ctx, e.cfg.ChunkTimeout)
		resp, err := e.client.Complete(callCtx, req)
		cancel()
		if err != nil {
			lastErr = err
			log.Printf("[ExtractionEngine] chunk %d attempt %d failed: %v", c.Index, attempt+1, err)
			continue
		}

		value, err := responseparser.ParseValue(resp.Content, schema)
		if err != nil {
			lastErr = err
			continue
		}
		data, _ := value.(map[string]interface{})
		return data, nil
	}
	return nil, fmt.Errorf("exhausted %d retries: %w", maxRetries, lastErr)
}

// mergeChunks asks the LLM to consolidate every chunk result collected so
// far into one object and returns the model's reasoning for the last merge
// step. A failed call or parse is returned as an error; processFile then
// falls back to programmaticMerge for the final merge.
func (e *Engine) mergeChunks(ctx context.Context, results []chunkResult, schema map[string]interface{}) (map[string]interface{}, map[string]interface{}, error) {
	current := map[string]interface{}{}
	reasoning := map[string]interface{}{"mergedChunks": len(results)}
	for _, r := range results {
		req := promptbuilder.BuildMergePrompt(mustMarshal(current), mustMarshal(r.data), mustMarshal(schema), e.llmParams)

		callCtx, cancel := context.WithTimeout(ctx, e.cfg.MergeTimeout)
		resp, err := e.client.Complete(callCtx, req)
		cancel()
		if err != nil {
			return nil, nil, fmt.Errorf("merge call: %w", err)
		}

		merged, stepReasoning, err := responseparser.ParseWithReasoning(resp.Content, schema)
		if err != nil {
			return nil, nil, fmt.Errorf("merge parse: %w", err)
		}
		current = merged
		reasoning = stepReasoning
	}

	return current, reasoning, nil
}

// programmaticMerge is the deterministic fallback when the LLM-driven
// merge is unavailable: shallow-merge every chunk's keys in order, letting
// later chunks' non-empty values win.
func programmaticMerge(results []chunkResult) map[string]interface{} {
	out := map[string]interface{}{}
	for _, r := range results {
		for k, v := range r.data {
			if v == nil {
				continue
			}
			out[k] = v
		}
	}
	return out
}

func (e *Engine) suspended(ctx context.Context, job *model.Job) bool {
	return e.progress.IsCancelled(ctx, job.ID) || e.progress.IsPaused(ctx, job.ID)
}

func (e *Engine) fail(ctx context.Context, jobID uint, cause error) {
	log.Printf("[ExtractionEngine] job %d failed: %v", jobID, cause)
	if err := e.progress.SetFailed(ctx, jobID, cause); err != nil {
		log.Printf("[ExtractionEngine] job %d: failed to record failure: %v", jobID, err)
	}
	e.emit(jobID, "failed", 0, 0, cause.Error())
}

func mustMarshal(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}
