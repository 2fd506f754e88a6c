// Package extraction exposes JobManager's lifecycle operations as the
// HTTP control plane spec.md §6 defines, mirroring the teacher's
// handlers/ingest batch-ingest handler shape (Fiber handlers thinly
// wrapping a service, translating its errors to response codes).
package extraction

import (
	"bufio"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/extraction-orchestrator/jobmanager"
	"github.com/sahilchouksey/extraction-orchestrator/model"
	"github.com/sahilchouksey/extraction-orchestrator/utils/response"
	"github.com/sahilchouksey/extraction-orchestrator/utils/sse"
	"github.com/sahilchouksey/extraction-orchestrator/utils/validation"
)

// Handler wires JobManager to Fiber routes.
type Handler struct {
	manager   *jobmanager.Manager
	validator *validation.Validator
}

// NewHandler builds a Handler.
func NewHandler(manager *jobmanager.Manager) *Handler {
	return &Handler{manager: manager, validator: validation.NewValidator()}
}

// startRequest is the optional JSON body for POST /extract/{source}/{dataset}.
type startRequest struct {
	Schema json.RawMessage `json:"schema,omitempty"`
	LLM    struct {
		Provider    string  `json:"provider"`
		Model       string  `json:"model"`
		UseAPI      bool    `json:"useApi"`
		Temperature float64 `json:"temperature" validate:"gte=0,lte=2"`
	} `json:"llm,omitempty"`
}

// Start handles POST /extract/{source}/{dataset}.
func (h *Handler) Start(c *fiber.Ctx) error {
	source := c.Params("source")
	dataset := c.Params("dataset")

	var req startRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.BadRequest(c, "invalid request body")
		}
		if err := h.validator.ValidateStruct(req.LLM); err != nil {
			return response.ValidationError(c, err)
		}
	}

	job, created, err := h.manager.Start(c.Context(), jobmanager.StartRequest{
		Source:  source,
		Dataset: dataset,
		Schema:  req.Schema,
		LLM: model.LLMConfig{
			Provider:    req.LLM.Provider,
			Model:       req.LLM.Model,
			UseAPI:      req.LLM.UseAPI,
			Temperature: req.LLM.Temperature,
		},
	})
	if err != nil {
		log.Printf("[handlers/extraction] Start(%s/%s) failed: %v", source, dataset, err)
		if errors.Is(err, jobmanager.ErrDatasetEmpty) {
			return response.BadRequest(c, "dataset has no files to extract")
		}
		if errors.Is(err, jobmanager.ErrAPIKeyMissing) {
			return response.BadRequest(c, "useApi requested but no LLM API key is configured")
		}
		return response.InternalServerError(c, "failed to start extraction")
	}

	status := fiber.StatusAccepted
	if !created {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(response.Response{Success: true, Data: job})
}

// Pause handles POST /extraction-pause/{source}/{dataset}.
func (h *Handler) Pause(c *fiber.Ctx) error {
	source, dataset := c.Params("source"), c.Params("dataset")
	if err := h.manager.Pause(c.Context(), source, dataset); err != nil {
		if errors.Is(err, jobmanager.ErrNoActiveJob) {
			return response.BadRequest(c, "no active job to pause")
		}
		log.Printf("[handlers/extraction] Pause(%s/%s) failed: %v", source, dataset, err)
		return response.InternalServerError(c, "failed to pause extraction")
	}
	return response.SuccessWithMessage(c, "extraction paused", nil)
}

// Resume handles POST /extraction-resume/{source}/{dataset}.
func (h *Handler) Resume(c *fiber.Ctx) error {
	source, dataset := c.Params("source"), c.Params("dataset")
	if err := h.manager.Resume(c.Context(), source, dataset); err != nil {
		if errors.Is(err, jobmanager.ErrNothingToResume) {
			return response.NotFound(c, "no paused job to resume")
		}
		log.Printf("[handlers/extraction] Resume(%s/%s) failed: %v", source, dataset, err)
		return response.InternalServerError(c, "failed to resume extraction")
	}
	return response.SuccessWithMessage(c, "extraction scheduled for resumption", nil)
}

// Clear handles POST /clear-extraction-state/{source}/{dataset}.
func (h *Handler) Clear(c *fiber.Ctx) error {
	source, dataset := c.Params("source"), c.Params("dataset")
	if err := h.manager.Clear(c.Context(), source, dataset); err != nil {
		log.Printf("[handlers/extraction] Clear(%s/%s) failed: %v", source, dataset, err)
		return response.InternalServerError(c, "failed to clear extraction state")
	}
	return response.SuccessWithMessage(c, "extraction state cleared", nil)
}

// Status handles GET /extraction-status/{source}/{dataset}.
func (h *Handler) Status(c *fiber.Ctx) error {
	source, dataset := c.Params("source"), c.Params("dataset")
	job, err := h.manager.Status(c.Context(), source, dataset)
	if err != nil {
		return response.NotFound(c, "no job found for this source/dataset")
	}
	return response.Success(c, job)
}

// Stream handles GET /extraction-status/{source}/{dataset}/stream. It is an
// enrichment beyond spec.md's literal six endpoints: the engine reports
// progress purely through a callback interface (extraction.ProgressEvent),
// so this handler can replay it over SSE without the engine knowing HTTP
// exists, the same separation the teacher's syllabus stream handler keeps
// between services.ProgressEvent and utils/sse.
func (h *Handler) Stream(c *fiber.Ctx) error {
	source, dataset := c.Params("source"), c.Params("dataset")

	job, err := h.manager.Status(c.Context(), source, dataset)
	if err != nil {
		return response.NotFound(c, "no job found for this source/dataset")
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	events, unsubscribe := h.manager.Subscribe(job.ID)
	terminal := job.Status.IsTerminal()

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer unsubscribe()

		if err := sse.SendStarted(w, job); err != nil {
			return
		}
		if terminal {
			sse.SendComplete(w, job)
			return
		}

		ticker := time.NewTicker(20 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := sse.SendProgress(w, ev); err != nil {
					return
				}
				if ev.Phase == "complete" || ev.Phase == "failed" {
					return
				}
			case <-ticker.C:
				if err := sse.SendKeepAlive(w); err != nil {
					return
				}
			}
		}
	})

	return nil
}

// List handles GET /extraction-progress/list.
func (h *Handler) List(c *fiber.Ctx) error {
	jobs, err := h.manager.List(c.Context())
	if err != nil {
		log.Printf("[handlers/extraction] List failed: %v", err)
		return response.InternalServerError(c, "failed to list extraction jobs")
	}
	return response.Success(c, fiber.Map{"jobs": jobs})
}

// inferSchemaRequest is the JSON body for POST
// /extraction-schema/{source}/{dataset}/infer: a sample of already-shaped
// JSON data to infer a JSON-Schema document from.
type inferSchemaRequest struct {
	Sample json.RawMessage `json:"sample"`
	Title  string          `json:"title"`
}

// InferSchema handles POST /extraction-schema/{source}/{dataset}/infer. It
// is an enrichment beyond spec.md's literal six endpoints: when a caller
// has example extracted data but no hand-written JSON-Schema, this infers
// one (grounded on the source system's schema_generator module) and
// registers it in the SchemaStore for the dataset, the same document
// JobManager.Start would otherwise require the caller to supply.
func (h *Handler) InferSchema(c *fiber.Ctx) error {
	source, dataset := c.Params("source"), c.Params("dataset")

	var req inferSchemaRequest
	if err := c.BodyParser(&req); err != nil || len(req.Sample) == 0 {
		return response.BadRequest(c, "request body must include a non-empty \"sample\" object")
	}

	schema, err := h.manager.InferSchema(c.Context(), source, dataset, req.Sample, req.Title)
	if err != nil {
		log.Printf("[handlers/extraction] InferSchema(%s/%s) failed: %v", source, dataset, err)
		return response.BadRequest(c, "failed to infer schema from sample")
	}
	return response.Success(c, fiber.Map{"schema": json.RawMessage(schema)})
}
