package extraction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sahilchouksey/extraction-orchestrator/chunker"
	"github.com/sahilchouksey/extraction-orchestrator/llm"
)

// fakeLLMClient scripts a sequence of responses/errors, one per call,
// repeating the last entry once exhausted.
type fakeLLMClient struct {
	responses []string
	errs      []error
	calls     int
}

func (f *fakeLLMClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	i := f.calls
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return &llm.Response{Content: f.responses[i]}, nil
}

var testSchema = map[string]interface{}{
	"properties": map[string]interface{}{
		"name": map[string]interface{}{"type": "string"},
	},
}

func TestProgrammaticMergeLaterChunksWin(t *testing.T) {
	results := []chunkResult{
		{index: 0, data: map[string]interface{}{"name": "first", "extra": "keep"}},
		{index: 1, data: map[string]interface{}{"name": "second"}},
	}
	merged := programmaticMerge(results)
	if merged["name"] != "second" {
		t.Errorf("name = %v, want second (later chunk should win)", merged["name"])
	}
	if merged["extra"] != "keep" {
		t.Errorf("extra = %v, want keep (fields absent from later chunks survive)", merged["extra"])
	}
}

func TestProgrammaticMergeSkipsNilValues(t *testing.T) {
	results := []chunkResult{
		{index: 0, data: map[string]interface{}{"name": "first"}},
		{index: 1, data: map[string]interface{}{"name": nil}},
	}
	merged := programmaticMerge(results)
	if merged["name"] != "first" {
		t.Errorf("name = %v, want first (a nil value in a later chunk must not overwrite it)", merged["name"])
	}
}

func TestExtractChunkWithRetrySucceedsAfterTransientFailure(t *testing.T) {
	client := &fakeLLMClient{
		responses: []string{"", `{"name": "ok"}`},
		errs:      []error{errors.New("connection reset"), nil},
	}
	e := &Engine{client: client, cfg: Config{MaxRetries: 2, ChunkTimeout: time.Second}}

	data, err := e.extractChunkWithRetry(context.Background(), chunker.Chunk{Index: 0, Total: 1, Text: "body"}, testSchema)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data["name"] != "ok" {
		t.Errorf("name = %v, want ok", data["name"])
	}
	if client.calls != 2 {
		t.Errorf("expected exactly 2 calls (1 failure + 1 success), got %d", client.calls)
	}
}

func TestExtractChunkWithRetryExhaustsAndFails(t *testing.T) {
	client := &fakeLLMClient{
		responses: []string{""},
		errs:      []error{errors.New("connection reset")},
	}
	e := &Engine{client: client, cfg: Config{MaxRetries: 1, ChunkTimeout: time.Second}}

	_, err := e.extractChunkWithRetry(context.Background(), chunker.Chunk{Index: 0, Total: 1, Text: "body"}, testSchema)
	if err == nil {
		t.Fatal("expected an error once retries are exhausted")
	}
	if client.calls != 2 {
		t.Errorf("expected MaxRetries+1 = 2 attempts, got %d", client.calls)
	}
}

func TestMergeChunksFallsBackToProgrammaticMergeOnParseFailure(t *testing.T) {
	client := &fakeLLMClient{responses: []string{"not json at all"}}
	e := &Engine{client: client, cfg: Config{MergeTimeout: time.Second}}

	results := []chunkResult{{index: 0, data: map[string]interface{}{"name": "a"}}}
	_, _, err := e.mergeChunks(context.Background(), results, testSchema)
	if err == nil {
		t.Fatal("expected mergeChunks to report the parse failure so the caller can fall back")
	}
}

func TestMergeChunksHappyPath(t *testing.T) {
	client := &fakeLLMClient{responses: []string{`{"merged_data": {"name": "merged"}, "reasoning": {"note": "ok"}}`}}
	e := &Engine{client: client, cfg: Config{MergeTimeout: time.Second}}

	results := []chunkResult{{index: 0, data: map[string]interface{}{"name": "a"}}}
	merged, reasoning, err := e.mergeChunks(context.Background(), results, testSchema)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if merged["name"] != "merged" {
		t.Errorf("name = %v, want merged", merged["name"])
	}
	if reasoning["note"] != "ok" {
		t.Errorf("reasoning[note] = %v, want ok", reasoning["note"])
	}
}
