package jobmanager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/sahilchouksey/extraction-orchestrator/blobstore"
	"github.com/sahilchouksey/extraction-orchestrator/extraction"
	"github.com/sahilchouksey/extraction-orchestrator/llm"
	"github.com/sahilchouksey/extraction-orchestrator/model"
	"github.com/sahilchouksey/extraction-orchestrator/progressstore"
	"github.com/sahilchouksey/extraction-orchestrator/schemastore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// fakeBlobStore is an in-memory BlobStore for tests that don't need real
// filesystem or S3 access.
type fakeBlobStore struct {
	files map[string][]byte // key: "source/dataset/name"
}

func newFakeBlobStore() *fakeBlobStore { return &fakeBlobStore{files: map[string][]byte{}} }

func (f *fakeBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, ok := f.files[key]
	if !ok {
		return nil, fmt.Errorf("not found: %s", key)
	}
	return data, nil
}
func (f *fakeBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	f.files[key] = data
	return nil
}
func (f *fakeBlobStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := f.files[key]
	return ok, nil
}
func (f *fakeBlobStore) Delete(ctx context.Context, key string) error {
	delete(f.files, key)
	return nil
}
func (f *fakeBlobStore) ListFiles(ctx context.Context, source, dataset string) ([]blobstore.FileInfo, error) {
	prefix := source + "/" + dataset + "/"
	var out []blobstore.FileInfo
	for key, data := range f.files {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			out = append(out, blobstore.FileInfo{Name: key[len(prefix):], Size: int64(len(data))})
		}
	}
	return out, nil
}
func (f *fakeBlobStore) DatasetExists(ctx context.Context, source, dataset string) (bool, error) {
	files, _ := f.ListFiles(ctx, source, dataset)
	return len(files) > 0, nil
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
	if err := db.AutoMigrate(&model.Job{}, &model.ExtractionSchema{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func newTestManager(t *testing.T, blobs blobstore.BlobStore) *Manager {
	return newTestManagerWithLLM(t, blobs, llm.Config{Provider: "digitalocean"})
}

func newTestManagerWithLLM(t *testing.T, blobs blobstore.BlobStore, llmBase llm.Config) *Manager {
	db := openTestDB(t)
	progress := progressstore.New(db, nil)
	schemas := schemastore.New(db)
	return New(progress, schemas, blobs, nil, extraction.DefaultConfig(), llmBase)
}

func TestStartRejectsEmptyDataset(t *testing.T) {
	blobs := newFakeBlobStore()
	m := newTestManager(t, blobs)

	_, _, err := m.Start(context.Background(), StartRequest{
		Source:  "jm-source",
		Dataset: fmt.Sprintf("jm-empty-%d", time.Now().UnixNano()),
		Schema:  []byte(`{"properties":{}}`),
	})
	if !errors.Is(err, ErrDatasetEmpty) {
		t.Fatalf("expected ErrDatasetEmpty, got %v", err)
	}
}

func TestStartIsIdempotentWhileJobIsActive(t *testing.T) {
	blobs := newFakeBlobStore()
	source, dataset := "jm-source", fmt.Sprintf("jm-idem-%d", time.Now().UnixNano())
	blobs.files[blobstore.Key(source, dataset, "a.pdf")] = []byte("content")

	m := newTestManager(t, blobs)
	ctx := context.Background()
	req := StartRequest{Source: source, Dataset: dataset, Schema: []byte(`{"properties":{}}`)}

	first, created, err := m.Start(ctx, req)
	if err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	if !created {
		t.Fatal("expected the first Start to create a new job")
	}

	second, created, err := m.Start(ctx, req)
	if err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	if created {
		t.Error("expected the second Start to return the existing active job, not create a new one")
	}
	if second.ID != first.ID {
		t.Errorf("second Start returned job %d, want the existing job %d", second.ID, first.ID)
	}
}

func TestPauseThenResumeRoundTrips(t *testing.T) {
	blobs := newFakeBlobStore()
	source, dataset := "jm-source", fmt.Sprintf("jm-pause-%d", time.Now().UnixNano())
	blobs.files[blobstore.Key(source, dataset, "a.pdf")] = []byte("content")

	m := newTestManager(t, blobs)
	ctx := context.Background()

	if _, _, err := m.Start(ctx, StartRequest{Source: source, Dataset: dataset, Schema: []byte(`{"properties":{}}`)}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := m.Pause(ctx, source, dataset); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}

	job, err := m.Status(ctx, source, dataset)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if job.Status != model.JobStatusPaused {
		t.Fatalf("status after Pause = %s, want %s", job.Status, model.JobStatusPaused)
	}

	if err := m.Resume(ctx, source, dataset); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
}

func TestResumeWithNoPausedJobFails(t *testing.T) {
	blobs := newFakeBlobStore()
	m := newTestManager(t, blobs)

	err := m.Resume(context.Background(), "jm-source", fmt.Sprintf("jm-noresume-%d", time.Now().UnixNano()))
	if !errors.Is(err, ErrNothingToResume) {
		t.Fatalf("expected ErrNothingToResume, got %v", err)
	}
}

func TestPauseWithNoActiveJobFails(t *testing.T) {
	blobs := newFakeBlobStore()
	m := newTestManager(t, blobs)

	err := m.Pause(context.Background(), "jm-source", fmt.Sprintf("jm-nopause-%d", time.Now().UnixNano()))
	if !errors.Is(err, ErrNoActiveJob) {
		t.Fatalf("expected ErrNoActiveJob, got %v", err)
	}
}

func TestStartRejectsUseAPIWithoutConfiguredKey(t *testing.T) {
	blobs := newFakeBlobStore()
	m := newTestManagerWithLLM(t, blobs, llm.Config{Provider: "openai"})

	_, _, err := m.Start(context.Background(), StartRequest{
		Source:  "jm-source",
		Dataset: fmt.Sprintf("jm-noapikey-%d", time.Now().UnixNano()),
		LLM:     model.LLMConfig{UseAPI: true},
	})
	if !errors.Is(err, ErrAPIKeyMissing) {
		t.Fatalf("expected ErrAPIKeyMissing, got %v", err)
	}
}

func TestStartAcceptsUseAPIWhenKeyConfigured(t *testing.T) {
	blobs := newFakeBlobStore()
	source, dataset := "jm-source", fmt.Sprintf("jm-apikey-%d", time.Now().UnixNano())
	blobs.files[blobstore.Key(source, dataset, "a.pdf")] = []byte("content")

	m := newTestManagerWithLLM(t, blobs, llm.Config{Provider: "openai", APIKey: "sk-test"})

	_, created, err := m.Start(context.Background(), StartRequest{
		Source:  source,
		Dataset: dataset,
		Schema:  []byte(`{"properties":{}}`),
		LLM:     model.LLMConfig{UseAPI: true},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !created {
		t.Error("expected a new job to be created")
	}
}

func TestBuildRunnerBuildsEngineForLocalModeJobWithTemperature(t *testing.T) {
	m := &Manager{llmBase: llm.Config{Provider: "openai", UseAPI: true, APIKey: "sk-test"}, engineCfg: extraction.DefaultConfig()}

	job := &model.Job{}
	job.ApplyLLMConfig(model.LLMConfig{UseAPI: false, Provider: "openai", Temperature: 0.7})

	engine, err := m.BuildRunner(job)
	if err != nil {
		t.Fatalf("BuildRunner failed: %v", err)
	}
	if engine == nil {
		t.Fatal("expected a non-nil engine")
	}
}

func TestInferSchemaRegistersDocumentInSchemaStore(t *testing.T) {
	blobs := newFakeBlobStore()
	m := newTestManager(t, blobs)
	source, dataset := "jm-source", fmt.Sprintf("jm-infer-%d", time.Now().UnixNano())

	sample := []byte(`{"name": "Acme", "revenue": 1000}`)
	doc, err := m.InferSchema(context.Background(), source, dataset, sample, "Company")
	if err != nil {
		t.Fatalf("InferSchema failed: %v", err)
	}
	if len(doc) == 0 {
		t.Fatal("expected a non-empty inferred schema document")
	}

	stored, err := m.schemas.Get(context.Background(), source, dataset)
	if err != nil {
		t.Fatalf("expected the inferred schema to be retrievable, got: %v", err)
	}
	if len(stored) == 0 {
		t.Fatal("expected a non-empty stored schema")
	}
}

func TestSubscribePublishFanOut(t *testing.T) {
	m := &Manager{subscribers: make(map[uint][]chan extraction.ProgressEvent)}

	ch, unsubscribe := m.Subscribe(42)
	defer unsubscribe()

	m.publish(extraction.ProgressEvent{JobID: 42, Phase: "extraction", Current: 1, Total: 2})

	select {
	case ev := <-ch:
		if ev.Phase != "extraction" {
			t.Errorf("Phase = %s, want extraction", ev.Phase)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a published event")
	}
}

func TestPublishToUnknownJobDoesNotPanic(t *testing.T) {
	m := &Manager{subscribers: make(map[uint][]chan extraction.ProgressEvent)}
	m.publish(extraction.ProgressEvent{JobID: 999})
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	m := &Manager{subscribers: make(map[uint][]chan extraction.ProgressEvent)}
	ch, unsubscribe := m.Subscribe(7)
	unsubscribe()

	m.publish(extraction.ProgressEvent{JobID: 7})

	if _, ok := <-ch; ok {
		t.Fatal("expected the channel to be closed after unsubscribe")
	}
}
