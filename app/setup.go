package app

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sahilchouksey/extraction-orchestrator/api"
	"github.com/sahilchouksey/extraction-orchestrator/batchpoller"
	"github.com/sahilchouksey/extraction-orchestrator/blobstore"
	"github.com/sahilchouksey/extraction-orchestrator/chunker"
	"github.com/sahilchouksey/extraction-orchestrator/config"
	"github.com/sahilchouksey/extraction-orchestrator/database"
	"github.com/sahilchouksey/extraction-orchestrator/extraction"
	extraction_handlers "github.com/sahilchouksey/extraction-orchestrator/handlers/extraction"
	"github.com/sahilchouksey/extraction-orchestrator/jobmanager"
	"github.com/sahilchouksey/extraction-orchestrator/llm"
	"github.com/sahilchouksey/extraction-orchestrator/markdowncache"
	"github.com/sahilchouksey/extraction-orchestrator/model"
	"github.com/sahilchouksey/extraction-orchestrator/progressstore"
	"github.com/sahilchouksey/extraction-orchestrator/router"
	"github.com/sahilchouksey/extraction-orchestrator/schemastore"
	"github.com/sahilchouksey/extraction-orchestrator/utils/cache"
)

func SetupAndRunServer() error {
	// Load ENV
	if err := config.LoadENV(); err != nil {
		return err
	}

	getEnv, err := config.Get()
	if err != nil {
		return err
	}

	// Initialize GORM database connection
	store, err := database.StartGORM()
	if err != nil {
		print("Check whether the Postgres is running or not\n")
		print("If not running, run the following command:\n")
		print("  make docker-up   (for Docker setup)\n")
		print("  make db-up       (for local PostgreSQL)\n")
		return err
	}

	if err := store.Init(); err != nil {
		print("Failed to initialize database tables\n")
		print("Error running migrations:\n")
		return err
	}

	// Redis backs ProgressStore's fast path; its absence only degrades
	// performance (every check falls back to Postgres), so a connection
	// failure here is logged, not fatal.
	var redisCache *cache.RedisCache
	if getEnv.REDIS_URL != "" {
		redisCache, err = cache.NewRedisCache(getEnv.REDIS_URL)
		if err != nil {
			print("Warning: failed to connect to Redis, ProgressStore will use Postgres-only fast path\n")
			redisCache = nil
		}
	}

	blobStore, err := buildBlobStore(getEnv)
	if err != nil {
		return err
	}

	markdownCache, err := markdowncache.New(blobStore, getEnv.DATA_ROOT+"/cached", markdowncache.DefaultLimits)
	if err != nil {
		return err
	}

	progress := progressstore.New(store.GormDB(), redisCache)
	schemas := schemastore.New(store.GormDB())

	engineCfg := extraction.Config{
		MaxConcurrentConversions: getEnv.MAX_PDF_CONCURRENCY,
		MaxRetries:               getEnv.EXTRACTION_MAX_RETRIES,
		ChunkTimeout:             time.Duration(getEnv.EXTRACTION_CHUNK_TIMEOUT_SECONDS) * time.Second,
		MergeTimeout:             time.Duration(getEnv.LLM_TIMEOUT_SECONDS) * time.Second,
		ChunkConfig:              chunker.Config{MaxChars: getEnv.MAX_CHUNK_CHARS},
		DefaultMaxTokens:         getEnv.LLM_MAX_TOKENS,
	}
	llmBase := llm.Config{
		Provider:       getEnv.LLM_PROVIDER,
		UseAPI:         getEnv.LLM_API_KEY != "",
		APIKey:         getEnv.LLM_API_KEY,
		BaseURL:        getEnv.LLM_BASE_URL,
		Model:          getEnv.LLM_MODEL,
		LocalBaseURL:   getEnv.LLM_LOCAL_BASE_URL,
		LocalModel:     getEnv.LLM_LOCAL_MODEL,
		Temperature:    getEnv.LLM_TEMPERATURE,
		MaxTokens:      getEnv.LLM_MAX_TOKENS,
		TimeoutSeconds: getEnv.LLM_TIMEOUT_SECONDS,
	}
	manager := jobmanager.New(progress, schemas, blobStore, markdownCache, engineCfg, llmBase)

	var poller *batchpoller.Poller
	if getEnv.CRON_ENABLED {
		poller = batchpoller.New(store.GormDB(), progress, func(job *model.Job) (batchpoller.Runner, error) {
			return manager.BuildRunner(job)
		}, time.Duration(getEnv.POLL_INTERVAL_SECONDS)*time.Second)
		if err := poller.Start(); err != nil {
			print("Warning: failed to start batch poller\n")
			print("Error: ", err.Error(), "\n")
		}
	}

	defer func() {
		if poller != nil {
			poller.Stop()
		}
		store.Close()
	}()

	// Init API
	var server *api.APIServer = api.NewAPIServer(fmt.Sprintf(":%d", getEnv.PORT))
	fiberApp := server.GetEngine()

	fiberApp.Use(logger.New())
	fiberApp.Use(recover.New())

	router.SetupRoutes(fiberApp, extraction_handlers.NewHandler(manager))

	return server.Run()
}

func buildBlobStore(getEnv *config.EnviornmentVariable) (blobstore.BlobStore, error) {
	switch getEnv.BLOB_BACKEND {
	case "s3":
		return blobstore.NewS3Store(blobstore.S3Config{
			AccessKey: getEnv.S3_ACCESS_KEY,
			SecretKey: getEnv.S3_SECRET_KEY,
			Bucket:    getEnv.S3_BUCKET,
			Region:    getEnv.S3_REGION,
			Endpoint:  getEnv.S3_ENDPOINT,
			CDNURL:    getEnv.S3_CDN_URL,
		})
	default:
		return blobstore.NewFilesystemStore(getEnv.BLOB_FS_ROOT)
	}
}
