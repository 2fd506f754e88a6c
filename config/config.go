package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadENV loads the ENVIRONMENT VARIABLES from .env if GO_ENV is unset or
// "development".
func LoadENV() error {
	goEnv := os.Getenv("GO_ENV")

	if goEnv == "" || goEnv == "development" {
		err := godotenv.Load()
		if err != nil {
			return err
		}
	}

	return nil
}

type EnviornmentVariable struct {
	// All variables
	GO_ENV       string
	DB_USER_NAME string
	DB_PASSWORD  string
	DB_NAME      string
	DB_HOST      string
	DB_PORT      string
	DB_SSL_MODE  string
	PORT         int

	// Redis Configuration
	REDIS_URL      string
	REDIS_PASSWORD string
	REDIS_DB       string

	// BlobStore backend selection
	BLOB_BACKEND  string // "filesystem" or "s3"
	BLOB_FS_ROOT  string
	S3_ACCESS_KEY string
	S3_SECRET_KEY string
	S3_BUCKET     string
	S3_REGION     string
	S3_ENDPOINT   string
	S3_CDN_URL    string

	// LLMClient provider selection
	LLM_PROVIDER        string // "digitalocean" or "openai"
	LLM_API_KEY         string
	LLM_BASE_URL        string
	LLM_MODEL           string
	LLM_TEMPERATURE     float64
	LLM_MAX_TOKENS      int
	LLM_TIMEOUT_SECONDS int

	// Local-inference fallback, used when a job's LLMConfig.UseAPI is
	// false: no API key is sent, and the request goes to a local
	// OpenAI-wire-compatible gateway (vLLM, Ollama, ...) instead.
	LLM_LOCAL_BASE_URL string
	LLM_LOCAL_MODEL    string

	// Orchestrator tunables
	DATA_ROOT             string
	MAX_CHUNK_CHARS       int
	POLL_INTERVAL_SECONDS int
	MAX_PDF_CONCURRENCY   int
	CRON_ENABLED          bool

	// Extraction Retry Configuration
	EXTRACTION_MAX_RETRIES              int
	EXTRACTION_RETRY_DELAY_SECONDS      int
	EXTRACTION_RETRY_BACKOFF_MULTIPLIER float64
	EXTRACTION_MAX_BACKOFF_SECONDS      int
	EXTRACTION_CHUNK_TIMEOUT_SECONDS    int
}

func Get() (*EnviornmentVariable, error) {

	port, err := strconv.Atoi(os.Getenv("PORT"))
	if err != nil {
		port = 8080
	}

	// Database defaults
	dbHost := os.Getenv("DB_HOST")
	if dbHost == "" {
		dbHost = "localhost"
	}

	dbPort := os.Getenv("DB_PORT")
	if dbPort == "" {
		dbPort = "5432"
	}

	blobBackend := os.Getenv("BLOB_BACKEND")
	if blobBackend == "" {
		blobBackend = "filesystem"
	}

	llmProvider := os.Getenv("LLM_PROVIDER")
	if llmProvider == "" {
		llmProvider = "digitalocean"
	}

	envVariables := &EnviornmentVariable{
		GO_ENV:       os.Getenv("GO_ENV"),
		DB_USER_NAME: os.Getenv("DB_USER_NAME"),
		DB_PASSWORD:  os.Getenv("DB_PASSWORD"),
		DB_NAME:      os.Getenv("DB_NAME"),
		DB_HOST:      dbHost,
		DB_PORT:      dbPort,
		DB_SSL_MODE:  os.Getenv("DB_SSL_MODE"),
		PORT:         port,

		// Redis
		REDIS_URL:      os.Getenv("REDIS_URL"),
		REDIS_PASSWORD: os.Getenv("REDIS_PASSWORD"),
		REDIS_DB:       os.Getenv("REDIS_DB"),

		// BlobStore
		BLOB_BACKEND:  blobBackend,
		BLOB_FS_ROOT:  getEnvStr("BLOB_FS_ROOT", "./data/blobs"),
		S3_ACCESS_KEY: os.Getenv("S3_ACCESS_KEY"),
		S3_SECRET_KEY: os.Getenv("S3_SECRET_KEY"),
		S3_BUCKET:     os.Getenv("S3_BUCKET"),
		S3_REGION:     os.Getenv("S3_REGION"),
		S3_ENDPOINT:   os.Getenv("S3_ENDPOINT"),
		S3_CDN_URL:    os.Getenv("S3_CDN_URL"),

		// LLMClient
		LLM_PROVIDER:        llmProvider,
		LLM_API_KEY:         os.Getenv("LLM_API_KEY"),
		LLM_BASE_URL:        os.Getenv("LLM_BASE_URL"),
		LLM_MODEL:           os.Getenv("LLM_MODEL"),
		LLM_TEMPERATURE:     getEnvFloat("LLM_TEMPERATURE", 0.3),
		LLM_MAX_TOKENS:      getEnvInt("LLM_MAX_TOKENS", 4000),
		LLM_TIMEOUT_SECONDS: getEnvInt("LLM_TIMEOUT_SECONDS", 60),
		LLM_LOCAL_BASE_URL:  os.Getenv("LLM_LOCAL_BASE_URL"),
		LLM_LOCAL_MODEL:     os.Getenv("LLM_LOCAL_MODEL"),

		// Orchestrator tunables (spec.md §6)
		DATA_ROOT:             getEnvStr("DATA_ROOT", "./data"),
		MAX_CHUNK_CHARS:       getEnvInt("MAX_CHUNK_CHARS", 4000),
		POLL_INTERVAL_SECONDS: getEnvInt("POLL_INTERVAL_SECONDS", 60),
		MAX_PDF_CONCURRENCY:   getEnvInt("MAX_PDF_CONCURRENCY", 10),
		CRON_ENABLED:          os.Getenv("CRON_ENABLED") != "false",

		// Extraction Retry Configuration (with defaults)
		EXTRACTION_MAX_RETRIES:              getEnvInt("EXTRACTION_MAX_RETRIES", 3),
		EXTRACTION_RETRY_DELAY_SECONDS:      getEnvInt("EXTRACTION_RETRY_DELAY_SECONDS", 5),
		EXTRACTION_RETRY_BACKOFF_MULTIPLIER: getEnvFloat("EXTRACTION_RETRY_BACKOFF_MULTIPLIER", 1.5),
		EXTRACTION_MAX_BACKOFF_SECONDS:      getEnvInt("EXTRACTION_MAX_BACKOFF_SECONDS", 30),
		EXTRACTION_CHUNK_TIMEOUT_SECONDS:    getEnvInt("EXTRACTION_CHUNK_TIMEOUT_SECONDS", 180),
	}

	return envVariables, nil
}

// getEnvInt returns an integer environment variable or a default value
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return intVal
}

// getEnvFloat returns a float64 environment variable or a default value
func getEnvFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	floatVal, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return floatVal
}

// getEnvStr returns a string environment variable or a default value
func getEnvStr(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}
