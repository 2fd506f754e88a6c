package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// JobStatus is the lifecycle state of an extraction Job.
type JobStatus string

const (
	JobStatusScheduled  JobStatus = "scheduled"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusPaused     JobStatus = "paused"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
	JobStatusCleared    JobStatus = "cleared"
)

// NonTerminalStatuses lists every status that keeps a (source, dataset) pair
// from accepting a new job.
var NonTerminalStatuses = []JobStatus{JobStatusScheduled, JobStatusInProgress, JobStatusPaused}

func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusCleared:
		return true
	default:
		return false
	}
}

// StringList is a JSON-encoded []string column, used for the job's input
// file list.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	return string(b), err
}

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	b, err := toBytes(value)
	if err != nil {
		return err
	}
	if len(b) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(b, l)
}

// RawJSON is a JSON-text column holding an arbitrary JSON object: the
// declarative schema, the merged extraction result, or similar
// caller-supplied blobs.
type RawJSON json.RawMessage

func (r RawJSON) Value() (driver.Value, error) {
	if len(r) == 0 {
		return "{}", nil
	}
	return string(r), nil
}

func (r *RawJSON) Scan(value interface{}) error {
	if value == nil {
		*r = nil
		return nil
	}
	b, err := toBytes(value)
	if err != nil {
		return err
	}
	*r = RawJSON(b)
	return nil
}

func (r RawJSON) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

func (r *RawJSON) UnmarshalJSON(data []byte) error {
	*r = append((*r)[0:0], data...)
	return nil
}

// ReasoningEntry is one element of a job's mergeReasoningHistory: a
// timestamped record of the model's explanation for a merge step.
type ReasoningEntry struct {
	Timestamp   int64   `json:"timestamp"`
	ChunkIndex  int     `json:"chunkIndex"`
	TotalChunks int     `json:"totalChunks"`
	Reasoning   RawJSON `json:"reasoning"`
	IsFinal     bool    `json:"isFinal"`
}

// ReasoningHistory is a JSON-encoded []ReasoningEntry column.
type ReasoningHistory []ReasoningEntry

func (h ReasoningHistory) Value() (driver.Value, error) {
	if h == nil {
		return "[]", nil
	}
	b, err := json.Marshal(h)
	return string(b), err
}

func (h *ReasoningHistory) Scan(value interface{}) error {
	if value == nil {
		*h = nil
		return nil
	}
	b, err := toBytes(value)
	if err != nil {
		return err
	}
	if len(b) == 0 {
		*h = nil
		return nil
	}
	return json.Unmarshal(b, h)
}

func toBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, errors.New("unsupported scan type for JSON column")
	}
}

// LLMConfig captures the provider, model, and sampling parameters a job was
// started with.
type LLMConfig struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	UseAPI      bool    `json:"useApi"`
	Temperature float64 `json:"temperature"`
}

// Job is the single persisted record of one extraction task, keyed by
// (source, dataset) while non-terminal.
type Job struct {
	ID uint `gorm:"primaryKey" json:"id"`

	Source  string `gorm:"type:varchar(200);not null;index:idx_job_source_dataset" json:"source"`
	Dataset string `gorm:"type:varchar(200);not null;index:idx_job_source_dataset" json:"dataset"`

	Status  JobStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	Message string    `gorm:"type:text" json:"message"`
	Error   string    `gorm:"type:text" json:"error,omitempty"`

	Files  StringList `gorm:"type:text" json:"files"`
	Schema RawJSON    `gorm:"type:text" json:"schema"`

	LLMProvider    string  `json:"llmProvider"`
	LLMModel       string  `json:"llmModel"`
	LLMUseAPI      bool    `json:"llmUseApi"`
	LLMTemperature float64 `json:"llmTemperature"`

	TotalFiles       int     `json:"totalFiles"`
	ProcessedFiles   int     `json:"processedFiles"`
	CurrentFileIndex int     `json:"currentFileIndex"`
	CurrentFile      string  `json:"currentFile"`
	TotalChunks      int     `json:"totalChunks"`
	CurrentChunk     int     `json:"currentChunk"`
	FileProgress     float64 `json:"fileProgress"`

	MergedData            RawJSON          `gorm:"type:text" json:"mergedData"`
	MergeReasoningHistory ReasoningHistory `gorm:"type:text" json:"mergeReasoningHistory"`

	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Duration  int64      `json:"duration"` // seconds
	UpdatedAt time.Time  `json:"updatedAt"`
	CreatedAt time.Time  `json:"createdAt"`
}

func (Job) TableName() string {
	return "extraction_jobs"
}

// LLMConfigOf extracts the LLMConfig fields embedded on the job row.
func (j *Job) LLMConfigOf() LLMConfig {
	return LLMConfig{
		Provider:    j.LLMProvider,
		Model:       j.LLMModel,
		UseAPI:      j.LLMUseAPI,
		Temperature: j.LLMTemperature,
	}
}

// ApplyLLMConfig copies an LLMConfig onto the job's flat columns.
func (j *Job) ApplyLLMConfig(c LLMConfig) {
	j.LLMProvider = c.Provider
	j.LLMModel = c.Model
	j.LLMUseAPI = c.UseAPI
	j.LLMTemperature = c.Temperature
}
