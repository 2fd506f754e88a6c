package model

import "time"

// ExtractionSchema is the JSON-Schema document registered for a
// (source, dataset) pair, consulted by JobManager.Start when the caller
// does not supply one inline.
type ExtractionSchema struct {
	ID        uint    `gorm:"primaryKey" json:"id"`
	Source    string  `gorm:"type:varchar(200);not null;uniqueIndex:idx_schema_source_dataset" json:"source"`
	Dataset   string  `gorm:"type:varchar(200);not null;uniqueIndex:idx_schema_source_dataset" json:"dataset"`
	Document  RawJSON `gorm:"type:text;not null" json:"document"`
	UpdatedAt time.Time `json:"updatedAt"`
	CreatedAt time.Time `json:"createdAt"`
}

func (ExtractionSchema) TableName() string {
	return "extraction_schemas"
}
