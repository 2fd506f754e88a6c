// Package schemastore persists the declarative JSON-Schema documents
// registered per (source, dataset), consulted by JobManager.Start when a
// caller doesn't supply a schema inline.
package schemastore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sahilchouksey/extraction-orchestrator/model"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("schemastore: no schema registered for source/dataset")

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Get returns the registered schema document for (source, dataset).
func (s *Store) Get(ctx context.Context, source, dataset string) (json.RawMessage, error) {
	var row model.ExtractionSchema
	err := s.db.WithContext(ctx).Where("source = ? AND dataset = ?", source, dataset).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(row.Document), nil
}

// Put registers or replaces the schema document for (source, dataset).
func (s *Store) Put(ctx context.Context, source, dataset string, doc json.RawMessage) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row model.ExtractionSchema
		err := tx.Where("source = ? AND dataset = ?", source, dataset).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&model.ExtractionSchema{
				Source:   source,
				Dataset:  dataset,
				Document: model.RawJSON(doc),
			}).Error
		}
		if err != nil {
			return err
		}
		row.Document = model.RawJSON(doc)
		return tx.Save(&row).Error
	})
}
