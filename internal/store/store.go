// Package store is the system of record: a document store persisted
// through SQLite whose collections can be subscribed to. Every
// successful mutation re-evaluates the active subscriptions over the
// touched collection and pushes fresh snapshots, so live queries see
// writes without polling. The store holds no derived state; active
// subscriptions cache only their latest snapshot.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/andinalegal/lexcase/backend/internal/livequery"
)

var (
	// ErrNotFound indicates the referenced document does not exist.
	ErrNotFound = errors.New("store: document not found")

	errMissingDatabase   = errors.New("store: database handle is required")
	errMissingCollection = errors.New("store: collection name is required")
	errMissingDocumentID = errors.New("store: document id is required")
)

type documentRow struct {
	Collection string    `gorm:"column:collection;primaryKey;size:64;not null"`
	DocID      string    `gorm:"column:doc_id;primaryKey;size:190;not null"`
	FieldsJSON string    `gorm:"column:fields_json;type:text;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (documentRow) TableName() string {
	return "documents"
}

// Open establishes the SQLite connection and performs schema migration.
func Open(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("store: database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&documentRow{}); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("document store initialized", zap.String("path", path))
	}

	return db, nil
}

// IDProvider assigns keys for newly written documents.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// Config describes the dependencies for the document store.
type Config struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Store persists documents and dispatches snapshot notifications to
// subscribers. It satisfies both the read (subscribe) and write halves
// of the document-store contract.
type Store struct {
	db     *gorm.DB
	ids    IDProvider
	logger *zap.Logger

	mu        sync.RWMutex
	nextID    int64
	queries   map[int64]*querySubscriber
	documents map[int64]*documentSubscriber
}

// New constructs the store.
func New(cfg Config) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}

	ids := cfg.IDProvider
	if ids == nil {
		ids = NewUUIDProvider()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Store{
		db:        cfg.Database,
		ids:       ids,
		logger:    logger,
		queries:   make(map[int64]*querySubscriber),
		documents: make(map[int64]*documentSubscriber),
	}, nil
}

// Write persists a new document and returns its assigned id. The id
// never enters the stored field payload.
func (s *Store) Write(ctx context.Context, collection string, fields map[string]any) (string, error) {
	if collection == "" {
		return "", errMissingCollection
	}
	if fields == nil {
		fields = map[string]any{}
	}
	delete(fields, "id")

	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("store: id assignment failed: %w", err)
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("store: field encoding failed: %w", err)
	}

	row := documentRow{Collection: collection, DocID: id, FieldsJSON: string(payload)}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		s.logger.Error("document write failed", zap.String("collection", collection), zap.Error(err))
		return "", err
	}

	s.notify(collection)
	return id, nil
}

// Update merges a partial field payload into an existing document.
func (s *Store) Update(ctx context.Context, ref livequery.DocRef, fields map[string]any) error {
	if err := validateDocRef(ref); err != nil {
		return err
	}
	delete(fields, "id")
	if len(fields) == 0 {
		return nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row documentRow
		err := tx.Where("collection = ? AND doc_id = ?", ref.Collection, ref.ID).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, ref.Collection, ref.ID)
		}
		if err != nil {
			return err
		}

		merged := map[string]any{}
		if err := json.Unmarshal([]byte(row.FieldsJSON), &merged); err != nil {
			return fmt.Errorf("store: stored payload corrupt: %w", err)
		}
		for key, value := range fields {
			merged[key] = value
		}

		payload, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("store: field encoding failed: %w", err)
		}
		row.FieldsJSON = string(payload)
		return tx.Save(&row).Error
	})
	if err != nil {
		s.logger.Error("document update failed",
			zap.String("collection", ref.Collection),
			zap.String("doc_id", ref.ID),
			zap.Error(err))
		return err
	}

	s.notify(ref.Collection)
	return nil
}

// Delete removes a document. Deleting an absent document is a no-op.
func (s *Store) Delete(ctx context.Context, ref livequery.DocRef) error {
	if err := validateDocRef(ref); err != nil {
		return err
	}

	result := s.db.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", ref.Collection, ref.ID).
		Delete(&documentRow{})
	if result.Error != nil {
		s.logger.Error("document delete failed",
			zap.String("collection", ref.Collection),
			zap.String("doc_id", ref.ID),
			zap.Error(result.Error))
		return result.Error
	}

	if result.RowsAffected > 0 {
		s.notify(ref.Collection)
	}
	return nil
}

// ArrayAppend atomically appends a value to an embedded sequence
// field, creating the sequence when absent. The read and write happen
// inside one transaction, so concurrent appends never lose entries.
func (s *Store) ArrayAppend(ctx context.Context, ref livequery.DocRef, field string, value any) error {
	if err := validateDocRef(ref); err != nil {
		return err
	}
	if field == "" {
		return fmt.Errorf("store: array field name is required")
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row documentRow
		err := tx.Where("collection = ? AND doc_id = ?", ref.Collection, ref.ID).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, ref.Collection, ref.ID)
		}
		if err != nil {
			return err
		}

		fields := map[string]any{}
		if err := json.Unmarshal([]byte(row.FieldsJSON), &fields); err != nil {
			return fmt.Errorf("store: stored payload corrupt: %w", err)
		}

		sequence, _ := fields[field].([]any)
		fields[field] = append(sequence, value)

		payload, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("store: field encoding failed: %w", err)
		}
		row.FieldsJSON = string(payload)
		return tx.Save(&row).Error
	})
	if err != nil {
		s.logger.Error("array append failed",
			zap.String("collection", ref.Collection),
			zap.String("doc_id", ref.ID),
			zap.String("field", field),
			zap.Error(err))
		return err
	}

	s.notify(ref.Collection)
	return nil
}

func validateDocRef(ref livequery.DocRef) error {
	if ref.Collection == "" {
		return errMissingCollection
	}
	if ref.ID == "" {
		return errMissingDocumentID
	}
	return nil
}
