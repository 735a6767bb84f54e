package cases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andinalegal/lexcase/backend/internal/livequery"
	"github.com/andinalegal/lexcase/backend/internal/timeval"
	"go.uber.org/zap"
)

var (
	errMissingStore      = errors.New("store handle is required")
	errMissingClientName = errors.New("client name is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries a stable operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew  = "cases.service.new"
	opCreateCase  = "cases.create"
	opUpdateCase  = "cases.update"
	opDeleteCase  = "cases.delete"
	opAddReminder = "cases.add_reminder"
	opAttachFile  = "cases.attach_file"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// Store is the write half of the document-store contract. Writes are
// fire-and-forget from the reactive core's perspective: the caller
// learns success or failure, and the resulting state arrives
// independently through the live subscription.
type Store interface {
	Write(ctx context.Context, collection string, fields map[string]any) (string, error)
	Update(ctx context.Context, ref livequery.DocRef, fields map[string]any) error
	Delete(ctx context.Context, ref livequery.DocRef) error
	ArrayAppend(ctx context.Context, ref livequery.DocRef, field string, value any) error
}

// ServiceConfig describes the dependencies for the case write service.
type ServiceConfig struct {
	Store  Store
	Clock  func() time.Time
	Logger *zap.Logger
}

// Service performs case mutations against the document store.
type Service struct {
	store  Store
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the case service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		store:  cfg.Store,
		clock:  clock,
		logger: logger,
	}, nil
}

// CreateCase persists a new case document and returns its assigned id.
// Any id on the input record is ignored; the store owns key assignment.
func (s *Service) CreateCase(ctx context.Context, record CaseRecord) (string, error) {
	if strings.TrimSpace(record.ClientName) == "" {
		s.logError(opCreateCase, "missing_client_name", errMissingClientName)
		return "", newServiceError(opCreateCase, "missing_client_name", errMissingClientName)
	}

	if !record.CreatedAt.Known() {
		record.CreatedAt = timeval.FromTime(s.clock().UTC())
	}

	fields, err := fieldsOf(record)
	if err != nil {
		s.logError(opCreateCase, "encode_failed", err)
		return "", newServiceError(opCreateCase, "encode_failed", err)
	}

	id, err := s.store.Write(ctx, CollectionCases, fields)
	if err != nil {
		s.logError(opCreateCase, "write_failed", err, zap.String("client_name", record.ClientName))
		return "", newServiceError(opCreateCase, "write_failed", err)
	}
	return id, nil
}

// UpdateCase applies a partial field update to one case document.
func (s *Service) UpdateCase(ctx context.Context, id CaseID, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	delete(fields, "id")

	if err := s.store.Update(ctx, *CaseByID(id), fields); err != nil {
		s.logError(opUpdateCase, "update_failed", err, zap.String("case_id", id.String()))
		return newServiceError(opUpdateCase, "update_failed", err)
	}
	return nil
}

// DeleteCase removes one case document.
func (s *Service) DeleteCase(ctx context.Context, id CaseID) error {
	if err := s.store.Delete(ctx, *CaseByID(id)); err != nil {
		s.logError(opDeleteCase, "delete_failed", err, zap.String("case_id", id.String()))
		return newServiceError(opDeleteCase, "delete_failed", err)
	}
	return nil
}

// AddReminder atomically appends a reminder to the case's embedded
// sequence, avoiding the read-modify-write race of fetching the case
// first.
func (s *Service) AddReminder(ctx context.Context, id CaseID, reminder ReminderRecord) error {
	if err := reminder.Validate(); err != nil {
		s.logError(opAddReminder, "invalid_reminder", err, zap.String("case_id", id.String()))
		return newServiceError(opAddReminder, "invalid_reminder", err)
	}

	value, err := fieldsOf(reminder)
	if err != nil {
		s.logError(opAddReminder, "encode_failed", err, zap.String("case_id", id.String()))
		return newServiceError(opAddReminder, "encode_failed", err)
	}

	if err := s.store.ArrayAppend(ctx, *CaseByID(id), "reminders", value); err != nil {
		s.logError(opAddReminder, "append_failed", err, zap.String("case_id", id.String()))
		return newServiceError(opAddReminder, "append_failed", err)
	}
	return nil
}

// AttachFile atomically appends a file attachment to the case.
func (s *Service) AttachFile(ctx context.Context, id CaseID, attachment FileAttachmentRecord) error {
	if strings.TrimSpace(attachment.Name) == "" || strings.TrimSpace(attachment.URL) == "" {
		err := fmt.Errorf("attachment name and url are required")
		s.logError(opAttachFile, "invalid_attachment", err, zap.String("case_id", id.String()))
		return newServiceError(opAttachFile, "invalid_attachment", err)
	}

	if !attachment.UploadedAt.Known() {
		attachment.UploadedAt = timeval.FromTime(s.clock().UTC())
	}

	value, err := fieldsOf(attachment)
	if err != nil {
		s.logError(opAttachFile, "encode_failed", err, zap.String("case_id", id.String()))
		return newServiceError(opAttachFile, "encode_failed", err)
	}

	if err := s.store.ArrayAppend(ctx, *CaseByID(id), "fileAttachments", value); err != nil {
		s.logError(opAttachFile, "append_failed", err, zap.String("case_id", id.String()))
		return newServiceError(opAttachFile, "append_failed", err)
	}
	return nil
}

// fieldsOf flattens a record into the store's field payload, dropping
// the injected id so it never round-trips into the document body.
func fieldsOf(record any) (map[string]any, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	delete(fields, "id")
	return fields, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("cases service error", attrs...)
}
