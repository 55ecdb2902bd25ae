package badger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/timshannon/badgerhold/v4"
)

// LogFileRecord tracks an externally stored execution log blob
type LogFileRecord struct {
	ID            string    `json:"id" badgerhold:"key"`
	RunID         string    `json:"run_id"`
	ContentLength int64     `json:"content_length"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// LogStorage issues upload targets for execution log blobs.
// The blobs themselves live behind the upload URL; only the file record
// is kept here so a run's logsFileId stays stable across re-uploads.
type LogStorage struct {
	db      *BadgerDB
	logger  arbor.ILogger
	baseURL string
}

// NewLogStorage creates a new LogStorage instance
func NewLogStorage(db *BadgerDB, logger arbor.ILogger, baseURL string) *LogStorage {
	return &LogStorage{
		db:      db,
		logger:  logger,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// RequestUpload returns an upload target for the run's execution log.
// An existing fileID is reused so repeated uploads overwrite the same blob.
func (s *LogStorage) RequestUpload(ctx context.Context, runID, fileID string, contentLength int64) (*interfaces.LogUploadTarget, error) {
	if runID == "" {
		return nil, fmt.Errorf("run ID is required")
	}

	now := time.Now()
	record := LogFileRecord{
		ID:            fileID,
		RunID:         runID,
		ContentLength: contentLength,
		UpdatedAt:     now,
	}

	if fileID == "" {
		record.ID = "logs_" + uuid.New().String()
		record.CreatedAt = now
	} else {
		var existing LogFileRecord
		err := s.db.Store().Get(fileID, &existing)
		switch err {
		case nil:
			record.CreatedAt = existing.CreatedAt
		case badgerhold.ErrNotFound:
			record.CreatedAt = now
		default:
			return nil, fmt.Errorf("failed to load log file record: %w", err)
		}
	}

	if err := s.db.Store().Upsert(record.ID, &record); err != nil {
		return nil, fmt.Errorf("failed to save log file record: %w", err)
	}

	s.logger.Debug().
		Str("run_id", runID).
		Str("file_id", record.ID).
		Int64("content_length", contentLength).
		Msg("Issued execution log upload target")

	return &interfaces.LogUploadTarget{
		FileID:    record.ID,
		UploadURL: fmt.Sprintf("%s/%s", s.baseURL, record.ID),
	}, nil
}
