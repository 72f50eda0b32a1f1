// Package journal records finished batches and their per-file outcomes so a
// later run, or an operator, can inspect what happened.
package journal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/marmos91/dvuploader/pkg/upload"
)

var (
	// ErrBatchNotFound is returned when no batch has the requested id.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrDuplicateBatch is returned when a batch id was already recorded.
	ErrDuplicateBatch = errors.New("batch already recorded")
)

// ListOptions filters List.
type ListOptions struct {
	// Limit caps the number of batches returned. Zero means no limit.
	Limit int

	// DatasetPID restricts the listing to one dataset.
	DatasetPID string

	// FailedOnly keeps batches with at least one failed file.
	FailedOnly bool
}

// Store is the gorm-backed journal. It supports SQLite and PostgreSQL
// through the same code.
type Store struct {
	db     *gorm.DB
	config *Config
}

// Open connects to the journal database and migrates its schema.
func Open(config *Config) (*Store, error) {
	if config == nil {
		config = &Config{}
	}
	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid journal configuration: %w", err)
	}

	var dialector gorm.Dialector
	switch config.Type {
	case DatabaseTypeSQLite:
		if err := os.MkdirAll(filepath.Dir(config.SQLite.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
		// WAL lets `history` read while an upload is writing.
		dsn := config.SQLite.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		dialector = sqlite.Open(dsn)

	case DatabaseTypePostgres:
		dialector = postgres.Open(config.Postgres.DSN())

	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	if config.Type == DatabaseTypePostgres {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get underlying database: %w", err)
		}
		sqlDB.SetMaxOpenConns(config.Postgres.MaxOpenConns)
		sqlDB.SetMaxIdleConns(config.Postgres.MaxIdleConns)
	}

	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("failed to run journal migration: %w", err)
	}

	return &Store{db: db, config: config}, nil
}

// DB returns the underlying GORM database connection.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close releases the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Record stores a finished batch and all of its file outcomes atomically.
func (s *Store) Record(ctx context.Context, r *upload.Result) error {
	if r == nil || r.BatchID == "" {
		return errors.New("journal: result has no batch id")
	}
	rec := FromResult(r)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(rec).Error
	})
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateBatch
		}
		return fmt.Errorf("record batch %s: %w", r.BatchID, err)
	}
	return nil
}

// List returns batches newest first, without their file records.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*BatchRecord, error) {
	var batches []*BatchRecord
	q := s.db.WithContext(ctx).Order("started_at DESC")
	if opts.DatasetPID != "" {
		q = q.Where("dataset_pid = ?", opts.DatasetPID)
	}
	if opts.FailedOnly {
		q = q.Where("failed_files > 0")
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if err := q.Find(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}

// Get returns one batch with its file records in report order. A unique
// prefix of the batch id is accepted.
func (s *Store) Get(ctx context.Context, id string) (*BatchRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrBatchNotFound
	}

	var matches []*BatchRecord
	err := s.db.WithContext(ctx).
		Preload("Files", func(db *gorm.DB) *gorm.DB { return db.Order("seq") }).
		Where("id = ? OR id LIKE ?", id, id+"%").
		Limit(2).
		Find(&matches).Error
	if err != nil {
		return nil, err
	}

	for _, m := range matches {
		if m.ID == id {
			return m, nil
		}
	}
	switch len(matches) {
	case 0:
		return nil, ErrBatchNotFound
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("batch id prefix %q is ambiguous", id)
	}
}

// Prune deletes batches that started before cutoff and returns how many
// were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&BatchRecord{}).Where("started_at < ?", cutoff).Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("batch_id IN ?", ids).Delete(&FileRecord{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&BatchRecord{})
		removed = res.RowsAffected
		return res.Error
	})
	return removed, err
}

// isUniqueConstraintError checks if the error is a unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "duplicate key value violates unique constraint")
}
