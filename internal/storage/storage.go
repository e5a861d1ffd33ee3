// Package storage provides an optional request access log using GORM and SQLite
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Sentinel errors following Dave Cheney's principle: define errors as values
var (
	ErrNilAccess       = errors.New("access record cannot be nil")
	ErrInvalidLimit    = errors.New("limit must be positive")
	ErrDatabaseMissing = errors.New("database path is required")
)

// Access is one served request.
type Access struct {
	ID uint `gorm:"primaryKey"`

	Method     string `gorm:"not null"`
	Path       string `gorm:"not null;index:idx_path"`
	Query      string
	Status     int   `gorm:"not null;index:idx_status"`
	Bytes      int   `gorm:"not null;default:0"`
	DurationMs int64 `gorm:"not null;default:0"`
	RemoteAddr string
	UserAgent  string

	CreatedAt time.Time `gorm:"index"`
}

// Store defines the interface for access log operations
type Store interface {
	Close() error
	RecordAccess(ctx context.Context, access *Access) error
	ListRecent(ctx context.Context, limit int) ([]*Access, error)
	CountByStatus(ctx context.Context) (map[int]int64, error)
}

// DB wraps gorm.DB with access log operations
type DB struct {
	db *gorm.DB
}

// Config holds database configuration
type Config struct {
	DatabasePath string
	LogLevel     string // silent, error, warn, info
}

// InitDB initializes the database connection and runs migrations
func InitDB(cfg Config) (*DB, error) {
	if cfg.DatabasePath == "" {
		return nil, ErrDatabaseMissing
	}

	logLevel := logger.Silent
	switch cfg.LogLevel {
	case "error":
		logLevel = logger.Error
	case "warn":
		logLevel = logger.Warn
	case "info":
		logLevel = logger.Info
	}

	db, err := gorm.Open(sqlite.Open(cfg.DatabasePath), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto-migrate schema
	if err := db.AutoMigrate(&Access{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database handle: %w", err)
	}
	return sqlDB.Close()
}

// RecordAccess inserts one access record.
func (d *DB) RecordAccess(ctx context.Context, access *Access) error {
	if access == nil {
		return ErrNilAccess
	}
	if access.CreatedAt.IsZero() {
		access.CreatedAt = time.Now().UTC()
	}
	if err := d.db.WithContext(ctx).Create(access).Error; err != nil {
		return fmt.Errorf("failed to record access: %w", err)
	}
	return nil
}

// ListRecent returns up to limit records, newest first.
func (d *DB) ListRecent(ctx context.Context, limit int) ([]*Access, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	var accesses []*Access
	err := d.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&accesses).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list accesses: %w", err)
	}
	return accesses, nil
}

// CountByStatus returns the number of recorded requests per status code.
func (d *DB) CountByStatus(ctx context.Context) (map[int]int64, error) {
	var rows []struct {
		Status int
		Count  int64
	}
	err := d.db.WithContext(ctx).
		Model(&Access{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count accesses: %w", err)
	}

	counts := make(map[int]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
