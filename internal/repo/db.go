// Package repo implements the persistence layer for the index-job ledger,
// backed by GORM. This file contains database bootstrapping helpers for
// SQLite (pure Go driver) and schema migrations.
package repo

import (
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/clafollett/codetriever/internal/domain"
)

// OpenSQLite opens (or creates) a SQLite database and applies PRAGMAs.
func OpenSQLite(path string) (*gorm.DB, error) {
	// A missing parent directory surfaces as a cryptic sqlite error, so
	// check it up front and return the os error instead.
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// PRAGMAs
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")

	// Pool
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return db, nil
}

// AutoMigrate creates or updates the ledger schema.
//
// Beyond the model-derived schema it installs a partial unique index over
// active jobs, so at most one queued or running row can exist per
// (repository, ref) even under concurrent submissions. The service-layer
// pre-check is a fast path; this index is the authority.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&domain.IndexJob{},
		&domain.Idempotency{},
	); err != nil {
		return err
	}
	return db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_active_repo_ref
		 ON index_jobs(repository, ref)
		 WHERE status IN ('queued','running') AND deleted_at IS NULL`,
	).Error
}
