// Package migrate applies the SQL files under db/migrations and db/seeds.
package migrate

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"
)

const (
	MigrationsDir = "db/migrations"
	SeedsDir      = "db/seeds"
)

// File is one SQL script.
type File struct {
	Name     string
	SQL      string
	Checksum string
}

// Load reads the .sql files of dir in lexical order. A missing dir yields
// no files.
func Load(fsys fs.FS, dir string) ([]File, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	files := make([]File, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		sum := sha256.Sum256(data)
		files = append(files, File{Name: name, SQL: string(data), Checksum: hex.EncodeToString(sum[:])})
	}
	return files, nil
}

// Migrator records applied migrations in schema_migrations.
type Migrator struct {
	DB     *sql.DB
	Logger *zap.Logger
}

func New(db *sql.DB, logger *zap.Logger) *Migrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator{DB: db, Logger: logger}
}

// Up applies every file not yet recorded. A recorded file whose checksum
// changed is an error.
func (m *Migrator) Up(ctx context.Context, files []File) (int, error) {
	if _, err := m.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id BIGSERIAL PRIMARY KEY,
			filename TEXT NOT NULL UNIQUE,
			checksum TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := 0
	for _, f := range files {
		var checksum string
		err := m.DB.QueryRowContext(ctx,
			`SELECT checksum FROM schema_migrations WHERE filename = $1`, f.Name).Scan(&checksum)
		switch {
		case err == nil:
			if checksum != f.Checksum {
				return applied, fmt.Errorf("migration %s changed after it was applied", f.Name)
			}
			m.Logger.Debug("migration already applied", zap.String("file", f.Name))
			continue
		case !errors.Is(err, sql.ErrNoRows):
			return applied, fmt.Errorf("check %s: %w", f.Name, err)
		}

		if err := m.apply(ctx, f); err != nil {
			return applied, err
		}
		applied++
		m.Logger.Info("migration applied", zap.String("file", f.Name))
	}
	return applied, nil
}

func (m *Migrator) apply(ctx context.Context, f File) error {
	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, f.SQL); err != nil {
		return fmt.Errorf("apply %s: %w", f.Name, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (filename, checksum) VALUES ($1, $2)`, f.Name, f.Checksum); err != nil {
		return fmt.Errorf("record %s: %w", f.Name, err)
	}
	return tx.Commit()
}

// Seed runs seed files unconditionally. Seeds must be idempotent.
func (m *Migrator) Seed(ctx context.Context, files []File) error {
	for _, f := range files {
		if _, err := m.DB.ExecContext(ctx, f.SQL); err != nil {
			return fmt.Errorf("seed %s: %w", f.Name, err)
		}
		m.Logger.Info("seed applied", zap.String("file", f.Name))
	}
	return nil
}
