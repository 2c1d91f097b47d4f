package services

import (
	"context"
	"database/sql"

	"github.com/HerbHall/camlink/internal/store"
)

// Module is the migration namespace of the tables below.
const Module = "cameras"

// Migrations create the camera inventory and attempt history tables.
var Migrations = []store.Migration{
	{
		Version:     1,
		Description: "create cameras table",
		Up: func(tx *sql.Tx) error {
			stmts := []string{
				`CREATE TABLE cameras (
					id          TEXT PRIMARY KEY,
					name        TEXT NOT NULL UNIQUE,
					ip_address  TEXT NOT NULL DEFAULT '',
					port        INTEGER NOT NULL,
					username    TEXT NOT NULL DEFAULT '',
					password    TEXT NOT NULL DEFAULT '',
					type        TEXT NOT NULL DEFAULT '',
					config      TEXT NOT NULL DEFAULT '{}',
					created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_cameras_type ON cameras(type)`,
			}
			return execAll(tx, stmts)
		},
	},
	{
		Version:     2,
		Description: "create camera_attempts table",
		Up: func(tx *sql.Tx) error {
			stmts := []string{
				`CREATE TABLE camera_attempts (
					id          TEXT PRIMARY KEY,
					camera_id   TEXT NOT NULL,
					strategy    TEXT NOT NULL,
					op          TEXT NOT NULL,
					success     INTEGER NOT NULL,
					code        TEXT NOT NULL DEFAULT '',
					error       TEXT NOT NULL DEFAULT '',
					started_at  DATETIME NOT NULL,
					duration_ms INTEGER NOT NULL DEFAULT 0
				)`,
				`CREATE INDEX idx_camera_attempts_camera ON camera_attempts(camera_id, started_at)`,
			}
			return execAll(tx, stmts)
		},
	},
}

// Migrate applies the service migrations to s.
func Migrate(ctx context.Context, s *store.SQLiteStore) error {
	return s.Migrate(ctx, Module, Migrations)
}

func execAll(tx *sql.Tx, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
