package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/HerbHall/camlink/internal/orchestrator"
	"github.com/HerbHall/camlink/pkg/camera"
)

// AttemptRepository stores the connection attempt history of each camera.
type AttemptRepository interface {
	orchestrator.AttemptRecorder
	ListByCamera(ctx context.Context, cameraID string, limit int) ([]orchestrator.Attempt, error)
	// Prune deletes attempts started before cutoff and returns how many went.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Compile-time interface guard.
var _ AttemptRepository = (*SQLiteAttemptRepository)(nil)

// SQLiteAttemptRepository implements AttemptRepository on camera_attempts.
type SQLiteAttemptRepository struct {
	db *sql.DB
}

// NewSQLiteAttemptRepository creates an AttemptRepository.
func NewSQLiteAttemptRepository(db *sql.DB) *SQLiteAttemptRepository {
	return &SQLiteAttemptRepository{db: db}
}

// RecordAttempt stores a. Attempts for devices that are not in the
// inventory are skipped.
func (r *SQLiteAttemptRepository) RecordAttempt(ctx context.Context, cameraID string, a orchestrator.Attempt) error {
	if cameraID == "" {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO camera_attempts (id, camera_id, strategy, op, success, code, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), cameraID, a.Strategy, a.Op, a.Success, string(a.Code),
		camera.MaskCredentials(a.Error), a.StartedAt.UTC(), a.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// ListByCamera returns the newest attempts first. limit <= 0 means 50.
func (r *SQLiteAttemptRepository) ListByCamera(ctx context.Context, cameraID string, limit int) ([]orchestrator.Attempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT strategy, op, success, code, error, started_at, duration_ms
		FROM camera_attempts WHERE camera_id = ?
		ORDER BY started_at DESC, rowid DESC LIMIT ?`, cameraID, limit)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	attempts := []orchestrator.Attempt{}
	for rows.Next() {
		var a orchestrator.Attempt
		var code string
		var ms int64
		if err := rows.Scan(&a.Strategy, &a.Op, &a.Success, &code, &a.Error, &a.StartedAt, &ms); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Code = camera.ErrorCode(code)
		a.Duration = time.Duration(ms) * time.Millisecond
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return attempts, nil
}

func (r *SQLiteAttemptRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM camera_attempts WHERE started_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune attempts: %w", err)
	}
	return res.RowsAffected()
}
