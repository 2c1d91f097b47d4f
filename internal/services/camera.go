package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/HerbHall/camlink/pkg/camera"
)

// Camera is a stored camera descriptor.
type Camera struct {
	camera.DeviceSpec
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Device converts the record into a validated descriptor.
func (c *Camera) Device() (camera.Device, error) {
	return camera.NewDevice(c.DeviceSpec)
}

// CameraFilter controls which cameras List returns.
type CameraFilter struct {
	Type   string // Substring of the declared type, case-insensitive.
	Search string // Name or IP address.
}

// CameraRepository provides CRUD access to the camera inventory.
type CameraRepository interface {
	Get(ctx context.Context, id string) (*Camera, error)
	GetByName(ctx context.Context, name string) (*Camera, error)
	List(ctx context.Context, filter CameraFilter, opts ListOptions) (*ListResult[Camera], error)
	// Create validates and inserts spec. An empty ID is replaced by a UUID.
	Create(ctx context.Context, spec camera.DeviceSpec) (*Camera, error)
	Update(ctx context.Context, spec camera.DeviceSpec) (*Camera, error)
	// Upsert updates the camera with spec's ID, or its name when the ID is
	// empty, and creates it otherwise.
	Upsert(ctx context.Context, spec camera.DeviceSpec) (*Camera, bool, error)
	Delete(ctx context.Context, id string) error
}

// Compile-time interface guard.
var _ CameraRepository = (*SQLiteCameraRepository)(nil)

// SQLiteCameraRepository implements CameraRepository on the cameras table.
type SQLiteCameraRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteCameraRepository creates a CameraRepository. Migrations must
// already be applied.
func NewSQLiteCameraRepository(db *sql.DB) *SQLiteCameraRepository {
	return &SQLiteCameraRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const cameraColumns = `id, name, ip_address, port, username, password, type, config, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanCamera(s scanner) (*Camera, error) {
	var c Camera
	var cfg string
	err := s.Scan(
		&c.ID, &c.Name, &c.IPAddress, &c.Port, &c.Username, &c.Password,
		&c.Type, &cfg, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(cfg), &c.Config)
	return &c, nil
}

func (r *SQLiteCameraRepository) get(ctx context.Context, where string, arg any) (*Camera, error) {
	//nolint:gosec // where is a constant column predicate
	row := r.db.QueryRowContext(ctx, `SELECT `+cameraColumns+` FROM cameras WHERE `+where, arg)
	c, err := scanCamera(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get camera: %w", err)
	}
	return c, nil
}

func (r *SQLiteCameraRepository) Get(ctx context.Context, id string) (*Camera, error) {
	return r.get(ctx, "id = ?", id)
}

func (r *SQLiteCameraRepository) GetByName(ctx context.Context, name string) (*Camera, error) {
	return r.get(ctx, "name = ?", name)
}

var cameraSorts = map[string]string{
	"name":       "name",
	"type":       "type",
	"ip_address": "ip_address",
	"created_at": "created_at",
	"updated_at": "updated_at",
}

func (r *SQLiteCameraRepository) List(ctx context.Context, filter CameraFilter, opts ListOptions) (*ListResult[Camera], error) {
	opts = opts.normalized()
	order := opts.orderBy(cameraSorts, "name")

	where := "1=1"
	var args []any
	if filter.Type != "" {
		where += " AND LOWER(type) LIKE ?"
		args = append(args, "%"+strings.ToLower(filter.Type)+"%")
	}
	if filter.Search != "" {
		where += " AND (name LIKE ? OR ip_address LIKE ?)"
		pattern := "%" + filter.Search + "%"
		args = append(args, pattern, pattern)
	}

	var total int
	//nolint:gosec // where uses parameterized placeholders only
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cameras WHERE "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count cameras: %w", err)
	}

	queryArgs := append(append([]any{}, args...), opts.Limit, opts.Offset)
	//nolint:gosec // where and order are built from allow-listed columns
	query := fmt.Sprintf("SELECT %s FROM cameras WHERE %s ORDER BY %s LIMIT ? OFFSET ?",
		cameraColumns, where, order)
	rows, err := r.db.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("list cameras: %w", err)
	}
	defer rows.Close()

	cameras := []Camera{}
	for rows.Next() {
		c, err := scanCamera(rows)
		if err != nil {
			return nil, fmt.Errorf("scan camera: %w", err)
		}
		cameras = append(cameras, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cameras: %w", err)
	}
	return &ListResult[Camera]{Items: cameras, Total: total}, nil
}

// normalize validates spec and returns it in the form stored.
func normalize(spec camera.DeviceSpec) (camera.DeviceSpec, string, error) {
	dev, err := camera.NewDevice(spec)
	if err != nil {
		return spec, "", err
	}
	out := dev.Spec()
	if out.Name == "" {
		return spec, "", camera.NewError(camera.ErrCodeValidation, "", "validate", "name is required", nil)
	}
	cfg, _ := json.Marshal(out.Config)
	if out.Config == nil {
		cfg = []byte("{}")
	}
	return out, string(cfg), nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (r *SQLiteCameraRepository) Create(ctx context.Context, spec camera.DeviceSpec) (*Camera, error) {
	if spec.ID == "" {
		spec.ID = uuid.New().String()
	}
	spec, cfg, err := normalize(spec)
	if err != nil {
		return nil, err
	}

	now := r.now()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO cameras (`+cameraColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		spec.ID, spec.Name, spec.IPAddress, spec.Port, spec.Username, spec.Password,
		spec.Type, cfg, now, now,
	)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("camera %q: %w", spec.Name, ErrAlreadyExists)
	}
	if err != nil {
		return nil, fmt.Errorf("create camera: %w", err)
	}
	return &Camera{DeviceSpec: spec, CreatedAt: now, UpdatedAt: now}, nil
}

func (r *SQLiteCameraRepository) Update(ctx context.Context, spec camera.DeviceSpec) (*Camera, error) {
	spec, cfg, err := normalize(spec)
	if err != nil {
		return nil, err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE cameras SET
			name = ?, ip_address = ?, port = ?, username = ?, password = ?,
			type = ?, config = ?, updated_at = ?
		WHERE id = ?`,
		spec.Name, spec.IPAddress, spec.Port, spec.Username, spec.Password,
		spec.Type, cfg, r.now(), spec.ID,
	)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("camera %q: %w", spec.Name, ErrAlreadyExists)
	}
	if err != nil {
		return nil, fmt.Errorf("update camera: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return r.Get(ctx, spec.ID)
}

func (r *SQLiteCameraRepository) Upsert(ctx context.Context, spec camera.DeviceSpec) (*Camera, bool, error) {
	var existing *Camera
	var err error
	if spec.ID != "" {
		existing, err = r.Get(ctx, spec.ID)
	} else {
		existing, err = r.GetByName(ctx, strings.TrimSpace(spec.Name))
	}
	switch {
	case errors.Is(err, ErrNotFound):
		c, err := r.Create(ctx, spec)
		return c, true, err
	case err != nil:
		return nil, false, err
	}

	spec.ID = existing.ID
	c, err := r.Update(ctx, spec)
	return c, false, err
}

// Delete removes the camera and its attempt history.
func (r *SQLiteCameraRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx, `DELETE FROM cameras WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete camera: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM camera_attempts WHERE camera_id = ?`, id); err != nil {
		return fmt.Errorf("delete camera attempts: %w", err)
	}
	return tx.Commit()
}
