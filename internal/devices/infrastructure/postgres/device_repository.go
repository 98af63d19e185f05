package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	devices "pumpwatch/internal/devices/domain"
)

const deviceColumns = `id, name, location, token, enabled, last_seen_at, created_at, updated_at`

// DeviceRepository is a Postgres implementation for the device registry.
type DeviceRepository struct {
	db *sql.DB
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository(db *sql.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// Get loads a device by id.
func (r *DeviceRepository) Get(ctx context.Context, id string) (*devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if id == "" {
		return nil, errors.New("device repo: empty id")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+deviceColumns+`
FROM devices
WHERE id = $1
LIMIT 1`, id)
	return scanDevice(row)
}

// GetByToken resolves the device owning an ingest token.
func (r *DeviceRepository) GetByToken(ctx context.Context, token string) (*devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if token == "" {
		return nil, errors.New("device repo: empty token")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+deviceColumns+`
FROM devices
WHERE token = $1
LIMIT 1`, token)
	return scanDevice(row)
}

// List returns all registered devices ordered by name.
func (r *DeviceRepository) List(ctx context.Context) ([]devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+deviceColumns+`
FROM devices
ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []devices.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *device)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Save upserts a device.
func (r *DeviceRepository) Save(ctx context.Context, device *devices.Device) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if device == nil {
		return errors.New("device repo: nil device")
	}
	if err := device.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now
	_, err := r.db.ExecContext(ctx, `
INSERT INTO devices (id, name, location, token, enabled, last_seen_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id)
DO UPDATE SET
	name = EXCLUDED.name,
	location = EXCLUDED.location,
	token = EXCLUDED.token,
	enabled = EXCLUDED.enabled,
	updated_at = EXCLUDED.updated_at`,
		device.ID,
		device.Name,
		device.Location,
		device.Token,
		device.Enabled,
		nullableTime(device.LastSeenAt),
		device.CreatedAt,
		device.UpdatedAt,
	)
	return err
}

// TouchLastSeen records the most recent contact from a device.
func (r *DeviceRepository) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE devices
SET last_seen_at = $1, updated_at = $2
WHERE id = $3`, at, at, id)
	return err
}

type deviceScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row deviceScanner) (*devices.Device, error) {
	var device devices.Device
	var lastSeen sql.NullTime
	if err := row.Scan(
		&device.ID,
		&device.Name,
		&device.Location,
		&device.Token,
		&device.Enabled,
		&lastSeen,
		&device.CreatedAt,
		&device.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	device.CreatedAt = device.CreatedAt.UTC()
	device.UpdatedAt = device.UpdatedAt.UTC()
	if lastSeen.Valid {
		device.LastSeenAt = lastSeen.Time.UTC()
	}
	return &device, nil
}

func nullableTime(value time.Time) sql.NullTime {
	if value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value, Valid: true}
}
