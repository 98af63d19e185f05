package postgres

import (
	"context"
	"database/sql"
	"errors"
	"hash/fnv"
	"strconv"
	"time"

	"pumpwatch/internal/incidents/application"
	incidents "pumpwatch/internal/incidents/domain"
)

const incidentColumns = `id, device, condition_type, location, value, threshold, description,
	start_time, ts, duration_ms, active, acknowledged, acknowledged_at, acknowledged_by,
	created_at, updated_at`

// IncidentRepository is a Postgres incident store.
type IncidentRepository struct {
	db *sql.DB
}

// NewIncidentRepository constructs a repository.
func NewIncidentRepository(db *sql.DB) *IncidentRepository {
	return &IncidentRepository{db: db}
}

// WithinKey runs fn inside one transaction serialized per (device, condition
// type) via an advisory transaction lock. Two concurrent submits for the same
// key cannot both observe "no open incident"; a partial unique index on
// (device, condition_type) WHERE active backs the invariant up in storage.
func (r *IncidentRepository) WithinKey(ctx context.Context, device string, condition incidents.ConditionType, fn func(ctx context.Context, tx application.KeyTx) error) error {
	if r == nil || r.db == nil {
		return errors.New("incident repo: nil db")
	}
	if device == "" || !condition.Valid() {
		return errors.New("incident repo: invalid key")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, keyLockID(device, condition)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := fn(ctx, &keyTx{tx: tx, device: device, condition: condition}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// GetByID fetches an incident by id.
func (r *IncidentRepository) GetByID(ctx context.Context, id string) (*incidents.Incident, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("incident repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+incidentColumns+`
FROM incidents
WHERE id = $1`, id)
	return scanIncident(row)
}

// MarkAcknowledged sets the acknowledge fields.
func (r *IncidentRepository) MarkAcknowledged(ctx context.Context, id, actor string, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("incident repo: nil db")
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE incidents
SET acknowledged = TRUE, acknowledged_at = $1, acknowledged_by = $2, updated_at = $3
WHERE id = $4`, at, actor, at, id)
	if err != nil {
		return err
	}
	return ensureRowTouched(result)
}

// MarkResolved forces an incident inactive.
func (r *IncidentRepository) MarkResolved(ctx context.Context, id string, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("incident repo: nil db")
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE incidents
SET active = FALSE, ts = $1, updated_at = $2
WHERE id = $3`, at, at, id)
	if err != nil {
		return err
	}
	return ensureRowTouched(result)
}

// List returns incidents filtered by device, status and start time window.
func (r *IncidentRepository) List(ctx context.Context, device, status string, from, to time.Time) ([]incidents.Incident, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("incident repo: nil db")
	}
	query := `
SELECT ` + incidentColumns + `
FROM incidents
WHERE 1=1`
	var args []any
	arg := func(value any) string {
		args = append(args, value)
		return placeholder(len(args))
	}
	if device != "" {
		query += " AND device = " + arg(device)
	}
	switch status {
	case "active":
		query += " AND active"
	case "inactive":
		query += " AND NOT active"
	}
	if !from.IsZero() {
		query += " AND start_time >= " + arg(from)
	}
	if !to.IsZero() {
		query += " AND start_time < " + arg(to)
	}
	query += " ORDER BY start_time DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []incidents.Incident
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *incident)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteInactiveBefore removes inactive incidents last touched before cutoff.
func (r *IncidentRepository) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("incident repo: nil db")
	}
	result, err := r.db.ExecContext(ctx, `
DELETE FROM incidents
WHERE NOT active AND ts < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type keyTx struct {
	tx        *sql.Tx
	device    string
	condition incidents.ConditionType
}

// FindOpen selects open incidents for this key with row locks. More than one
// row is a storage inconsistency the tracker surfaces; all rows are returned.
func (t *keyTx) FindOpen(ctx context.Context) ([]incidents.Incident, error) {
	rows, err := t.tx.QueryContext(ctx, `
SELECT `+incidentColumns+`
FROM incidents
WHERE device = $1 AND condition_type = $2 AND active
ORDER BY ts DESC
FOR UPDATE`, t.device, string(t.condition))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var open []incidents.Incident
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		open = append(open, *incident)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return open, nil
}

func (t *keyTx) Create(ctx context.Context, incident *incidents.Incident) error {
	if incident == nil {
		return errors.New("incident repo: nil incident")
	}
	if incident.ID == "" || incident.Device == "" {
		return errors.New("incident repo: missing fields")
	}
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO incidents (
	id, device, condition_type, location, value, threshold, description,
	start_time, ts, duration_ms, active, acknowledged, acknowledged_at, acknowledged_by,
	created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7,
	$8, $9, $10, $11, $12, $13, $14,
	$15, $16
)`,
		incident.ID,
		incident.Device,
		string(incident.ConditionType),
		incident.Location,
		incident.Value,
		incident.Threshold,
		incident.Description,
		incident.StartTime,
		incident.Timestamp,
		incident.DurationMillis,
		incident.Active,
		incident.Acknowledged,
		nullableTime(incident.AcknowledgedAt),
		nullableString(incident.AcknowledgedBy),
		incident.CreatedAt,
		incident.UpdatedAt,
	)
	return err
}

func (t *keyTx) Refresh(ctx context.Context, id string, at time.Time, value float64, durationMillis int64, description string) error {
	result, err := t.tx.ExecContext(ctx, `
UPDATE incidents
SET ts = $1, value = $2, duration_ms = $3, description = $4, updated_at = $5
WHERE id = $6`, at, value, durationMillis, description, at, id)
	if err != nil {
		return err
	}
	return ensureRowTouched(result)
}

func (t *keyTx) Resolve(ctx context.Context, id string, at time.Time, durationMillis int64) error {
	result, err := t.tx.ExecContext(ctx, `
UPDATE incidents
SET active = FALSE, ts = $1, duration_ms = $2, updated_at = $3
WHERE id = $4`, at, durationMillis, at, id)
	if err != nil {
		return err
	}
	return ensureRowTouched(result)
}

type incidentScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row incidentScanner) (*incidents.Incident, error) {
	var incident incidents.Incident
	var conditionType string
	var ackedAt sql.NullTime
	var ackedBy sql.NullString
	if err := row.Scan(
		&incident.ID,
		&incident.Device,
		&conditionType,
		&incident.Location,
		&incident.Value,
		&incident.Threshold,
		&incident.Description,
		&incident.StartTime,
		&incident.Timestamp,
		&incident.DurationMillis,
		&incident.Active,
		&incident.Acknowledged,
		&ackedAt,
		&ackedBy,
		&incident.CreatedAt,
		&incident.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	incident.ConditionType = incidents.ConditionType(conditionType)
	incident.StartTime = incident.StartTime.UTC()
	incident.Timestamp = incident.Timestamp.UTC()
	incident.CreatedAt = incident.CreatedAt.UTC()
	incident.UpdatedAt = incident.UpdatedAt.UTC()
	if ackedAt.Valid {
		incident.AcknowledgedAt = ackedAt.Time.UTC()
	}
	if ackedBy.Valid {
		incident.AcknowledgedBy = ackedBy.String
	}
	return &incident, nil
}

func ensureRowTouched(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return incidents.ErrNotFound
	}
	return nil
}

func keyLockID(device string, condition incidents.ConditionType) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(device))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(condition))
	return int64(h.Sum64())
}

func nullableTime(value time.Time) sql.NullTime {
	if value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value, Valid: true}
}

func nullableString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}
