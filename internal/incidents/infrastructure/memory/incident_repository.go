package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"pumpwatch/internal/incidents/application"
	incidents "pumpwatch/internal/incidents/domain"
)

// IncidentRepository is an in-memory incident store. Per-key serialization is
// provided by one mutex per (device, condition type) key held for the whole
// WithinKey call.
type IncidentRepository struct {
	mu   sync.RWMutex
	keys map[string]*sync.Mutex
	data map[string]incidents.Incident
}

// NewIncidentRepository constructs a repository.
func NewIncidentRepository() *IncidentRepository {
	return &IncidentRepository{
		keys: make(map[string]*sync.Mutex),
		data: make(map[string]incidents.Incident),
	}
}

// WithinKey runs fn holding the lock for the given key.
func (r *IncidentRepository) WithinKey(ctx context.Context, device string, condition incidents.ConditionType, fn func(ctx context.Context, tx application.KeyTx) error) error {
	lock := r.keyLock(device + "|" + string(condition))
	lock.Lock()
	defer lock.Unlock()
	return fn(ctx, &keyTx{repo: r, device: device, condition: condition})
}

// GetByID fetches an incident by id.
func (r *IncidentRepository) GetByID(ctx context.Context, id string) (*incidents.Incident, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	incident, ok := r.data[id]
	if !ok {
		return nil, nil
	}
	copy := incident
	return &copy, nil
}

// MarkAcknowledged sets the acknowledge fields.
func (r *IncidentRepository) MarkAcknowledged(ctx context.Context, id, actor string, at time.Time) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	incident, ok := r.data[id]
	if !ok {
		return incidents.ErrNotFound
	}
	incident.Acknowledged = true
	incident.AcknowledgedAt = at
	incident.AcknowledgedBy = actor
	incident.UpdatedAt = at
	r.data[id] = incident
	return nil
}

// MarkResolved forces an incident inactive.
func (r *IncidentRepository) MarkResolved(ctx context.Context, id string, at time.Time) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	incident, ok := r.data[id]
	if !ok {
		return incidents.ErrNotFound
	}
	incident.Active = false
	incident.Timestamp = at
	incident.UpdatedAt = at
	r.data[id] = incident
	return nil
}

// List returns incidents filtered by device, status and start time window,
// newest first.
func (r *IncidentRepository) List(ctx context.Context, device, status string, from, to time.Time) ([]incidents.Incident, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []incidents.Incident
	for _, incident := range r.data {
		if device != "" && incident.Device != device {
			continue
		}
		if status == "active" && !incident.Active {
			continue
		}
		if status == "inactive" && incident.Active {
			continue
		}
		if !from.IsZero() && incident.StartTime.Before(from) {
			continue
		}
		if !to.IsZero() && !incident.StartTime.Before(to) {
			continue
		}
		result = append(result, incident)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartTime.After(result[j].StartTime)
	})
	return result, nil
}

// DeleteInactiveBefore removes inactive incidents whose last touch is older
// than cutoff. Open incidents are never deleted.
func (r *IncidentRepository) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int64
	for id, incident := range r.data {
		if !incident.Active && incident.Timestamp.Before(cutoff) {
			delete(r.data, id)
			removed++
		}
	}
	return removed, nil
}

func (r *IncidentRepository) keyLock(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.keys[key]
	if !ok {
		lock = &sync.Mutex{}
		r.keys[key] = lock
	}
	return lock
}

type keyTx struct {
	repo      *IncidentRepository
	device    string
	condition incidents.ConditionType
}

func (t *keyTx) FindOpen(ctx context.Context) ([]incidents.Incident, error) {
	_ = ctx
	t.repo.mu.RLock()
	defer t.repo.mu.RUnlock()
	var open []incidents.Incident
	for _, incident := range t.repo.data {
		if incident.Active && incident.Device == t.device && incident.ConditionType == t.condition {
			open = append(open, incident)
		}
	}
	return open, nil
}

func (t *keyTx) Create(ctx context.Context, incident *incidents.Incident) error {
	_ = ctx
	if incident == nil || incident.ID == "" {
		return incidents.ErrNotFound
	}
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	t.repo.data[incident.ID] = *incident
	return nil
}

func (t *keyTx) Refresh(ctx context.Context, id string, at time.Time, value float64, durationMillis int64, description string) error {
	_ = ctx
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	incident, ok := t.repo.data[id]
	if !ok {
		return incidents.ErrNotFound
	}
	incident.Timestamp = at
	incident.Value = value
	incident.DurationMillis = durationMillis
	incident.Description = description
	incident.UpdatedAt = at
	t.repo.data[id] = incident
	return nil
}

func (t *keyTx) Resolve(ctx context.Context, id string, at time.Time, durationMillis int64) error {
	_ = ctx
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	incident, ok := t.repo.data[id]
	if !ok {
		return incidents.ErrNotFound
	}
	incident.Active = false
	incident.Timestamp = at
	incident.DurationMillis = durationMillis
	incident.UpdatedAt = at
	t.repo.data[id] = incident
	return nil
}
