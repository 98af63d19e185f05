package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	devices "pumpwatch/internal/devices/domain"
)

// DeviceRepository is an in-memory device registry.
type DeviceRepository struct {
	mu   sync.RWMutex
	data map[string]devices.Device
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository() *DeviceRepository {
	return &DeviceRepository{data: make(map[string]devices.Device)}
}

// Get loads a device by id.
func (r *DeviceRepository) Get(ctx context.Context, id string) (*devices.Device, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	device, ok := r.data[id]
	if !ok {
		return nil, nil
	}
	copy := device
	return &copy, nil
}

// GetByToken resolves the device owning an ingest token.
func (r *DeviceRepository) GetByToken(ctx context.Context, token string) (*devices.Device, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, device := range r.data {
		if device.Token == token {
			copy := device
			return &copy, nil
		}
	}
	return nil, nil
}

// List returns all devices ordered by name.
func (r *DeviceRepository) List(ctx context.Context) ([]devices.Device, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]devices.Device, 0, len(r.data))
	for _, device := range r.data {
		result = append(result, device)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// Save upserts a device.
func (r *DeviceRepository) Save(ctx context.Context, device *devices.Device) error {
	_ = ctx
	if device == nil {
		return errors.New("device repo: nil device")
	}
	if err := device.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.data[device.ID] = *device
	r.mu.Unlock()
	return nil
}

// TouchLastSeen records the most recent contact from a device.
func (r *DeviceRepository) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.data[id]
	if !ok {
		return nil
	}
	device.LastSeenAt = at
	device.UpdatedAt = at
	r.data[id] = device
	return nil
}
