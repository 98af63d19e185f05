package devices

import (
	"context"
	"errors"
	"time"
)

// Device represents a registered pump controller allowed to report.
type Device struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Location   string    `json:"location"`
	Token      string    `json:"-"`
	Enabled    bool      `json:"enabled"`
	LastSeenAt time.Time `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Validate checks device invariants.
func (d Device) Validate() error {
	if d.ID == "" {
		return errors.New("device: empty id")
	}
	if d.Name == "" {
		return errors.New("device: empty name")
	}
	if d.Token == "" {
		return errors.New("device: empty token")
	}
	return nil
}

// Repository manages device persistence.
type Repository interface {
	Get(ctx context.Context, id string) (*Device, error)
	GetByToken(ctx context.Context, token string) (*Device, error)
	List(ctx context.Context) ([]Device, error)
	Save(ctx context.Context, device *Device) error
	TouchLastSeen(ctx context.Context, id string, at time.Time) error
}
