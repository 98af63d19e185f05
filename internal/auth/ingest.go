package auth

import (
	"context"
	"net/http"
	"strings"

	devices "pumpwatch/internal/devices/domain"
)

const deviceTokenHeader = "X-Device-Token"

// DeviceResolver resolves an ingest token to a registered device.
type DeviceResolver interface {
	GetByToken(ctx context.Context, token string) (*devices.Device, error)
}

// IngestAuthMiddleware authenticates reporting devices by per-device token.
type IngestAuthMiddleware struct {
	resolver DeviceResolver
}

// NewIngestAuthMiddleware constructs ingest auth middleware.
func NewIngestAuthMiddleware(resolver DeviceResolver) *IngestAuthMiddleware {
	return &IngestAuthMiddleware{resolver: resolver}
}

// Wrap enforces device token validation and stores the device id in context.
func (m *IngestAuthMiddleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.resolver == nil {
			http.Error(w, "ingest auth not configured", http.StatusUnauthorized)
			return
		}
		token := strings.TrimSpace(r.Header.Get(deviceTokenHeader))
		if token == "" {
			http.Error(w, "missing device token", http.StatusUnauthorized)
			return
		}
		device, err := m.resolver.GetByToken(r.Context(), token)
		if err != nil {
			http.Error(w, "ingest auth failed", http.StatusInternalServerError)
			return
		}
		if device == nil || !device.Enabled {
			http.Error(w, "invalid device token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithDevice(r.Context(), device.ID)))
	})
}
