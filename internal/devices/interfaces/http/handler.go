package http

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	devices "pumpwatch/internal/devices/domain"
)

// Handler provides device registry HTTP endpoints.
type Handler struct {
	repo   devices.Repository
	logger *log.Logger
}

// NewHandler constructs a handler.
func NewHandler(repo devices.Repository, logger *log.Logger) (*Handler, error) {
	if repo == nil {
		return nil, errors.New("devices handler: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{repo: repo, logger: logger}, nil
}

// ServeHTTP handles /api/v1/devices and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/devices":
		switch r.Method {
		case http.MethodGet:
			h.handleList(w, r)
		case http.MethodPost:
			h.handleSave(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case strings.HasPrefix(r.URL.Path, "/api/v1/devices/"):
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleGet(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.repo.List(r.Context())
	if err != nil {
		h.logger.Printf("devices list: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []devices.Device{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/devices/")
	if id == "" || strings.Contains(id, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	device, err := h.repo.Get(r.Context(), id)
	if err != nil {
		h.logger.Printf("devices get: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if device == nil {
		http.Error(w, "device not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(device)
}

type saveRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
	Enabled  *bool  `json:"enabled"`
}

type saveResponse struct {
	devices.Device
	// Token is returned once at registration so it can be installed on
	// the controller; list and get responses never include it.
	Token string `json:"token,omitempty"`
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.ID == "" || req.Name == "" {
		http.Error(w, "id and name are required", http.StatusBadRequest)
		return
	}

	existing, err := h.repo.Get(r.Context(), req.ID)
	if err != nil {
		h.logger.Printf("devices save: get: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	now := time.Now().UTC()
	device := devices.Device{
		ID:        req.ID,
		Name:      req.Name,
		Location:  req.Location,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	issuedToken := ""
	if existing != nil {
		device.Token = existing.Token
		device.CreatedAt = existing.CreatedAt
		device.LastSeenAt = existing.LastSeenAt
		device.Enabled = existing.Enabled
	} else {
		token, err := newToken()
		if err != nil {
			h.logger.Printf("devices save: token: %v", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		device.Token = token
		issuedToken = token
	}
	if req.Enabled != nil {
		device.Enabled = *req.Enabled
	}

	if err := device.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.repo.Save(r.Context(), &device); err != nil {
		h.logger.Printf("devices save: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	if existing == nil {
		status = http.StatusCreated
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(saveResponse{Device: device, Token: issuedToken})
}

func newToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
