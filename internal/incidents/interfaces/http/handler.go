package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"pumpwatch/internal/audit"
	"pumpwatch/internal/auth"
	"pumpwatch/internal/incidents/application"
	incidents "pumpwatch/internal/incidents/domain"
)

const timeLayout = time.RFC3339

// Handler provides incident HTTP endpoints for operators.
type Handler struct {
	tracker     *application.Tracker
	auditLogger audit.Logger
	logger      *log.Logger
}

// NewHandler constructs a handler.
func NewHandler(tracker *application.Tracker, auditLogger audit.Logger, logger *log.Logger) (*Handler, error) {
	if tracker == nil {
		return nil, errors.New("incidents handler: nil tracker")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{tracker: tracker, auditLogger: auditLogger, logger: logger}, nil
}

// ServeHTTP handles /api/v1/incidents and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/incidents":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleList(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/incidents/"):
		h.handleAction(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	device := r.URL.Query().Get("device")
	status := r.URL.Query().Get("status")
	switch status {
	case "", "active", "inactive":
	default:
		respondError(w, http.StatusBadRequest, "status must be active or inactive")
		return
	}
	from, err := parseOptionalTime(r, "from")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseOptionalTime(r, "to")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !from.IsZero() && !to.IsZero() && !to.After(from) {
		respondError(w, http.StatusBadRequest, "to must be after from")
		return
	}

	list, err := h.tracker.ListIncidents(r.Context(), device, status, from, to)
	if err != nil {
		h.logger.Printf("incidents list: %v", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if list == nil {
		list = []incidents.Incident{}
	}
	respondJSON(w, http.StatusOK, list)
}

type actionRequest struct {
	Action string `json:"action"`
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/incidents/")
	if id == "" || strings.Contains(id, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method == http.MethodGet {
		h.handleGet(w, r, id)
		return
	}
	if r.Method != http.MethodPatch && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json")
		return
	}

	actor := auth.SubjectFromContext(r.Context())
	if actor == "" {
		actor = "operator"
	}

	var (
		incident *incidents.Incident
		err      error
	)
	switch req.Action {
	case "acknowledge":
		incident, err = h.tracker.Acknowledge(r.Context(), id, actor)
	case "resolve":
		incident, err = h.tracker.ResolveManually(r.Context(), id)
	default:
		respondError(w, http.StatusBadRequest, "action must be acknowledge or resolve")
		return
	}
	if err != nil {
		if errors.Is(err, incidents.ErrNotFound) {
			respondError(w, http.StatusNotFound, "incident not found")
			return
		}
		h.logger.Printf("incident %s: %v", req.Action, err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if h.auditLogger != nil {
		auditErr := h.auditLogger.Log(r.Context(), audit.Entry{
			Actor:        actor,
			Role:         string(auth.RoleFromContext(r.Context())),
			Action:       "incident." + req.Action,
			ResourceType: "incident",
			ResourceID:   incident.ID,
			Device:       incident.Device,
			IP:           audit.ClientIP(r),
			UserAgent:    r.UserAgent(),
		})
		if auditErr != nil {
			h.logger.Printf("audit log: incident.%s %s: %v", req.Action, incident.ID, auditErr)
		}
	}

	respondJSON(w, http.StatusOK, incident)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	incident, err := h.tracker.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Printf("incident get: %v", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if incident == nil {
		respondError(w, http.StatusNotFound, "incident not found")
		return
	}
	respondJSON(w, http.StatusOK, incident)
}

func parseOptionalTime(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}
