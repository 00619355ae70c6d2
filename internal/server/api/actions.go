package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ayusman/gesturedog/internal/store"
)

// ActionHandler serves dispatched action runs.
type ActionHandler struct {
	store *store.Store
}

// NewActionHandler creates a new ActionHandler with the given store.
func NewActionHandler(s *store.Store) *ActionHandler {
	return &ActionHandler{store: s}
}

// ServeHTTP routes /api/actions and /api/actions/{id}.
func (h *ActionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/actions")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		h.list(w, r)
		return
	}
	h.get(w, path)
}

type actionRunResponse struct {
	ID         string `json:"id"`
	SessionID  string `json:"session_id"`
	State      string `json:"state"`
	Action     string `json:"action"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
}

type listActionsResponse struct {
	Actions []actionRunResponse `json:"actions"`
}

func toActionRunResponse(run *store.ActionRun) actionRunResponse {
	resp := actionRunResponse{
		ID:        run.ID,
		SessionID: run.SessionID,
		State:     run.State,
		Action:    run.Action,
		Status:    run.Status,
		Error:     run.Error,
		StartedAt: formatTime(run.StartedAt),
	}
	if run.FinishedAt != nil {
		resp.FinishedAt = formatTime(*run.FinishedAt)
	}
	return resp
}

// list handles GET /api/actions.
func (h *ActionHandler) list(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}

	runs, err := h.store.ActionRuns().List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list actions")
		return
	}

	response := listActionsResponse{Actions: make([]actionRunResponse, 0, len(runs))}
	for _, run := range runs {
		response.Actions = append(response.Actions, toActionRunResponse(run))
	}
	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/actions/{id}.
func (h *ActionHandler) get(w http.ResponseWriter, id string) {
	run, err := h.store.ActionRuns().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Action not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get action")
		return
	}
	writeJSON(w, http.StatusOK, toActionRunResponse(run))
}
