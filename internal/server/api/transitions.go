package api

import (
	"net/http"

	"github.com/ayusman/gesturedog/internal/store"
)

// TransitionHandler serves recorded state changes.
type TransitionHandler struct {
	store *store.Store
}

// NewTransitionHandler creates a new TransitionHandler with the given store.
func NewTransitionHandler(s *store.Store) *TransitionHandler {
	return &TransitionHandler{store: s}
}

type transitionResponse struct {
	ID         int64   `json:"id"`
	SessionID  string  `json:"session_id"`
	From       string  `json:"from"`
	State      string  `json:"state"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
	CreatedAt  string  `json:"created_at"`
}

type listTransitionsResponse struct {
	Transitions []transitionResponse `json:"transitions"`
}

// ServeHTTP handles GET /api/transitions[?limit=n&session=id].
func (h *TransitionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit, ok := queryLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}

	var (
		rows []*store.Transition
		err  error
	)
	if session := r.URL.Query().Get("session"); session != "" {
		rows, err = h.store.Transitions().ListBySession(session)
	} else {
		rows, err = h.store.Transitions().List(limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list transitions")
		return
	}

	response := listTransitionsResponse{Transitions: make([]transitionResponse, 0, len(rows))}
	for _, t := range rows {
		response.Transitions = append(response.Transitions, transitionResponse{
			ID:         t.ID,
			SessionID:  t.SessionID,
			From:       t.From,
			State:      t.To,
			Label:      t.Label,
			Confidence: t.Confidence,
			Reason:     t.Reason,
			CreatedAt:  formatTime(t.CreatedAt),
		})
	}
	writeJSON(w, http.StatusOK, response)
}
