package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fixturelab/tournament-core/services"
)

type MatchHandler struct {
	gate   services.GateService
	stages *services.StageService
}

func NewMatchHandler(gate services.GateService, stages *services.StageService) *MatchHandler {
	return &MatchHandler{gate: gate, stages: stages}
}

// CanStart handles GET /matches/{matchID}/can-start.
func (h *MatchHandler) CanStart(w http.ResponseWriter, r *http.Request) {
	matchID, err := strconv.Atoi(chi.URLParam(r, "matchID"))
	if err != nil {
		badRequestResponse(w, r, fmt.Errorf("invalid match id"))
		return
	}

	gate, err := h.gate.CanStart(r.Context(), matchID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, gate, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// GetBracket handles GET /stages/{stageID}/bracket.
func (h *MatchHandler) GetBracket(w http.ResponseWriter, r *http.Request) {
	stageID, err := strconv.Atoi(chi.URLParam(r, "stageID"))
	if err != nil {
		badRequestResponse(w, r, fmt.Errorf("invalid stage id"))
		return
	}

	stage, err := h.stages.GetBracketView(r.Context(), stageID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"stage": stage}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
