package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fixturelab/tournament-core/services"
)

type ResultHandler struct {
	results services.ResultService
}

func NewResultHandler(results services.ResultService) *ResultHandler {
	return &ResultHandler{results: results}
}

type submitResultRequest struct {
	// Placements keys are participant IDs; JSON objects force string keys.
	Placements       map[string]int `json:"placements"`
	IdempotencyToken string         `json:"idempotency_token"`
}

// SubmitResult handles POST /matches/{matchID}/result.
func (h *ResultHandler) SubmitResult(w http.ResponseWriter, r *http.Request) {
	matchID, err := strconv.Atoi(chi.URLParam(r, "matchID"))
	if err != nil {
		badRequestResponse(w, r, fmt.Errorf("invalid match id"))
		return
	}

	var req submitResultRequest
	if err := readJSON(w, r, &req); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if len(req.Placements) == 0 {
		badRequestResponse(w, r, fmt.Errorf("placements must not be empty"))
		return
	}

	placements := make(map[int]int, len(req.Placements))
	for rawID, placement := range req.Placements {
		participantID, err := strconv.Atoi(rawID)
		if err != nil {
			badRequestResponse(w, r, fmt.Errorf("invalid participant id %q in placements", rawID))
			return
		}
		placements[participantID] = placement
	}

	result, err := h.results.Submit(r.Context(), matchID, services.ResultSubmission{
		Placements:       placements,
		IdempotencyToken: req.IdempotencyToken,
	})
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusCreated, jsonResponse{"result": result}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
