package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fixturelab/tournament-core/services"
)

type StandingsHandler struct {
	standings services.StandingsProvider
}

func NewStandingsHandler(standings services.StandingsProvider) *StandingsHandler {
	return &StandingsHandler{standings: standings}
}

// GetStandings handles GET /tournaments/{tournamentID}/standings.
func (h *StandingsHandler) GetStandings(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := strconv.Atoi(chi.URLParam(r, "tournamentID"))
	if err != nil {
		badRequestResponse(w, r, fmt.Errorf("invalid tournament id"))
		return
	}

	rows, err := h.standings.GetStandings(r.Context(), tournamentID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"standings": rows}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
