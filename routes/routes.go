package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/fixturelab/tournament-core/handlers"
	"github.com/fixturelab/tournament-core/middleware"
)

// SetupRoutes wires the pipeline's HTTP surface: one authenticated mutation
// (result submission) and the read-only projections.
func SetupRoutes(
	router *chi.Mux,
	jwtSecret string,
	resultHandler *handlers.ResultHandler,
	matchHandler *handlers.MatchHandler,
	standingsHandler *handlers.StandingsHandler,
	webSocketHandler *handlers.WebSocketHandler,
) {
	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	router.Route("/matches", func(r chi.Router) {
		r.Get("/{matchID}/can-start", matchHandler.CanStart)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(jwtSecret))
			r.Use(middleware.Authorize("referee", "organizer"))

			r.Post("/{matchID}/result", resultHandler.SubmitResult)
		})
	})

	router.Get("/stages/{stageID}/bracket", matchHandler.GetBracket)
	router.Get("/tournaments/{tournamentID}/standings", standingsHandler.GetStandings)
	router.Get("/ws/tournaments/{tournamentID}", webSocketHandler.ServeWs)
}
