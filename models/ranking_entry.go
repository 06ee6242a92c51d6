package models

import "time"

// RankingEntry is one row of the tournament's cumulative ledger, created
// lazily on a participant's first aggregated result. TotalPoints and
// MatchesPlayed only ever grow. Version backs the optimistic concurrency
// check on every update.
type RankingEntry struct {
	ID            int       `json:"id" db:"id"`
	TournamentID  int       `json:"tournament_id" db:"tournament_id"`
	ParticipantID int       `json:"participant_id" db:"participant_id"`
	TotalPoints   int       `json:"total_points" db:"total_points"`
	MatchesPlayed int       `json:"matches_played" db:"matches_played"`
	Version       int       `json:"-" db:"version"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// StandingRow is the read-only projection returned by the standings query.
type StandingRow struct {
	ParticipantID int `json:"participant_id"`
	TotalPoints   int `json:"total_points"`
	MatchesPlayed int `json:"matches_played"`
}
