package models

import "time"

// MatchResult is the single authoritative result record for a match.
// Placements hold the raw submitted finishing positions (1-based), Ranks the
// derived tie-compressed ordering, Points the per-participant award computed
// from the scoring table. TournamentID and StageID are denormalized from the
// match so aggregation and stage evaluation need no extra lookups.
type MatchResult struct {
	ID               string      `json:"id" db:"id"`
	MatchID          int         `json:"match_id" db:"match_id"`
	StageID          int         `json:"stage_id" db:"stage_id"`
	TournamentID     int         `json:"tournament_id" db:"tournament_id"`
	Placements       map[int]int `json:"placements" db:"placements"`
	Ranks            map[int]int `json:"ranks" db:"ranks"`
	Points           map[int]int `json:"points" db:"points"`
	IdempotencyToken string      `json:"idempotency_token" db:"idempotency_token"`
	SubmittedAt      time.Time   `json:"submitted_at" db:"submitted_at"`
}
