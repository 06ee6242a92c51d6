package models

import "time"

// StageStatus mirrors the ENUM on the stages table.
type StageStatus string

const (
	StageNotStarted StageStatus = "not_started"
	StageInProgress StageStatus = "in_progress"
	StageComplete   StageStatus = "complete"
)

type StageKind string

const (
	StageKindGroup    StageKind = "group"
	StageKindKnockout StageKind = "knockout"
)

// Stage is a phase of a tournament: a group or a knockout round.
// Status moves not_started -> in_progress -> complete; complete is terminal.
// Resolved flips once the stage's standings have been propagated into
// downstream bracket slots.
type Stage struct {
	ID           int         `json:"id" db:"id"`
	TournamentID int         `json:"tournament_id" db:"tournament_id"`
	Name         string      `json:"name" db:"name"`
	Kind         StageKind   `json:"kind" db:"kind"`
	GroupCode    *string     `json:"group_code,omitempty" db:"group_code"`
	Status       StageStatus `json:"status" db:"status"`
	Resolved     bool        `json:"resolved" db:"resolved"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`

	// Populated by services, not mapped directly.
	Matches []*Match `json:"matches,omitempty" db:"-"`
}
