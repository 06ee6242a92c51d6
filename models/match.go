package models

import "time"

// MatchFormat selects the scoring scheme for a match's results.
type MatchFormat string

const (
	// FormatPlacement ranks every participant by finishing position.
	FormatPlacement MatchFormat = "placement"
	// FormatHeadToHead is a two-participant winner/loser match.
	FormatHeadToHead MatchFormat = "head_to_head"
)

// AllowsTies reports whether equal placements are legal for the format.
// Tied placements compress to equal ranks (1,1,3,...).
func (f MatchFormat) AllowsTies() bool {
	return f == FormatPlacement
}

// Match is one scheduled contest. Group-stage matches carry their expected
// participant set from scheduling. Knockout matches start as bracket slots:
// Slot1/Slot2 are NULL until the upstream group resolves, and are written
// exactly once.
type Match struct {
	ID                 int         `json:"id" db:"id"`
	TournamentID       int         `json:"tournament_id" db:"tournament_id"`
	StageID            int         `json:"stage_id" db:"stage_id"`
	Format             MatchFormat `json:"format" db:"format"`
	ParticipantIDs     []int       `json:"participant_ids,omitempty" db:"participant_ids"`
	Slot1ParticipantID *int        `json:"slot1_participant_id,omitempty" db:"slot1_participant_id"`
	Slot2ParticipantID *int        `json:"slot2_participant_id,omitempty" db:"slot2_participant_id"`
	BracketUID         *string     `json:"bracket_uid,omitempty" db:"bracket_uid"`
	Completed          bool        `json:"completed" db:"completed"`
	CreatedAt          time.Time   `json:"created_at" db:"created_at"`
}

// ExpectedParticipants returns the participant set a result submission must
// cover exactly, or nil while a bracket slot's participants are still
// undetermined.
func (m *Match) ExpectedParticipants() []int {
	if len(m.ParticipantIDs) > 0 {
		return m.ParticipantIDs
	}
	if m.Slot1ParticipantID != nil && m.Slot2ParticipantID != nil {
		return []int{*m.Slot1ParticipantID, *m.Slot2ParticipantID}
	}
	return nil
}
