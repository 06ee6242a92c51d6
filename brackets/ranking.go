package brackets

import (
	"fmt"
	"sort"

	"github.com/fixturelab/tournament-core/models"
)

// TieBreakRule selects the secondary ordering applied when two participants
// hold equal total points. The rule is a required deployment input, not a
// silent default: Config validation rejects unknown values.
type TieBreakRule string

const (
	// TieBreakMatchesPlayed prefers the participant who reached the same
	// total in fewer matches.
	TieBreakMatchesPlayed TieBreakRule = "matches_played_asc"
	// TieBreakParticipantID orders tied participants by ID only. Useful for
	// deployments that want point ties left effectively unbroken but still
	// need a deterministic order.
	TieBreakParticipantID TieBreakRule = "participant_id_asc"
)

func (r TieBreakRule) Valid() bool {
	switch r {
	case TieBreakMatchesPlayed, TieBreakParticipantID:
		return true
	}
	return false
}

// RankGroup orders a group's ledger entries for qualification: total points
// descending, then the configured tie-break, with participant ID ascending as
// the final key so the result is always deterministic. The input slice is not
// modified.
func RankGroup(entries []*models.RankingEntry, rule TieBreakRule) ([]*models.RankingEntry, error) {
	if !rule.Valid() {
		return nil, fmt.Errorf("unknown tie-break rule %q", rule)
	}

	ranked := make([]*models.RankingEntry, len(entries))
	copy(ranked, entries)

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.TotalPoints != b.TotalPoints {
			return a.TotalPoints > b.TotalPoints
		}
		if rule == TieBreakMatchesPlayed && a.MatchesPlayed != b.MatchesPlayed {
			return a.MatchesPlayed < b.MatchesPlayed
		}
		return a.ParticipantID < b.ParticipantID
	})

	return ranked, nil
}
