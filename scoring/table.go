package scoring

import (
	"fmt"

	"github.com/fixturelab/tournament-core/models"
)

const (
	headToHeadWinPoints = 3
)

// Points maps (format, derived rank, participant count) to the points awarded
// to a participant finishing at that rank. It is a pure function: the same
// inputs always produce the same award.
//
// placement: count-1 points for 1st down to 0 for last, so a four-player
// match awards 3/2/1/0. Tied participants share the rank they compressed to
// and therefore the same award.
//
// head_to_head: 3 points for the winner, 0 for the loser.
func Points(format models.MatchFormat, rank, participantCount int) (int, error) {
	if rank < 1 || rank > participantCount {
		return 0, fmt.Errorf("rank %d out of range for %d participants", rank, participantCount)
	}

	switch format {
	case models.FormatPlacement:
		return participantCount - rank, nil
	case models.FormatHeadToHead:
		if participantCount != 2 {
			return 0, fmt.Errorf("head_to_head requires exactly 2 participants, got %d", participantCount)
		}
		if rank == 1 {
			return headToHeadWinPoints, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("unsupported match format %q", format)
	}
}
