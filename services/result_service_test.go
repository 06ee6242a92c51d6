package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixturelab/tournament-core/models"
)

func placementMatch(id, stageID int, participants ...int) *models.Match {
	return &models.Match{
		ID:             id,
		TournamentID:   1,
		StageID:        stageID,
		Format:         models.FormatPlacement,
		ParticipantIDs: participants,
	}
}

func newResultService(matchRepo *fakeMatchRepo, resultRepo *fakeResultRepo, stageRepo *fakeStageRepo, aggregator *fakeAggregator) ResultService {
	return NewResultService(fakeTxRunner{}, matchRepo, resultRepo, stageRepo, aggregator, testLogger())
}

// TestSubmit_RecordsAndScoresPlacement checks the happy path: a four-player
// placement result is persisted with ranks and 3/2/1/0 awards, the match
// completes and the stage leaves not_started.
func TestSubmit_RecordsAndScoresPlacement(t *testing.T) {
	matchRepo := newFakeMatchRepo(placementMatch(1, 10, 101, 102, 103, 104))
	resultRepo := newFakeResultRepo()
	stageRepo := newFakeStageRepo(groupStage(10, "A", models.StageNotStarted))
	aggregator := &fakeAggregator{}
	svc := newResultService(matchRepo, resultRepo, stageRepo, aggregator)

	result, err := svc.Submit(context.Background(), 1, ResultSubmission{
		Placements:       map[int]int{101: 1, 102: 2, 103: 3, 104: 4},
		IdempotencyToken: "tok-1",
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.NotEmpty(t, result.ID)
	assert.Equal(t, map[int]int{101: 1, 102: 2, 103: 3, 104: 4}, result.Ranks)
	assert.Equal(t, map[int]int{101: 3, 102: 2, 103: 1, 104: 0}, result.Points)

	stored, err := matchRepo.GetByID(context.Background(), nil, 1)
	require.NoError(t, err)
	assert.True(t, stored.Completed)

	stage, err := stageRepo.GetByID(context.Background(), nil, 10)
	require.NoError(t, err)
	assert.Equal(t, models.StageInProgress, stage.Status)

	assert.Equal(t, 1, aggregator.count())
}

// TestSubmit_TieCompressesRanks checks competition ranking: tied placements
// share a rank and the next rank skips past the tied block.
func TestSubmit_TieCompressesRanks(t *testing.T) {
	matchRepo := newFakeMatchRepo(placementMatch(1, 10, 101, 102, 103, 104))
	stageRepo := newFakeStageRepo(groupStage(10, "A", models.StageNotStarted))
	svc := newResultService(matchRepo, newFakeResultRepo(), stageRepo, &fakeAggregator{})

	result, err := svc.Submit(context.Background(), 1, ResultSubmission{
		Placements:       map[int]int{101: 1, 102: 1, 103: 2, 104: 3},
		IdempotencyToken: "tok-1",
	})
	require.NoError(t, err)

	assert.Equal(t, map[int]int{101: 1, 102: 1, 103: 3, 104: 4}, result.Ranks)
	// Both rank-1 participants share the rank-1 award.
	assert.Equal(t, result.Points[101], result.Points[102])
	assert.Equal(t, 3, result.Points[101])
}

// TestSubmit_SparsePlacementsNormalize checks that non-contiguous placements
// (2, 5, 9) rank the same as (1, 2, 3).
func TestSubmit_SparsePlacementsNormalize(t *testing.T) {
	matchRepo := newFakeMatchRepo(placementMatch(1, 10, 101, 102, 103))
	stageRepo := newFakeStageRepo(groupStage(10, "A", models.StageNotStarted))
	svc := newResultService(matchRepo, newFakeResultRepo(), stageRepo, &fakeAggregator{})

	result, err := svc.Submit(context.Background(), 1, ResultSubmission{
		Placements:       map[int]int{101: 2, 102: 5, 103: 9},
		IdempotencyToken: "tok-1",
	})
	require.NoError(t, err)
	assert.Equal(t, map[int]int{101: 1, 102: 2, 103: 3}, result.Ranks)
}

// TestSubmit_ReplaySameTokenReturnsStoredResult checks idempotent replay: the
// second submission with the same token succeeds without writing anything new.
func TestSubmit_ReplaySameTokenReturnsStoredResult(t *testing.T) {
	matchRepo := newFakeMatchRepo(placementMatch(1, 10, 101, 102))
	resultRepo := newFakeResultRepo()
	stageRepo := newFakeStageRepo(groupStage(10, "A", models.StageNotStarted))
	aggregator := &fakeAggregator{}
	svc := newResultService(matchRepo, resultRepo, stageRepo, aggregator)

	sub := ResultSubmission{
		Placements:       map[int]int{101: 1, 102: 2},
		IdempotencyToken: "tok-1",
	}
	first, err := svc.Submit(context.Background(), 1, sub)
	require.NoError(t, err)

	second, err := svc.Submit(context.Background(), 1, sub)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Points, second.Points)

	// Replay re-drives aggregation; the applied-set makes it a no-op downstream.
	assert.Equal(t, 2, aggregator.count())
}

// TestSubmit_ConflictingTokenRejected checks that a different token against a
// recorded result is rejected and never overwrites.
func TestSubmit_ConflictingTokenRejected(t *testing.T) {
	matchRepo := newFakeMatchRepo(placementMatch(1, 10, 101, 102))
	resultRepo := newFakeResultRepo()
	stageRepo := newFakeStageRepo(groupStage(10, "A", models.StageNotStarted))
	svc := newResultService(matchRepo, resultRepo, stageRepo, &fakeAggregator{})

	first, err := svc.Submit(context.Background(), 1, ResultSubmission{
		Placements:       map[int]int{101: 1, 102: 2},
		IdempotencyToken: "tok-1",
	})
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), 1, ResultSubmission{
		Placements:       map[int]int{101: 2, 102: 1},
		IdempotencyToken: "tok-2",
	})
	assert.ErrorIs(t, err, ErrMatchAlreadyResolved)

	stored, err := resultRepo.GetByMatchID(context.Background(), nil, 1)
	require.NoError(t, err)
	assert.Equal(t, first.Placements, stored.Placements)
}

// TestSubmit_TokenRequired rejects submissions without an idempotency token.
func TestSubmit_TokenRequired(t *testing.T) {
	svc := newResultService(newFakeMatchRepo(), newFakeResultRepo(), newFakeStageRepo(), &fakeAggregator{})

	_, err := svc.Submit(context.Background(), 1, ResultSubmission{
		Placements: map[int]int{101: 1},
	})
	assert.ErrorIs(t, err, ErrTokenRequired)
}

// TestSubmit_UnknownMatch surfaces the not-found sentinel.
func TestSubmit_UnknownMatch(t *testing.T) {
	svc := newResultService(newFakeMatchRepo(), newFakeResultRepo(), newFakeStageRepo(), &fakeAggregator{})

	_, err := svc.Submit(context.Background(), 99, ResultSubmission{
		Placements:       map[int]int{101: 1},
		IdempotencyToken: "tok-1",
	})
	assert.ErrorIs(t, err, ErrMatchNotFound)
}

// TestSubmit_ParticipantMismatch rejects submissions whose participant set
// differs from the match's expected set, reporting both directions.
func TestSubmit_ParticipantMismatch(t *testing.T) {
	matchRepo := newFakeMatchRepo(placementMatch(1, 10, 101, 102, 103))
	stageRepo := newFakeStageRepo(groupStage(10, "A", models.StageNotStarted))
	svc := newResultService(matchRepo, newFakeResultRepo(), stageRepo, &fakeAggregator{})

	_, err := svc.Submit(context.Background(), 1, ResultSubmission{
		Placements:       map[int]int{101: 1, 102: 2, 999: 3},
		IdempotencyToken: "tok-1",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParticipantMismatch)

	var vErr *ResultValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, []int{103}, vErr.Missing)
	assert.Equal(t, []int{999}, vErr.Extra)
}

// TestSubmit_NonPositivePlacementRejected rejects zero or negative placements.
func TestSubmit_NonPositivePlacementRejected(t *testing.T) {
	matchRepo := newFakeMatchRepo(placementMatch(1, 10, 101, 102))
	stageRepo := newFakeStageRepo(groupStage(10, "A", models.StageNotStarted))
	svc := newResultService(matchRepo, newFakeResultRepo(), stageRepo, &fakeAggregator{})

	_, err := svc.Submit(context.Background(), 1, ResultSubmission{
		Placements:       map[int]int{101: 0, 102: 1},
		IdempotencyToken: "tok-1",
	})
	assert.ErrorIs(t, err, ErrInvalidPlacement)
}

// TestSubmit_HeadToHeadRejectsTies checks that the head_to_head format does
// not accept shared placements.
func TestSubmit_HeadToHeadRejectsTies(t *testing.T) {
	match := &models.Match{
		ID:             1,
		TournamentID:   1,
		StageID:        10,
		Format:         models.FormatHeadToHead,
		ParticipantIDs: []int{101, 102},
	}
	stageRepo := newFakeStageRepo(groupStage(10, "A", models.StageNotStarted))
	svc := newResultService(newFakeMatchRepo(match), newFakeResultRepo(), stageRepo, &fakeAggregator{})

	_, err := svc.Submit(context.Background(), 1, ResultSubmission{
		Placements:       map[int]int{101: 1, 102: 1},
		IdempotencyToken: "tok-1",
	})
	assert.ErrorIs(t, err, ErrInvalidPlacement)
}

// TestSubmit_UndeterminedBracketSlotRejected checks that a knockout match
// whose slots are still empty cannot take a result.
func TestSubmit_UndeterminedBracketSlotRejected(t *testing.T) {
	match := &models.Match{
		ID:           1,
		TournamentID: 1,
		StageID:      20,
		Format:       models.FormatHeadToHead,
		BracketUID:   strPtr("SF1"),
	}
	svc := newResultService(newFakeMatchRepo(match), newFakeResultRepo(), newFakeStageRepo(), &fakeAggregator{})

	_, err := svc.Submit(context.Background(), 1, ResultSubmission{
		Placements:       map[int]int{101: 1, 102: 2},
		IdempotencyToken: "tok-1",
	})
	assert.ErrorIs(t, err, ErrParticipantsUndetermined)
}

// TestSubmit_ResolvedBracketSlotAcceptsResult checks that a knockout match
// accepts results once both slots are populated.
func TestSubmit_ResolvedBracketSlotAcceptsResult(t *testing.T) {
	match := &models.Match{
		ID:                 1,
		TournamentID:       1,
		StageID:            20,
		Format:             models.FormatHeadToHead,
		BracketUID:         strPtr("SF1"),
		Slot1ParticipantID: intPtr(101),
		Slot2ParticipantID: intPtr(102),
	}
	stageRepo := newFakeStageRepo(&models.Stage{
		ID: 20, TournamentID: 1, Name: "Semifinals",
		Kind: models.StageKindKnockout, Status: models.StageNotStarted,
	})
	svc := newResultService(newFakeMatchRepo(match), newFakeResultRepo(), stageRepo, &fakeAggregator{})

	result, err := svc.Submit(context.Background(), 1, ResultSubmission{
		Placements:       map[int]int{101: 1, 102: 2},
		IdempotencyToken: "tok-1",
	})
	require.NoError(t, err)
	assert.Equal(t, map[int]int{101: 3, 102: 0}, result.Points)
}
