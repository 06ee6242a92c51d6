package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/fixturelab/tournament-core/models"
	"github.com/fixturelab/tournament-core/repositories"
	"github.com/fixturelab/tournament-core/scoring"
)

// ResultSubmission is the caller-supplied payload for one match outcome.
type ResultSubmission struct {
	// Placements maps participant ID to 1-based finishing position.
	Placements map[int]int
	// IdempotencyToken makes retries safe: a replay with the same token
	// returns the stored result unchanged.
	IdempotencyToken string
}

// ResultService records match outcomes. It is the sole mutation entry point
// of the pipeline.
type ResultService interface {
	Submit(ctx context.Context, matchID int, sub ResultSubmission) (*models.MatchResult, error)
}

type resultService struct {
	txRunner   repositories.TxRunner
	matchRepo  repositories.MatchRepository
	resultRepo repositories.MatchResultRepository
	stageRepo  repositories.StageRepository
	aggregator RankingAggregator
	logger     *slog.Logger
}

func NewResultService(
	txRunner repositories.TxRunner,
	matchRepo repositories.MatchRepository,
	resultRepo repositories.MatchResultRepository,
	stageRepo repositories.StageRepository,
	aggregator RankingAggregator,
	logger *slog.Logger,
) ResultService {
	return &resultService{
		txRunner:   txRunner,
		matchRepo:  matchRepo,
		resultRepo: resultRepo,
		stageRepo:  stageRepo,
		aggregator: aggregator,
		logger:     logger,
	}
}

// Submit validates the submission, then atomically persists the raw outcome,
// the derived tie-compressed ranks, the per-participant point awards and the
// match completion flag. On success it hands the result to the aggregator
// exactly once; a replay with the same token takes the stored-result path and
// re-drives aggregation, which is an idempotent no-op once applied.
func (s *resultService) Submit(ctx context.Context, matchID int, sub ResultSubmission) (*models.MatchResult, error) {
	if sub.IdempotencyToken == "" {
		return nil, ErrTokenRequired
	}

	match, err := s.matchRepo.GetByID(ctx, nil, matchID)
	if err != nil {
		if errors.Is(err, repositories.ErrMatchNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to load match %d: %w", matchID, err)
	}

	expected := match.ExpectedParticipants()
	if expected == nil {
		return nil, ErrParticipantsUndetermined
	}

	if match.Completed {
		return s.replayOrConflict(ctx, match, sub.IdempotencyToken)
	}

	if err := validateParticipantSet(expected, sub.Placements); err != nil {
		return nil, err
	}
	if err := validatePlacements(match.Format, sub.Placements); err != nil {
		return nil, err
	}

	ranks := deriveRanks(sub.Placements)
	points := make(map[int]int, len(ranks))
	for participantID, rank := range ranks {
		award, err := scoring.Points(match.Format, rank, len(expected))
		if err != nil {
			return nil, fmt.Errorf("failed to score participant %d: %w", participantID, err)
		}
		points[participantID] = award
	}

	result := &models.MatchResult{
		ID:               uuid.NewString(),
		MatchID:          match.ID,
		StageID:          match.StageID,
		TournamentID:     match.TournamentID,
		Placements:       sub.Placements,
		Ranks:            ranks,
		Points:           points,
		IdempotencyToken: sub.IdempotencyToken,
		SubmittedAt:      time.Now().UTC(),
	}

	err = s.txRunner.RunInTx(ctx, func(tx repositories.SQLExecutor) error {
		if err := s.resultRepo.Create(ctx, tx, result); err != nil {
			return err
		}
		if err := s.matchRepo.MarkCompleted(ctx, tx, match.ID); err != nil {
			return err
		}
		// First result of a stage flips it to in_progress; losing this CAS
		// just means another submission already did.
		return s.stageRepo.MarkInProgress(ctx, tx, match.StageID)
	})
	if err != nil {
		if errors.Is(err, repositories.ErrMatchResultExists) {
			// Lost the first-submission race; resolve against the winner.
			return s.replayOrConflict(ctx, match, sub.IdempotencyToken)
		}
		return nil, fmt.Errorf("failed to persist result for match %d: %w", matchID, err)
	}

	s.logger.Info("match result recorded",
		slog.Int("match_id", match.ID),
		slog.Int("stage_id", match.StageID),
		slog.String("result_id", result.ID),
	)

	if err := s.aggregator.Apply(ctx, result); err != nil {
		// The result itself is committed; aggregation is re-driven by a retry
		// with the same token or by the sweeper.
		s.logger.Error("aggregation failed for recorded result",
			slog.String("result_id", result.ID), slog.Any("error", err))
		return nil, err
	}

	return result, nil
}

// replayOrConflict distinguishes the idempotent-replay success path from a
// conflicting resubmission.
func (s *resultService) replayOrConflict(ctx context.Context, match *models.Match, token string) (*models.MatchResult, error) {
	existing, err := s.resultRepo.GetByMatchID(ctx, nil, match.ID)
	if err != nil {
		if errors.Is(err, repositories.ErrMatchResultNotFound) {
			// Completed flag without a result row should be impossible given
			// the transactional write.
			return nil, fmt.Errorf("match %d completed but has no result: %w", match.ID, ErrResultNotFound)
		}
		return nil, fmt.Errorf("failed to load existing result for match %d: %w", match.ID, err)
	}

	if existing.IdempotencyToken != token {
		return nil, ErrMatchAlreadyResolved
	}

	s.logger.Info("duplicate submission replayed",
		slog.Int("match_id", match.ID), slog.String("result_id", existing.ID))

	// Re-drive aggregation in case the original attempt was interrupted; a
	// no-op when the result is already in the applied-set.
	if err := s.aggregator.Apply(ctx, existing); err != nil {
		s.logger.Error("aggregation failed on replay",
			slog.String("result_id", existing.ID), slog.Any("error", err))
		return nil, err
	}

	return existing, nil
}

func validateParticipantSet(expected []int, placements map[int]int) error {
	expectedSet := make(map[int]bool, len(expected))
	for _, id := range expected {
		expectedSet[id] = true
	}

	var extra []int
	for id := range placements {
		if !expectedSet[id] {
			extra = append(extra, id)
		}
	}

	var missing []int
	for _, id := range expected {
		if _, ok := placements[id]; !ok {
			missing = append(missing, id)
		}
	}

	if len(extra) > 0 || len(missing) > 0 {
		sort.Ints(extra)
		sort.Ints(missing)
		return &ResultValidationError{
			Rule:    ErrParticipantMismatch,
			Missing: missing,
			Extra:   extra,
		}
	}
	return nil
}

func validatePlacements(format models.MatchFormat, placements map[int]int) error {
	seen := make(map[int][]int)
	for participantID, placement := range placements {
		if placement < 1 {
			return &ResultValidationError{
				Rule:   ErrInvalidPlacement,
				Detail: fmt.Sprintf("participant %d has non-positive placement %d", participantID, placement),
			}
		}
		seen[placement] = append(seen[placement], participantID)
	}

	if format.AllowsTies() {
		return nil
	}
	for placement, participants := range seen {
		if len(participants) > 1 {
			sort.Ints(participants)
			return &ResultValidationError{
				Rule:   ErrInvalidPlacement,
				Detail: fmt.Sprintf("format %s does not allow ties, placement %d shared by %v", format, placement, participants),
			}
		}
	}
	return nil
}

// deriveRanks converts raw placements into competition ranking: equal
// placements map to equal ranks and subsequent ranks are compressed past the
// tied block (1,1,3,4). Sparse placements normalize the same way, so 2,5,9
// ranks as 1,2,3.
func deriveRanks(placements map[int]int) map[int]int {
	ordered := make([]int, 0, len(placements))
	for participantID := range placements {
		ordered = append(ordered, participantID)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if placements[ordered[i]] != placements[ordered[j]] {
			return placements[ordered[i]] < placements[ordered[j]]
		}
		return ordered[i] < ordered[j]
	})

	ranks := make(map[int]int, len(ordered))
	for i, participantID := range ordered {
		if i > 0 && placements[participantID] == placements[ordered[i-1]] {
			ranks[participantID] = ranks[ordered[i-1]]
			continue
		}
		ranks[participantID] = i + 1
	}
	return ranks
}
