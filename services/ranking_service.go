package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/fixturelab/tournament-core/brackets"
	"github.com/fixturelab/tournament-core/models"
	"github.com/fixturelab/tournament-core/repositories"
)

// RankingAggregator applies a recorded result's point awards to the
// tournament ledger, exactly once per result.
type RankingAggregator interface {
	Apply(ctx context.Context, result *models.MatchResult) error
}

// StandingsProvider is the read-only ledger projection.
type StandingsProvider interface {
	GetStandings(ctx context.Context, tournamentID int) ([]models.StandingRow, error)
}

// Notifier decouples services from the websocket hub.
type Notifier interface {
	BroadcastToRoom(roomID string, message interface{})
}

const (
	// maxLedgerAttempts bounds the optimistic retry loop before the
	// contention is surfaced as ErrLedgerConflict.
	maxLedgerAttempts = 5
	ledgerRetryDelay  = 25 * time.Millisecond
)

type RankingService struct {
	txRunner    repositories.TxRunner
	rankingRepo repositories.RankingRepository
	resultRepo  repositories.MatchResultRepository
	tracker     StageCompletionTracker
	hub         Notifier
	logger      *slog.Logger
}

func NewRankingService(
	txRunner repositories.TxRunner,
	rankingRepo repositories.RankingRepository,
	resultRepo repositories.MatchResultRepository,
	tracker StageCompletionTracker,
	hub Notifier,
	logger *slog.Logger,
) *RankingService {
	return &RankingService{
		txRunner:    txRunner,
		rankingRepo: rankingRepo,
		resultRepo:  resultRepo,
		tracker:     tracker,
		hub:         hub,
		logger:      logger,
	}
}

// Apply adds the result's per-participant points to the ledger inside one
// transaction that also inserts the result into the durable applied-set. A
// result already in the applied-set is a no-op, so redelivery and process
// restarts never double-apply. Version conflicts retry the whole transaction
// a bounded number of times.
//
// Regardless of whether this call did the ledger write, stage completion is
// re-evaluated afterwards, so a crash between aggregation and evaluation
// heals on the next delivery.
func (s *RankingService) Apply(ctx context.Context, result *models.MatchResult) error {
	var applied bool

	for attempt := 1; ; attempt++ {
		var err error
		applied, err = s.applyOnce(ctx, result)
		if err == nil {
			break
		}
		if !errors.Is(err, repositories.ErrRankingVersionConflict) {
			return fmt.Errorf("failed to aggregate result %s: %w", result.ID, err)
		}
		if attempt >= maxLedgerAttempts {
			s.logger.Warn("ledger contention exhausted retries",
				slog.String("result_id", result.ID), slog.Int("attempts", attempt))
			return fmt.Errorf("%w: result %s after %d attempts", ErrLedgerConflict, result.ID, attempt)
		}

		select {
		case <-time.After(ledgerRetryDelay * time.Duration(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if applied {
		s.logger.Info("result aggregated",
			slog.String("result_id", result.ID),
			slog.Int("tournament_id", result.TournamentID),
			slog.Int("participants", len(result.Points)),
		)
		s.hub.BroadcastToRoom(tournamentRoom(result.TournamentID), brackets.Message{
			Type:    brackets.EventStandingsUpdated,
			Payload: map[string]int{"tournament_id": result.TournamentID, "match_id": result.MatchID},
		})
	}

	if _, err := s.tracker.Evaluate(ctx, result.StageID); err != nil {
		// The ledger write is committed; completion evaluation is re-driven
		// by the next aggregation or the sweeper.
		s.logger.Error("stage evaluation failed after aggregation",
			slog.Int("stage_id", result.StageID), slog.Any("error", err))
	}
	return nil
}

// applyOnce runs a single transactional aggregation attempt. Returns
// (false, nil) when the result was already applied.
func (s *RankingService) applyOnce(ctx context.Context, result *models.MatchResult) (bool, error) {
	alreadyApplied := false

	err := s.txRunner.RunInTx(ctx, func(tx repositories.SQLExecutor) error {
		if err := s.resultRepo.MarkApplied(ctx, tx, result.ID); err != nil {
			if errors.Is(err, repositories.ErrResultAlreadyApplied) {
				alreadyApplied = true
				return nil
			}
			return err
		}

		// Deterministic participant order keeps concurrent aggregations from
		// deadlocking on row locks.
		participantIDs := make([]int, 0, len(result.Points))
		for id := range result.Points {
			participantIDs = append(participantIDs, id)
		}
		sort.Ints(participantIDs)

		for _, participantID := range participantIDs {
			entry, err := s.rankingRepo.GetOrCreate(ctx, tx, result.TournamentID, participantID)
			if err != nil {
				return err
			}
			if err := s.rankingRepo.ApplyDelta(ctx, tx, entry.ID, result.Points[participantID], entry.Version); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return !alreadyApplied, nil
}

// GetStandings returns the ordered ledger projection for a tournament.
func (s *RankingService) GetStandings(ctx context.Context, tournamentID int) ([]models.StandingRow, error) {
	entries, err := s.rankingRepo.ListByTournament(ctx, nil, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list standings for tournament %d: %w", tournamentID, err)
	}

	rows := make([]models.StandingRow, len(entries))
	for i, e := range entries {
		rows[i] = models.StandingRow{
			ParticipantID: e.ParticipantID,
			TotalPoints:   e.TotalPoints,
			MatchesPlayed: e.MatchesPlayed,
		}
	}
	return rows, nil
}

func tournamentRoom(tournamentID int) string {
	return fmt.Sprintf("tournament_%d", tournamentID)
}
