package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/fixturelab/tournament-core/brackets"
	"github.com/fixturelab/tournament-core/models"
	"github.com/fixturelab/tournament-core/repositories"
)

// StageCompletionTracker decides whether a stage has produced results for all
// of its matches and owns the single COMPLETE transition.
type StageCompletionTracker interface {
	Evaluate(ctx context.Context, stageID int) (models.StageStatus, error)
}

type StageService struct {
	stageRepo  repositories.StageRepository
	matchRepo  repositories.MatchRepository
	resultRepo repositories.MatchResultRepository
	resolver   KnockoutResolver
	hub        Notifier
	logger     *slog.Logger
}

func NewStageService(
	stageRepo repositories.StageRepository,
	matchRepo repositories.MatchRepository,
	resultRepo repositories.MatchResultRepository,
	resolver KnockoutResolver,
	hub Notifier,
	logger *slog.Logger,
) *StageService {
	return &StageService{
		stageRepo:  stageRepo,
		matchRepo:  matchRepo,
		resultRepo: resultRepo,
		resolver:   resolver,
		hub:        hub,
		logger:     logger,
	}
}

// Evaluate is safe to call redundantly: it only reads until every match in
// the stage has a result, and the COMPLETE transition itself is a database
// compare-and-set, so when N aggregations finish at nearly the same time
// exactly one of them wins the CAS and invokes resolution.
func (s *StageService) Evaluate(ctx context.Context, stageID int) (models.StageStatus, error) {
	stage, err := s.stageRepo.GetByID(ctx, nil, stageID)
	if err != nil {
		if errors.Is(err, repositories.ErrStageNotFound) {
			return "", ErrStageNotFound
		}
		return "", fmt.Errorf("failed to load stage %d: %w", stageID, err)
	}

	if stage.Status == models.StageComplete {
		return models.StageComplete, nil
	}

	pending, err := s.matchRepo.CountPendingByStage(ctx, nil, stageID)
	if err != nil {
		return "", fmt.Errorf("failed to count pending matches for stage %d: %w", stageID, err)
	}
	if pending > 0 {
		return stage.Status, nil
	}

	// Every result must also be in the applied-set before the stage may
	// complete. A committed result whose aggregation is still outstanding
	// (crash, contention exhaustion) would otherwise let resolution rank the
	// group from a ledger missing its points, and slot writes are permanent.
	// The sweeper re-drives aggregation and then re-evaluates.
	unapplied, err := s.resultRepo.CountUnappliedByStage(ctx, nil, stageID)
	if err != nil {
		return "", fmt.Errorf("failed to count unapplied results for stage %d: %w", stageID, err)
	}
	if unapplied > 0 {
		s.logger.Warn("stage completion deferred, ledger behind",
			slog.Int("stage_id", stageID), slog.Int("unapplied_results", unapplied))
		return stage.Status, nil
	}

	won, err := s.stageRepo.CompleteIfInProgress(ctx, nil, stageID)
	if err != nil {
		return "", err
	}
	if !won {
		// Another evaluator transitioned the stage, or the stage never left
		// not_started (no results yet). Report the current state.
		current, err := s.stageRepo.GetByID(ctx, nil, stageID)
		if err != nil {
			return "", fmt.Errorf("failed to re-read stage %d: %w", stageID, err)
		}
		return current.Status, nil
	}

	s.logger.Info("stage complete",
		slog.Int("stage_id", stage.ID),
		slog.Int("tournament_id", stage.TournamentID),
		slog.String("name", stage.Name),
	)
	s.hub.BroadcastToRoom(tournamentRoom(stage.TournamentID), brackets.Message{
		Type:    brackets.EventStageComplete,
		Payload: map[string]int{"stage_id": stage.ID},
	})

	// The CAS winner is the sole resolution trigger. A failure here leaves
	// the stage logically complete; the sweeper re-triggers resolution
	// without ever re-aggregating points.
	if err := s.resolver.Resolve(ctx, stageID); err != nil {
		s.logger.Error("bracket resolution failed, stage remains complete",
			slog.Int("stage_id", stageID), slog.Any("error", err))
	}

	return models.StageComplete, nil
}

// GetBracketView loads a stage with its matches for read-only display,
// fetching both in parallel.
func (s *StageService) GetBracketView(ctx context.Context, stageID int) (*models.Stage, error) {
	var stage *models.Stage
	var matches []*models.Match

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		loaded, err := s.stageRepo.GetByID(gCtx, nil, stageID)
		if err != nil {
			if errors.Is(err, repositories.ErrStageNotFound) {
				return ErrStageNotFound
			}
			return fmt.Errorf("failed to load stage %d: %w", stageID, err)
		}
		stage = loaded
		return nil
	})
	g.Go(func() error {
		loaded, err := s.matchRepo.ListByStage(gCtx, nil, stageID)
		if err != nil {
			return fmt.Errorf("failed to load matches for stage %d: %w", stageID, err)
		}
		matches = loaded
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	stage.Matches = matches
	return stage, nil
}
