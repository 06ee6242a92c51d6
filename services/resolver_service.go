package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fixturelab/tournament-core/brackets"
	"github.com/fixturelab/tournament-core/models"
	"github.com/fixturelab/tournament-core/repositories"
)

// KnockoutResolver propagates a completed stage's standings into downstream
// bracket slots per the static seeding table.
type KnockoutResolver interface {
	Resolve(ctx context.Context, stageID int) error
}

// SnapshotArchiver persists a standings snapshot outside the database.
// Archiving is best-effort and must never block the pipeline.
type SnapshotArchiver interface {
	ArchiveStandings(ctx context.Context, stage *models.Stage, ranked []*models.RankingEntry) error
}

type ResolverService struct {
	txRunner    repositories.TxRunner
	stageRepo   repositories.StageRepository
	matchRepo   repositories.MatchRepository
	resultRepo  repositories.MatchResultRepository
	rankingRepo repositories.RankingRepository
	seeding     *brackets.SeedingTable
	tieBreak    brackets.TieBreakRule
	archiver    SnapshotArchiver // nil disables archiving
	hub         Notifier
	logger      *slog.Logger
}

func NewResolverService(
	txRunner repositories.TxRunner,
	stageRepo repositories.StageRepository,
	matchRepo repositories.MatchRepository,
	resultRepo repositories.MatchResultRepository,
	rankingRepo repositories.RankingRepository,
	seeding *brackets.SeedingTable,
	tieBreak brackets.TieBreakRule,
	archiver SnapshotArchiver,
	hub Notifier,
	logger *slog.Logger,
) *ResolverService {
	return &ResolverService{
		txRunner:    txRunner,
		stageRepo:   stageRepo,
		matchRepo:   matchRepo,
		resultRepo:  resultRepo,
		rankingRepo: rankingRepo,
		seeding:     seeding,
		tieBreak:    tieBreak,
		archiver:    archiver,
		hub:         hub,
		logger:      logger,
	}
}

// Resolve ranks the completed stage's participants, selects the seeding
// table's intake and writes every affected bracket slot in one transaction.
// Slots that already hold a participant are skipped, so re-entry (sweeper
// re-trigger, crash recovery) never alters a populated slot.
func (s *ResolverService) Resolve(ctx context.Context, stageID int) error {
	stage, err := s.stageRepo.GetByID(ctx, nil, stageID)
	if err != nil {
		if errors.Is(err, repositories.ErrStageNotFound) {
			return ErrStageNotFound
		}
		return fmt.Errorf("failed to load stage %d: %w", stageID, err)
	}

	if stage.Status != models.StageComplete {
		// The completion CAS is the only legitimate trigger, so an incomplete
		// stage here is a programming defect, not a user error.
		s.logger.Error("resolution invoked for incomplete stage",
			slog.Int("stage_id", stageID), slog.String("status", string(stage.Status)))
		return fmt.Errorf("%w: stage %d is %s", ErrIncompleteUpstreamData, stageID, stage.Status)
	}
	if stage.Resolved {
		return nil
	}

	var rules []brackets.SeedingRule
	if stage.GroupCode != nil {
		rules = s.seeding.ForGroup(*stage.GroupCode)
	}

	var ranked []*models.RankingEntry
	if len(rules) > 0 {
		// Never seed slots from a ledger that is missing committed results.
		// Completion evaluation defers on this too; the check here covers
		// stages that were already complete before a result's aggregation
		// stalled. The sweeper re-drives aggregation, then resolution.
		unapplied, err := s.resultRepo.CountUnappliedByStage(ctx, nil, stage.ID)
		if err != nil {
			return fmt.Errorf("failed to count unapplied results for stage %d: %w", stage.ID, err)
		}
		if unapplied > 0 {
			return fmt.Errorf("stage %d has %d results awaiting aggregation, resolution deferred", stage.ID, unapplied)
		}

		ranked, err = s.rankGroup(ctx, stage)
		if err != nil {
			return err
		}
		intake := s.seeding.IntakeForGroup(*stage.GroupCode)
		if intake > len(ranked) {
			return fmt.Errorf("seeding table takes top %d from group %s but only %d participants have ledger entries",
				intake, *stage.GroupCode, len(ranked))
		}
	}

	err = s.txRunner.RunInTx(ctx, func(tx repositories.SQLExecutor) error {
		for _, rule := range rules {
			target, err := s.matchRepo.GetByBracketUID(ctx, tx, stage.TournamentID, rule.BracketUID)
			if err != nil {
				return err
			}
			participantID := ranked[rule.Rank-1].ParticipantID
			assigned, err := s.matchRepo.AssignSlot(ctx, tx, target.ID, rule.Slot, participantID)
			if err != nil {
				return err
			}
			if !assigned {
				s.logger.Info("bracket slot already populated, skipping",
					slog.String("bracket_uid", rule.BracketUID), slog.Int("slot", rule.Slot))
				continue
			}
			s.logger.Info("bracket slot assigned",
				slog.String("bracket_uid", rule.BracketUID),
				slog.Int("slot", rule.Slot),
				slog.Int("participant_id", participantID),
				slog.Int("group_rank", rule.Rank),
			)
		}
		return s.stageRepo.MarkResolved(ctx, tx, stage.ID)
	})
	if err != nil {
		return fmt.Errorf("failed to resolve stage %d: %w", stageID, err)
	}

	s.hub.BroadcastToRoom(tournamentRoom(stage.TournamentID), brackets.Message{
		Type:    brackets.EventBracketUpdated,
		Payload: map[string]int{"stage_id": stage.ID},
	})

	if s.archiver != nil && len(ranked) > 0 {
		if err := s.archiver.ArchiveStandings(ctx, stage, ranked); err != nil {
			s.logger.Error("failed to archive standings snapshot",
				slog.Int("stage_id", stage.ID), slog.Any("error", err))
		}
	}

	return nil
}

// rankGroup orders the stage's participants for qualification using their
// tournament ledger entries and the configured tie-break.
func (s *ResolverService) rankGroup(ctx context.Context, stage *models.Stage) ([]*models.RankingEntry, error) {
	matches, err := s.matchRepo.ListByStage(ctx, nil, stage.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches for stage %d: %w", stage.ID, err)
	}

	seen := make(map[int]bool)
	participantIDs := make([]int, 0)
	for _, m := range matches {
		for _, id := range m.ExpectedParticipants() {
			if !seen[id] {
				seen[id] = true
				participantIDs = append(participantIDs, id)
			}
		}
	}
	if len(participantIDs) == 0 {
		return nil, fmt.Errorf("stage %d has no participants to rank", stage.ID)
	}

	entries, err := s.rankingRepo.ListByParticipants(ctx, nil, stage.TournamentID, participantIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger entries for stage %d: %w", stage.ID, err)
	}

	return brackets.RankGroup(entries, s.tieBreak)
}
