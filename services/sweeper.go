package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/fixturelab/tournament-core/repositories"
)

const sweepBatchSize = 50

// Sweeper is the crash-recovery backstop for the pipeline's downstream
// steps. Result recording commits independently of aggregation and
// resolution, so a crash in between leaves recoverable gaps: committed
// results missing from the applied-set, in_progress stages whose last match
// finished, and complete stages with unpopulated bracket slots. The sweeper
// periodically closes all three; every step it re-drives is idempotent.
type Sweeper struct {
	scheduler  gocron.Scheduler
	interval   time.Duration
	resultRepo repositories.MatchResultRepository
	stageRepo  repositories.StageRepository
	aggregator RankingAggregator
	tracker    StageCompletionTracker
	resolver   KnockoutResolver
	logger     *slog.Logger
}

func NewSweeper(
	interval time.Duration,
	resultRepo repositories.MatchResultRepository,
	stageRepo repositories.StageRepository,
	aggregator RankingAggregator,
	tracker StageCompletionTracker,
	resolver KnockoutResolver,
	logger *slog.Logger,
) (*Sweeper, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Sweeper{
		scheduler:  scheduler,
		interval:   interval,
		resultRepo: resultRepo,
		stageRepo:  stageRepo,
		aggregator: aggregator,
		tracker:    tracker,
		resolver:   resolver,
		logger:     logger,
	}, nil
}

func (s *Sweeper) Start() error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(s.sweep),
	)
	if err != nil {
		return err
	}
	s.scheduler.Start()
	s.logger.Info("pipeline sweeper started", slog.Duration("interval", s.interval))
	return nil
}

func (s *Sweeper) Stop() error {
	return s.scheduler.Shutdown()
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	s.applyUnaggregated(ctx)
	s.evaluateStalled(ctx)
	s.resolveUnresolved(ctx)
}

func (s *Sweeper) applyUnaggregated(ctx context.Context) {
	results, err := s.resultRepo.ListUnapplied(ctx, nil, sweepBatchSize)
	if err != nil {
		s.logger.Error("sweeper: failed to list unapplied results", slog.Any("error", err))
		return
	}
	for _, result := range results {
		s.logger.Info("sweeper: re-driving aggregation", slog.String("result_id", result.ID))
		if err := s.aggregator.Apply(ctx, result); err != nil {
			s.logger.Error("sweeper: aggregation failed",
				slog.String("result_id", result.ID), slog.Any("error", err))
		}
	}
}

func (s *Sweeper) evaluateStalled(ctx context.Context) {
	stages, err := s.stageRepo.ListCompletable(ctx, nil)
	if err != nil {
		s.logger.Error("sweeper: failed to list completable stages", slog.Any("error", err))
		return
	}
	for _, stage := range stages {
		s.logger.Info("sweeper: re-evaluating stage", slog.Int("stage_id", stage.ID))
		if _, err := s.tracker.Evaluate(ctx, stage.ID); err != nil {
			s.logger.Error("sweeper: stage evaluation failed",
				slog.Int("stage_id", stage.ID), slog.Any("error", err))
		}
	}
}

func (s *Sweeper) resolveUnresolved(ctx context.Context) {
	stages, err := s.stageRepo.ListUnresolvedComplete(ctx, nil)
	if err != nil {
		s.logger.Error("sweeper: failed to list unresolved stages", slog.Any("error", err))
		return
	}
	for _, stage := range stages {
		s.logger.Info("sweeper: re-triggering resolution", slog.Int("stage_id", stage.ID))
		if err := s.resolver.Resolve(ctx, stage.ID); err != nil {
			s.logger.Error("sweeper: resolution failed",
				slog.Int("stage_id", stage.ID), slog.Any("error", err))
		}
	}
}
