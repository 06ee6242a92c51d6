package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fixturelab/tournament-core/models"
)

var ErrStageNotFound = errors.New("stage not found")

type StageRepository interface {
	GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Stage, error)
	// MarkInProgress moves a not_started stage to in_progress. Already being
	// in_progress (or complete) is not an error; the transition is a CAS and
	// losing it just means someone else got there first.
	MarkInProgress(ctx context.Context, exec SQLExecutor, id int) error
	// CompleteIfInProgress is the single-writer completion guard: a
	// compare-and-set from in_progress to complete. Exactly one caller
	// observes true per stage; that caller owns triggering resolution.
	CompleteIfInProgress(ctx context.Context, exec SQLExecutor, id int) (bool, error)
	MarkResolved(ctx context.Context, exec SQLExecutor, id int) error
	// ListUnresolvedComplete finds stages whose completion transition fired
	// but whose resolution never committed (crash between the two).
	ListUnresolvedComplete(ctx context.Context, exec SQLExecutor) ([]*models.Stage, error)
	// ListCompletable finds in_progress stages with no pending matches, i.e.
	// stages whose completion evaluation was lost.
	ListCompletable(ctx context.Context, exec SQLExecutor) ([]*models.Stage, error)
}

type postgresStageRepository struct {
	db *sql.DB
}

func NewPostgresStageRepository(db *sql.DB) StageRepository {
	return &postgresStageRepository{db: db}
}

func (r *postgresStageRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const stageColumns = `id, tournament_id, name, kind, group_code, status, resolved, created_at`

func (r *postgresStageRepository) scanStage(rowScanner interface{ Scan(...interface{}) error }) (*models.Stage, error) {
	var s models.Stage
	err := rowScanner.Scan(
		&s.ID, &s.TournamentID, &s.Name, &s.Kind, &s.GroupCode, &s.Status, &s.Resolved, &s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStageNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *postgresStageRepository) GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Stage, error) {
	executor := r.getExecutor(exec)
	query := `SELECT ` + stageColumns + ` FROM stages WHERE id = $1`
	return r.scanStage(executor.QueryRowContext(ctx, query, id))
}

func (r *postgresStageRepository) MarkInProgress(ctx context.Context, exec SQLExecutor, id int) error {
	executor := r.getExecutor(exec)
	query := `UPDATE stages SET status = $1 WHERE id = $2 AND status = $3`

	_, err := executor.ExecContext(ctx, query, models.StageInProgress, id, models.StageNotStarted)
	if err != nil {
		return fmt.Errorf("failed to mark stage %d in progress: %w", id, err)
	}
	return nil
}

func (r *postgresStageRepository) CompleteIfInProgress(ctx context.Context, exec SQLExecutor, id int) (bool, error) {
	executor := r.getExecutor(exec)
	query := `UPDATE stages SET status = $1 WHERE id = $2 AND status = $3`

	result, err := executor.ExecContext(ctx, query, models.StageComplete, id, models.StageInProgress)
	if err != nil {
		return false, fmt.Errorf("failed to complete stage %d: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check affected rows: %w", err)
	}
	return rowsAffected == 1, nil
}

func (r *postgresStageRepository) MarkResolved(ctx context.Context, exec SQLExecutor, id int) error {
	executor := r.getExecutor(exec)
	query := `UPDATE stages SET resolved = TRUE WHERE id = $1`

	result, err := executor.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark stage %d resolved: %w", id, err)
	}
	return checkAffectedRows(result, ErrStageNotFound)
}

func (r *postgresStageRepository) ListUnresolvedComplete(ctx context.Context, exec SQLExecutor) ([]*models.Stage, error) {
	executor := r.getExecutor(exec)
	query := `SELECT ` + stageColumns + ` FROM stages WHERE status = $1 AND resolved = FALSE ORDER BY id ASC`
	return r.listStages(ctx, executor, query, models.StageComplete)
}

func (r *postgresStageRepository) ListCompletable(ctx context.Context, exec SQLExecutor) ([]*models.Stage, error) {
	executor := r.getExecutor(exec)
	query := `
		SELECT ` + stageColumns + `
		FROM stages s
		WHERE s.status = $1
		  AND EXISTS (SELECT 1 FROM matches m WHERE m.stage_id = s.id)
		  AND NOT EXISTS (SELECT 1 FROM matches m WHERE m.stage_id = s.id AND m.completed = FALSE)
		ORDER BY s.id ASC`
	return r.listStages(ctx, executor, query, models.StageInProgress)
}

func (r *postgresStageRepository) listStages(ctx context.Context, executor SQLExecutor, query string, args ...interface{}) ([]*models.Stage, error) {
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stages: %w", err)
	}
	defer rows.Close()

	stages := make([]*models.Stage, 0)
	for rows.Next() {
		s, scanErr := r.scanStage(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan stage row: %w", scanErr)
		}
		stages = append(stages, s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during stage rows iteration: %w", err)
	}
	return stages, nil
}
