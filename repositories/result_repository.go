package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fixturelab/tournament-core/models"
)

var (
	ErrMatchResultNotFound     = errors.New("match result not found")
	ErrMatchResultExists       = errors.New("match already has a result")
	ErrMatchResultMatchInvalid = errors.New("match result references an invalid match")
	ErrResultAlreadyApplied    = errors.New("match result already aggregated")
)

type MatchResultRepository interface {
	// Create inserts the result row. A unique constraint on match_id maps to
	// ErrMatchResultExists so concurrent first submissions serialize on the
	// database, not in memory.
	Create(ctx context.Context, exec SQLExecutor, result *models.MatchResult) error
	GetByMatchID(ctx context.Context, exec SQLExecutor, matchID int) (*models.MatchResult, error)
	// MarkApplied records the result in the durable applied-set. A second call
	// for the same result returns ErrResultAlreadyApplied.
	MarkApplied(ctx context.Context, exec SQLExecutor, resultID string) error
	// ListUnapplied returns committed results that have no applied-set row,
	// i.e. results whose aggregation was interrupted.
	ListUnapplied(ctx context.Context, exec SQLExecutor, limit int) ([]*models.MatchResult, error)
	// CountUnappliedByStage reports how many of the stage's committed results
	// are still missing from the applied-set.
	CountUnappliedByStage(ctx context.Context, exec SQLExecutor, stageID int) (int, error)
}

type postgresMatchResultRepository struct {
	db *sql.DB
}

func NewPostgresMatchResultRepository(db *sql.DB) MatchResultRepository {
	return &postgresMatchResultRepository{db: db}
}

func (r *postgresMatchResultRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

func marshalIntMap(m map[int]int) ([]byte, error) {
	return json.Marshal(m)
}

func unmarshalIntMap(data []byte) (map[int]int, error) {
	m := make(map[int]int)
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *postgresMatchResultRepository) Create(ctx context.Context, exec SQLExecutor, result *models.MatchResult) error {
	executor := r.getExecutor(exec)

	placements, err := marshalIntMap(result.Placements)
	if err != nil {
		return fmt.Errorf("failed to encode placements: %w", err)
	}
	ranks, err := marshalIntMap(result.Ranks)
	if err != nil {
		return fmt.Errorf("failed to encode ranks: %w", err)
	}
	points, err := marshalIntMap(result.Points)
	if err != nil {
		return fmt.Errorf("failed to encode points: %w", err)
	}

	query := `
		INSERT INTO match_results
			(id, match_id, stage_id, tournament_id, placements, ranks, points, idempotency_token, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = executor.ExecContext(ctx, query,
		result.ID, result.MatchID, result.StageID, result.TournamentID,
		placements, ranks, points, result.IdempotencyToken, result.SubmittedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrMatchResultExists
		}
		if isForeignKeyViolation(err) {
			return ErrMatchResultMatchInvalid
		}
		return fmt.Errorf("failed to insert match result for match %d: %w", result.MatchID, err)
	}
	return nil
}

const matchResultColumns = `id, match_id, stage_id, tournament_id, placements, ranks, points, idempotency_token, submitted_at`

func (r *postgresMatchResultRepository) scanResult(rowScanner interface{ Scan(...interface{}) error }) (*models.MatchResult, error) {
	var res models.MatchResult
	var placements, ranks, points []byte
	err := rowScanner.Scan(
		&res.ID, &res.MatchID, &res.StageID, &res.TournamentID,
		&placements, &ranks, &points, &res.IdempotencyToken, &res.SubmittedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMatchResultNotFound
		}
		return nil, err
	}

	if res.Placements, err = unmarshalIntMap(placements); err != nil {
		return nil, fmt.Errorf("failed to decode placements for result %s: %w", res.ID, err)
	}
	if res.Ranks, err = unmarshalIntMap(ranks); err != nil {
		return nil, fmt.Errorf("failed to decode ranks for result %s: %w", res.ID, err)
	}
	if res.Points, err = unmarshalIntMap(points); err != nil {
		return nil, fmt.Errorf("failed to decode points for result %s: %w", res.ID, err)
	}
	return &res, nil
}

func (r *postgresMatchResultRepository) GetByMatchID(ctx context.Context, exec SQLExecutor, matchID int) (*models.MatchResult, error) {
	executor := r.getExecutor(exec)
	query := `SELECT ` + matchResultColumns + ` FROM match_results WHERE match_id = $1`
	return r.scanResult(executor.QueryRowContext(ctx, query, matchID))
}

func (r *postgresMatchResultRepository) MarkApplied(ctx context.Context, exec SQLExecutor, resultID string) error {
	executor := r.getExecutor(exec)
	query := `INSERT INTO applied_results (result_id, applied_at) VALUES ($1, NOW())`

	if _, err := executor.ExecContext(ctx, query, resultID); err != nil {
		if isUniqueViolation(err) {
			return ErrResultAlreadyApplied
		}
		return fmt.Errorf("failed to mark result %s applied: %w", resultID, err)
	}
	return nil
}

func (r *postgresMatchResultRepository) CountUnappliedByStage(ctx context.Context, exec SQLExecutor, stageID int) (int, error) {
	executor := r.getExecutor(exec)
	query := `
		SELECT COUNT(*)
		FROM match_results mr
		LEFT JOIN applied_results ar ON ar.result_id = mr.id
		WHERE mr.stage_id = $1 AND ar.result_id IS NULL`

	var unapplied int
	if err := executor.QueryRowContext(ctx, query, stageID).Scan(&unapplied); err != nil {
		return 0, fmt.Errorf("failed to count unapplied results for stage %d: %w", stageID, err)
	}
	return unapplied, nil
}

func (r *postgresMatchResultRepository) ListUnapplied(ctx context.Context, exec SQLExecutor, limit int) ([]*models.MatchResult, error) {
	executor := r.getExecutor(exec)
	query := `
		SELECT mr.id, mr.match_id, mr.stage_id, mr.tournament_id, mr.placements, mr.ranks, mr.points,
		       mr.idempotency_token, mr.submitted_at
		FROM match_results mr
		LEFT JOIN applied_results ar ON ar.result_id = mr.id
		WHERE ar.result_id IS NULL
		ORDER BY mr.submitted_at ASC
		LIMIT $1`

	rows, err := executor.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unapplied results: %w", err)
	}
	defer rows.Close()

	results := make([]*models.MatchResult, 0)
	for rows.Next() {
		res, scanErr := r.scanResult(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		results = append(results, res)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during result rows iteration: %w", err)
	}
	return results, nil
}
