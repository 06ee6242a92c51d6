package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/fixturelab/tournament-core/models"
)

var (
	ErrMatchNotFound     = errors.New("match not found")
	ErrMatchSlotInvalid  = errors.New("bracket slot must be 1 or 2")
	ErrMatchStageInvalid = errors.New("match stage conflict or invalid")
)

type MatchRepository interface {
	GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Match, error)
	GetByBracketUID(ctx context.Context, exec SQLExecutor, tournamentID int, uid string) (*models.Match, error)
	ListByStage(ctx context.Context, exec SQLExecutor, stageID int) ([]*models.Match, error)
	CountPendingByStage(ctx context.Context, exec SQLExecutor, stageID int) (int, error)
	MarkCompleted(ctx context.Context, exec SQLExecutor, id int) error
	// AssignSlot populates one bracket slot if and only if it is still NULL.
	// Returns false without error when the slot was already populated, which
	// makes resolution re-entry a per-slot no-op.
	AssignSlot(ctx context.Context, exec SQLExecutor, matchID, slot, participantID int) (bool, error)
}

type postgresMatchRepository struct {
	db *sql.DB
}

func NewPostgresMatchRepository(db *sql.DB) MatchRepository {
	return &postgresMatchRepository{db: db}
}

func (r *postgresMatchRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const matchColumns = `id, tournament_id, stage_id, format, participant_ids,
       slot1_participant_id, slot2_participant_id, bracket_uid, completed, created_at`

func (r *postgresMatchRepository) scanMatch(rowScanner interface{ Scan(...interface{}) error }) (*models.Match, error) {
	var m models.Match
	var participantIDs pq.Int64Array
	err := rowScanner.Scan(
		&m.ID, &m.TournamentID, &m.StageID, &m.Format, &participantIDs,
		&m.Slot1ParticipantID, &m.Slot2ParticipantID, &m.BracketUID, &m.Completed, &m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}
	if len(participantIDs) > 0 {
		m.ParticipantIDs = make([]int, len(participantIDs))
		for i, id := range participantIDs {
			m.ParticipantIDs[i] = int(id)
		}
	}
	return &m, nil
}

func (r *postgresMatchRepository) GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Match, error) {
	executor := r.getExecutor(exec)
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`
	return r.scanMatch(executor.QueryRowContext(ctx, query, id))
}

func (r *postgresMatchRepository) GetByBracketUID(ctx context.Context, exec SQLExecutor, tournamentID int, uid string) (*models.Match, error) {
	executor := r.getExecutor(exec)
	query := `SELECT ` + matchColumns + ` FROM matches WHERE tournament_id = $1 AND bracket_uid = $2`
	match, err := r.scanMatch(executor.QueryRowContext(ctx, query, tournamentID, uid))
	if err != nil {
		if errors.Is(err, ErrMatchNotFound) {
			return nil, fmt.Errorf("%w: bracket_uid %s in tournament %d", ErrMatchNotFound, uid, tournamentID)
		}
		return nil, err
	}
	return match, nil
}

func (r *postgresMatchRepository) ListByStage(ctx context.Context, exec SQLExecutor, stageID int) ([]*models.Match, error) {
	executor := r.getExecutor(exec)
	query := `SELECT ` + matchColumns + ` FROM matches WHERE stage_id = $1 ORDER BY id ASC`

	rows, err := executor.QueryContext(ctx, query, stageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches for stage %d: %w", stageID, err)
	}
	defer rows.Close()

	matches := make([]*models.Match, 0)
	for rows.Next() {
		m, scanErr := r.scanMatch(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan match row: %w", scanErr)
		}
		matches = append(matches, m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during match rows iteration: %w", err)
	}
	return matches, nil
}

func (r *postgresMatchRepository) CountPendingByStage(ctx context.Context, exec SQLExecutor, stageID int) (int, error) {
	executor := r.getExecutor(exec)
	query := `SELECT COUNT(*) FROM matches WHERE stage_id = $1 AND completed = FALSE`

	var pending int
	if err := executor.QueryRowContext(ctx, query, stageID).Scan(&pending); err != nil {
		return 0, fmt.Errorf("failed to count pending matches for stage %d: %w", stageID, err)
	}
	return pending, nil
}

func (r *postgresMatchRepository) MarkCompleted(ctx context.Context, exec SQLExecutor, id int) error {
	executor := r.getExecutor(exec)
	query := `UPDATE matches SET completed = TRUE WHERE id = $1`

	result, err := executor.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	return checkAffectedRows(result, ErrMatchNotFound)
}

func (r *postgresMatchRepository) AssignSlot(ctx context.Context, exec SQLExecutor, matchID, slot, participantID int) (bool, error) {
	executor := r.getExecutor(exec)

	var query string
	switch slot {
	case 1:
		query = `UPDATE matches SET slot1_participant_id = $1 WHERE id = $2 AND slot1_participant_id IS NULL`
	case 2:
		query = `UPDATE matches SET slot2_participant_id = $1 WHERE id = $2 AND slot2_participant_id IS NULL`
	default:
		return false, fmt.Errorf("%w: got %d", ErrMatchSlotInvalid, slot)
	}

	result, err := executor.ExecContext(ctx, query, participantID, matchID)
	if err != nil {
		return false, fmt.Errorf("failed to assign slot %d of match %d: %w", slot, matchID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check affected rows: %w", err)
	}
	return rowsAffected == 1, nil
}
