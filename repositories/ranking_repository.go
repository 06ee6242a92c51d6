package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/fixturelab/tournament-core/models"
)

var (
	ErrRankingEntryNotFound = errors.New("ranking entry not found")
	// ErrRankingVersionConflict signals a lost optimistic version check; the
	// caller retries the whole update attempt.
	ErrRankingVersionConflict = errors.New("ranking entry version conflict")
)

type RankingRepository interface {
	GetOrCreate(ctx context.Context, exec SQLExecutor, tournamentID, participantID int) (*models.RankingEntry, error)
	// ApplyDelta adds points and one played match to the entry, guarded by the
	// optimistic version check. A stale expectedVersion yields
	// ErrRankingVersionConflict and writes nothing.
	ApplyDelta(ctx context.Context, exec SQLExecutor, entryID, points, expectedVersion int) error
	ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID int) ([]*models.RankingEntry, error)
	ListByParticipants(ctx context.Context, exec SQLExecutor, tournamentID int, participantIDs []int) ([]*models.RankingEntry, error)
}

type postgresRankingRepository struct {
	db *sql.DB
}

func NewPostgresRankingRepository(db *sql.DB) RankingRepository {
	return &postgresRankingRepository{db: db}
}

func (r *postgresRankingRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const rankingColumns = `id, tournament_id, participant_id, total_points, matches_played, version, updated_at`

func (r *postgresRankingRepository) scanEntry(rowScanner interface{ Scan(...interface{}) error }) (*models.RankingEntry, error) {
	var e models.RankingEntry
	err := rowScanner.Scan(
		&e.ID, &e.TournamentID, &e.ParticipantID, &e.TotalPoints, &e.MatchesPlayed, &e.Version, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRankingEntryNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (r *postgresRankingRepository) getByTournamentAndParticipant(ctx context.Context, executor SQLExecutor, tournamentID, participantID int) (*models.RankingEntry, error) {
	query := `SELECT ` + rankingColumns + ` FROM ranking_entries WHERE tournament_id = $1 AND participant_id = $2`
	return r.scanEntry(executor.QueryRowContext(ctx, query, tournamentID, participantID))
}

func (r *postgresRankingRepository) GetOrCreate(ctx context.Context, exec SQLExecutor, tournamentID, participantID int) (*models.RankingEntry, error) {
	executor := r.getExecutor(exec)

	entry, err := r.getByTournamentAndParticipant(ctx, executor, tournamentID, participantID)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, ErrRankingEntryNotFound) {
		return nil, fmt.Errorf("failed to get ranking entry for t:%d p:%d: %w", tournamentID, participantID, err)
	}

	newEntry := &models.RankingEntry{
		TournamentID:  tournamentID,
		ParticipantID: participantID,
		Version:       1,
		UpdatedAt:     time.Now(),
	}
	insert := `
		INSERT INTO ranking_entries (tournament_id, participant_id, total_points, matches_played, version, updated_at)
		VALUES ($1, $2, 0, 0, 1, $3)
		RETURNING id`
	err = executor.QueryRowContext(ctx, insert, tournamentID, participantID, newEntry.UpdatedAt).Scan(&newEntry.ID)
	if err != nil {
		// A concurrent creator may win the unique (tournament_id, participant_id)
		// race; fall back to reading their row.
		if isUniqueViolation(err) {
			return r.getByTournamentAndParticipant(ctx, executor, tournamentID, participantID)
		}
		return nil, fmt.Errorf("failed to create ranking entry for t:%d p:%d: %w", tournamentID, participantID, err)
	}
	return newEntry, nil
}

func (r *postgresRankingRepository) ApplyDelta(ctx context.Context, exec SQLExecutor, entryID, points, expectedVersion int) error {
	executor := r.getExecutor(exec)
	query := `
		UPDATE ranking_entries
		SET total_points = total_points + $1,
		    matches_played = matches_played + 1,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $2 AND version = $3`

	result, err := executor.ExecContext(ctx, query, points, entryID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to apply delta to ranking entry %d: %w", entryID, err)
	}
	return checkAffectedRows(result, ErrRankingVersionConflict)
}

func (r *postgresRankingRepository) ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID int) ([]*models.RankingEntry, error) {
	executor := r.getExecutor(exec)
	// The SQL ordering mirrors the qualification ordering: points first, then
	// stable keys so equal rows always list in the same order.
	query := `
		SELECT ` + rankingColumns + `
		FROM ranking_entries
		WHERE tournament_id = $1
		ORDER BY total_points DESC, matches_played ASC, participant_id ASC`

	return r.listEntries(ctx, executor, query, tournamentID)
}

func (r *postgresRankingRepository) ListByParticipants(ctx context.Context, exec SQLExecutor, tournamentID int, participantIDs []int) ([]*models.RankingEntry, error) {
	executor := r.getExecutor(exec)
	ids := make([]int64, len(participantIDs))
	for i, id := range participantIDs {
		ids[i] = int64(id)
	}
	query := `
		SELECT ` + rankingColumns + `
		FROM ranking_entries
		WHERE tournament_id = $1 AND participant_id = ANY($2)
		ORDER BY participant_id ASC`

	return r.listEntries(ctx, executor, query, tournamentID, pq.Array(ids))
}

func (r *postgresRankingRepository) listEntries(ctx context.Context, executor SQLExecutor, query string, args ...interface{}) ([]*models.RankingEntry, error) {
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ranking entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*models.RankingEntry, 0)
	for rows.Next() {
		e, scanErr := r.scanEntry(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan ranking entry row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during ranking entry rows iteration: %w", err)
	}
	return entries, nil
}
