package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fixturelab/tournament-core/models"
	"github.com/fixturelab/tournament-core/storage"
)

type standingsSnapshot struct {
	TournamentID int                  `json:"tournament_id"`
	StageID      int                  `json:"stage_id"`
	StageName    string               `json:"stage_name"`
	GroupCode    string               `json:"group_code,omitempty"`
	TakenAt      time.Time            `json:"taken_at"`
	Standings    []models.StandingRow `json:"standings"`
}

type snapshotArchiver struct {
	uploader storage.FileUploader
	logger   *slog.Logger
}

// NewSnapshotArchiver archives final group standings to object storage when
// a stage resolves. The pipeline treats upload failures as log-only.
func NewSnapshotArchiver(uploader storage.FileUploader, logger *slog.Logger) SnapshotArchiver {
	return &snapshotArchiver{uploader: uploader, logger: logger}
}

func (a *snapshotArchiver) ArchiveStandings(ctx context.Context, stage *models.Stage, ranked []*models.RankingEntry) error {
	snap := standingsSnapshot{
		TournamentID: stage.TournamentID,
		StageID:      stage.ID,
		StageName:    stage.Name,
		TakenAt:      time.Now().UTC(),
		Standings:    make([]models.StandingRow, len(ranked)),
	}
	if stage.GroupCode != nil {
		snap.GroupCode = *stage.GroupCode
	}
	for i, e := range ranked {
		snap.Standings[i] = models.StandingRow{
			ParticipantID: e.ParticipantID,
			TotalPoints:   e.TotalPoints,
			MatchesPlayed: e.MatchesPlayed,
		}
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode standings snapshot: %w", err)
	}

	key := fmt.Sprintf("standings/tournament_%d/stage_%d_%s.json",
		stage.TournamentID, stage.ID, snap.TakenAt.Format("20060102T150405Z"))

	uploaded, err := a.uploader.Upload(ctx, key, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to upload standings snapshot: %w", err)
	}

	a.logger.Info("standings snapshot archived",
		slog.Int("stage_id", stage.ID),
		slog.String("key", uploaded.Key),
		slog.String("location", uploaded.Location),
	)
	return nil
}
