package services

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/fixturelab/tournament-core/models"
	"github.com/fixturelab/tournament-core/repositories"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTx is the executor handed to transaction callbacks. The repository
// fakes journal an undo per write against it, so a failed callback rolls its
// writes back the way a real transaction would.
type fakeTx struct {
	mu    sync.Mutex
	undos []func()
}

func (t *fakeTx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	panic("fake transaction does not execute SQL")
}

func (t *fakeTx) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	panic("fake transaction does not execute SQL")
}

func (t *fakeTx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	panic("fake transaction does not execute SQL")
}

func (t *fakeTx) onRollback(undo func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.undos = append(t.undos, undo)
}

func (t *fakeTx) rollback() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.undos) - 1; i >= 0; i-- {
		t.undos[i]()
	}
	t.undos = nil
}

// journal registers an undo when the write happened inside a fake
// transaction. Writes outside a transaction need no undo.
func journal(exec repositories.SQLExecutor, undo func()) {
	if tx, ok := exec.(*fakeTx); ok {
		tx.onRollback(undo)
	}
}

type fakeTxRunner struct{}

func (fakeTxRunner) RunInTx(ctx context.Context, fn func(tx repositories.SQLExecutor) error) error {
	tx := &fakeTx{}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

type fakeMatchRepo struct {
	mu      sync.Mutex
	matches map[int]*models.Match
}

func newFakeMatchRepo(matches ...*models.Match) *fakeMatchRepo {
	repo := &fakeMatchRepo{matches: make(map[int]*models.Match)}
	for _, m := range matches {
		repo.matches[m.ID] = m
	}
	return repo
}

func (r *fakeMatchRepo) get(id int) (*models.Match, error) {
	m, ok := r.matches[id]
	if !ok {
		return nil, repositories.ErrMatchNotFound
	}
	copied := *m
	return &copied, nil
}

func (r *fakeMatchRepo) GetByID(ctx context.Context, exec repositories.SQLExecutor, id int) (*models.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(id)
}

func (r *fakeMatchRepo) GetByBracketUID(ctx context.Context, exec repositories.SQLExecutor, tournamentID int, uid string) (*models.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.matches {
		if m.TournamentID == tournamentID && m.BracketUID != nil && *m.BracketUID == uid {
			return r.get(m.ID)
		}
	}
	return nil, repositories.ErrMatchNotFound
}

func (r *fakeMatchRepo) ListByStage(ctx context.Context, exec repositories.SQLExecutor, stageID int) ([]*models.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int, 0, len(r.matches))
	for id, m := range r.matches {
		if m.StageID == stageID {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	out := make([]*models.Match, 0, len(ids))
	for _, id := range ids {
		copied := *r.matches[id]
		out = append(out, &copied)
	}
	return out, nil
}

func (r *fakeMatchRepo) CountPendingByStage(ctx context.Context, exec repositories.SQLExecutor, stageID int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pending := 0
	for _, m := range r.matches {
		if m.StageID == stageID && !m.Completed {
			pending++
		}
	}
	return pending, nil
}

func (r *fakeMatchRepo) MarkCompleted(ctx context.Context, exec repositories.SQLExecutor, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[id]
	if !ok {
		return repositories.ErrMatchNotFound
	}
	prev := m.Completed
	m.Completed = true
	journal(exec, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		m.Completed = prev
	})
	return nil
}

func (r *fakeMatchRepo) AssignSlot(ctx context.Context, exec repositories.SQLExecutor, matchID, slot, participantID int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[matchID]
	if !ok {
		return false, repositories.ErrMatchNotFound
	}
	switch slot {
	case 1:
		if m.Slot1ParticipantID != nil {
			return false, nil
		}
		m.Slot1ParticipantID = &participantID
		journal(exec, func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			m.Slot1ParticipantID = nil
		})
	case 2:
		if m.Slot2ParticipantID != nil {
			return false, nil
		}
		m.Slot2ParticipantID = &participantID
		journal(exec, func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			m.Slot2ParticipantID = nil
		})
	default:
		return false, repositories.ErrMatchSlotInvalid
	}
	return true, nil
}

type fakeResultRepo struct {
	mu      sync.Mutex
	byMatch map[int]*models.MatchResult
	applied map[string]bool
}

func newFakeResultRepo() *fakeResultRepo {
	return &fakeResultRepo{
		byMatch: make(map[int]*models.MatchResult),
		applied: make(map[string]bool),
	}
}

func (r *fakeResultRepo) Create(ctx context.Context, exec repositories.SQLExecutor, result *models.MatchResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byMatch[result.MatchID]; ok {
		return repositories.ErrMatchResultExists
	}
	copied := *result
	r.byMatch[result.MatchID] = &copied
	journal(exec, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.byMatch, result.MatchID)
	})
	return nil
}

func (r *fakeResultRepo) GetByMatchID(ctx context.Context, exec repositories.SQLExecutor, matchID int) (*models.MatchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.byMatch[matchID]
	if !ok {
		return nil, repositories.ErrMatchResultNotFound
	}
	copied := *res
	return &copied, nil
}

func (r *fakeResultRepo) MarkApplied(ctx context.Context, exec repositories.SQLExecutor, resultID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.applied[resultID] {
		return repositories.ErrResultAlreadyApplied
	}
	r.applied[resultID] = true
	journal(exec, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.applied, resultID)
	})
	return nil
}

func (r *fakeResultRepo) CountUnappliedByStage(ctx context.Context, exec repositories.SQLExecutor, stageID int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	unapplied := 0
	for _, res := range r.byMatch {
		if res.StageID == stageID && !r.applied[res.ID] {
			unapplied++
		}
	}
	return unapplied, nil
}

func (r *fakeResultRepo) ListUnapplied(ctx context.Context, exec repositories.SQLExecutor, limit int) ([]*models.MatchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.MatchResult
	for _, res := range r.byMatch {
		if !r.applied[res.ID] {
			copied := *res
			out = append(out, &copied)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakeStageRepo struct {
	mu     sync.Mutex
	stages map[int]*models.Stage
}

func newFakeStageRepo(stages ...*models.Stage) *fakeStageRepo {
	repo := &fakeStageRepo{stages: make(map[int]*models.Stage)}
	for _, s := range stages {
		repo.stages[s.ID] = s
	}
	return repo
}

func (r *fakeStageRepo) GetByID(ctx context.Context, exec repositories.SQLExecutor, id int) (*models.Stage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stages[id]
	if !ok {
		return nil, repositories.ErrStageNotFound
	}
	copied := *s
	return &copied, nil
}

func (r *fakeStageRepo) MarkInProgress(ctx context.Context, exec repositories.SQLExecutor, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stages[id]
	if !ok {
		return repositories.ErrStageNotFound
	}
	if s.Status == models.StageNotStarted {
		s.Status = models.StageInProgress
		journal(exec, func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			s.Status = models.StageNotStarted
		})
	}
	return nil
}

func (r *fakeStageRepo) CompleteIfInProgress(ctx context.Context, exec repositories.SQLExecutor, id int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stages[id]
	if !ok {
		return false, repositories.ErrStageNotFound
	}
	if s.Status != models.StageInProgress {
		return false, nil
	}
	s.Status = models.StageComplete
	return true, nil
}

func (r *fakeStageRepo) MarkResolved(ctx context.Context, exec repositories.SQLExecutor, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stages[id]
	if !ok {
		return repositories.ErrStageNotFound
	}
	prev := s.Resolved
	s.Resolved = true
	journal(exec, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		s.Resolved = prev
	})
	return nil
}

func (r *fakeStageRepo) ListUnresolvedComplete(ctx context.Context, exec repositories.SQLExecutor) ([]*models.Stage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Stage
	for _, s := range r.stages {
		if s.Status == models.StageComplete && !s.Resolved {
			copied := *s
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeStageRepo) ListCompletable(ctx context.Context, exec repositories.SQLExecutor) ([]*models.Stage, error) {
	return nil, nil
}

// fakeRankingRepo keeps real optimistic version semantics so the aggregation
// retry loop is exercised against genuine conflicts. forcedConflicts injects
// extra version failures before writes start succeeding.
type fakeRankingRepo struct {
	mu              sync.Mutex
	nextID          int
	entries         map[int]*models.RankingEntry
	byParticipant   map[[2]int]int
	forcedConflicts int
}

func newFakeRankingRepo() *fakeRankingRepo {
	return &fakeRankingRepo{
		nextID:        1,
		entries:       make(map[int]*models.RankingEntry),
		byParticipant: make(map[[2]int]int),
	}
}

func (r *fakeRankingRepo) GetOrCreate(ctx context.Context, exec repositories.SQLExecutor, tournamentID, participantID int) (*models.RankingEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := [2]int{tournamentID, participantID}
	if id, ok := r.byParticipant[key]; ok {
		copied := *r.entries[id]
		return &copied, nil
	}
	// Creation is not journaled: a concurrent caller may already have read
	// the row, and a retry recreates it with the same zero totals anyway.
	entry := &models.RankingEntry{
		ID:            r.nextID,
		TournamentID:  tournamentID,
		ParticipantID: participantID,
		Version:       1,
	}
	r.entries[entry.ID] = entry
	r.byParticipant[key] = entry.ID
	r.nextID++
	copied := *entry
	return &copied, nil
}

func (r *fakeRankingRepo) ApplyDelta(ctx context.Context, exec repositories.SQLExecutor, entryID, points, expectedVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.forcedConflicts > 0 {
		r.forcedConflicts--
		return repositories.ErrRankingVersionConflict
	}
	entry, ok := r.entries[entryID]
	if !ok {
		return repositories.ErrRankingEntryNotFound
	}
	if entry.Version != expectedVersion {
		return repositories.ErrRankingVersionConflict
	}
	entry.TotalPoints += points
	entry.MatchesPlayed++
	entry.Version++
	journal(exec, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		entry.TotalPoints -= points
		entry.MatchesPlayed--
		entry.Version--
	})
	return nil
}

func (r *fakeRankingRepo) ListByTournament(ctx context.Context, exec repositories.SQLExecutor, tournamentID int) ([]*models.RankingEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.RankingEntry
	for id := 1; id < r.nextID; id++ {
		e, ok := r.entries[id]
		if ok && e.TournamentID == tournamentID {
			copied := *e
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeRankingRepo) ListByParticipants(ctx context.Context, exec repositories.SQLExecutor, tournamentID int, participantIDs []int) ([]*models.RankingEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wanted := make(map[int]bool, len(participantIDs))
	for _, id := range participantIDs {
		wanted[id] = true
	}
	var out []*models.RankingEntry
	for id := 1; id < r.nextID; id++ {
		e, ok := r.entries[id]
		if ok && e.TournamentID == tournamentID && wanted[e.ParticipantID] {
			copied := *e
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeRankingRepo) pointsFor(tournamentID, participantID int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byParticipant[[2]int{tournamentID, participantID}]
	if !ok {
		return 0
	}
	return r.entries[id].TotalPoints
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []interface{}
}

func (n *fakeNotifier) BroadcastToRoom(roomID string, message interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

type fakeAggregator struct {
	mu      sync.Mutex
	applied []*models.MatchResult
	err     error
}

func (a *fakeAggregator) Apply(ctx context.Context, result *models.MatchResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.applied = append(a.applied, result)
	return nil
}

func (a *fakeAggregator) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.applied)
}

type fakeTracker struct {
	mu     sync.Mutex
	calls  int
	status models.StageStatus
	err    error
}

func (t *fakeTracker) Evaluate(ctx context.Context, stageID int) (models.StageStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	if t.err != nil {
		return "", t.err
	}
	if t.status == "" {
		return models.StageInProgress, nil
	}
	return t.status, nil
}

func (t *fakeTracker) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

type fakeResolver struct {
	mu    sync.Mutex
	calls []int
	err   error
}

func (r *fakeResolver) Resolve(ctx context.Context, stageID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, stageID)
	return r.err
}

func (r *fakeResolver) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type fakeArchiver struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (a *fakeArchiver) ArchiveStandings(ctx context.Context, stage *models.Stage, ranked []*models.RankingEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return a.err
}

func (a *fakeArchiver) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func groupStage(id int, code string, status models.StageStatus) *models.Stage {
	return &models.Stage{
		ID:           id,
		TournamentID: 1,
		Name:         "Group " + code,
		Kind:         models.StageKindGroup,
		GroupCode:    &code,
		Status:       status,
	}
}
