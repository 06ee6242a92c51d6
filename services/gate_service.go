package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/fixturelab/tournament-core/repositories"
)

// ReasonParticipantsNotDetermined is returned while a bracket slot's upstream
// group has not resolved.
const ReasonParticipantsNotDetermined = "participants_not_determined"

// StartGate answers "may this match start?".
type StartGate struct {
	Ready        bool   `json:"ready"`
	Reason       string `json:"reason,omitempty"`
	Participants []int  `json:"participants,omitempty"`
}

// GateService is the read-only prerequisite check consulted before result
// entry may begin for a match. It never mutates anything.
type GateService interface {
	CanStart(ctx context.Context, matchID int) (StartGate, error)
}

type gateService struct {
	matchRepo repositories.MatchRepository
}

func NewGateService(matchRepo repositories.MatchRepository) GateService {
	return &gateService{matchRepo: matchRepo}
}

func (s *gateService) CanStart(ctx context.Context, matchID int) (StartGate, error) {
	match, err := s.matchRepo.GetByID(ctx, nil, matchID)
	if err != nil {
		if errors.Is(err, repositories.ErrMatchNotFound) {
			return StartGate{}, ErrMatchNotFound
		}
		return StartGate{}, fmt.Errorf("failed to load match %d: %w", matchID, err)
	}

	participants := match.ExpectedParticipants()
	if participants == nil {
		return StartGate{Ready: false, Reason: ReasonParticipantsNotDetermined}, nil
	}
	return StartGate{Ready: true, Participants: participants}, nil
}
