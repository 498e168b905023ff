package session

import (
	"context"
	"sync"

	apperrors "github.com/sire-training/sire/internal/platform/errors"
	"github.com/sire-training/sire/internal/platform/pagination"
	"github.com/sire-training/sire/internal/services/sire/scenario"
)

// DefaultMaxTrainees caps a roster when no limit is configured.
const DefaultMaxTrainees = 10

// Catalog resolves scenario keys.
type Catalog interface {
	ScenarioByKey(key string) (scenario.Scenario, bool)
}

// Timeline runs and cancels scheduled scenario events for a session.
type Timeline interface {
	StartTimeline(ctx context.Context, code string, sc scenario.Scenario)
	StopTimeline(code string)
}

// CreateInput carries validated create parameters.
type CreateInput struct {
	ScenarioKey           string
	InstructorDisplayName string
}

// JoinInput carries validated join parameters.
type JoinInput struct {
	SessionCode  string
	ConnectionID string
	DisplayName  string
}

// Service executes session lifecycle operations.
type Service struct {
	mu          sync.Mutex
	registry    *Registry
	catalog     Catalog
	timeline    Timeline
	maxTrainees int
}

// NewService wires the lifecycle operations. A non-positive maxTrainees uses
// DefaultMaxTrainees.
func NewService(registry *Registry, catalog Catalog, timeline Timeline, maxTrainees int) *Service {
	if maxTrainees <= 0 {
		maxTrainees = DefaultMaxTrainees
	}
	return &Service{
		registry:    registry,
		catalog:     catalog,
		timeline:    timeline,
		maxTrainees: maxTrainees,
	}
}

// MaxTrainees reports the roster limit.
func (s *Service) MaxTrainees() int {
	return s.maxTrainees
}

// CreateSession registers a new session for a known scenario.
func (s *Service) CreateSession(input CreateInput) (Record, error) {
	if _, ok := s.catalog.ScenarioByKey(input.ScenarioKey); !ok {
		return Record{}, scenarioNotFound(input.ScenarioKey)
	}
	return s.registry.Create(input.ScenarioKey, input.InstructorDisplayName)
}

// GetSession returns the record for code.
func (s *Service) GetSession(code string) (Record, error) {
	record, ok := s.registry.Get(code)
	if !ok {
		return Record{}, sessionNotFound(code)
	}
	return record, nil
}

// JoinSession appends a trainee when the roster has room.
func (s *Service) JoinSession(input JoinInput) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.registry.Get(input.SessionCode)
	if !ok {
		return Record{}, sessionNotFound(input.SessionCode)
	}
	if len(record.Trainees) >= s.maxTrainees {
		return Record{}, apperrors.WithMetadata(apperrors.CodeSessionAtCapacity, "session at capacity", map[string]string{
			"session_code": input.SessionCode,
		})
	}
	updated, ok := s.registry.AddTrainee(input.SessionCode, Trainee{
		ConnectionID: input.ConnectionID,
		DisplayName:  input.DisplayName,
	})
	if !ok {
		return Record{}, sessionNotFound(input.SessionCode)
	}
	return updated, nil
}

// ListSessions returns up to limit sessions in creation order.
func (s *Service) ListSessions(limit int) []Record {
	return s.registry.List(pagination.ClampPageSize(limit, pagination.SessionList))
}

// StartSession resolves the session scenario and hands its timeline to the
// escalation engine. Starting a running session restarts its timeline.
// beforeStart, when set, runs after resolution and before the first timer is
// armed; a concurrent RemoveSession cannot interleave with either step.
func (s *Service) StartSession(ctx context.Context, code string, beforeStart func(Record)) (Record, scenario.Scenario, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.registry.Get(code)
	if !ok {
		return Record{}, scenario.Scenario{}, sessionNotFound(code)
	}
	sc, ok := s.catalog.ScenarioByKey(record.ScenarioKey)
	if !ok {
		return Record{}, scenario.Scenario{}, scenarioNotFound(record.ScenarioKey)
	}
	if beforeStart != nil {
		beforeStart(record)
	}
	s.timeline.StartTimeline(ctx, code, sc)
	return record, sc, nil
}

// RemoveSession cancels pending timeline events and deletes the session.
func (s *Service) RemoveSession(code string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.registry.Get(code); !ok {
		return Record{}, sessionNotFound(code)
	}
	s.timeline.StopTimeline(code)
	record, ok := s.registry.Remove(code)
	if !ok {
		return Record{}, sessionNotFound(code)
	}
	return record, nil
}

func sessionNotFound(code string) error {
	return apperrors.WithMetadata(apperrors.CodeSessionNotFound, "session not found", map[string]string{
		"session_code": code,
	})
}

func scenarioNotFound(key string) error {
	return apperrors.WithMetadata(apperrors.CodeScenarioNotFound, "scenario not found", map[string]string{
		"scenario_key": key,
	})
}
