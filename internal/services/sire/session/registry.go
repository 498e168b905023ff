// Package session owns the authoritative in-memory session store and the
// lifecycle operations built on top of it.
package session

import (
	"fmt"
	"slices"
	"sync"
	"time"

	apperrors "github.com/sire-training/sire/internal/platform/errors"
	"github.com/sire-training/sire/internal/platform/id"
)

// InitialTimelineIndex is the cursor of a session whose timeline has not
// fired yet.
const InitialTimelineIndex = -1

const defaultCodeAttempts = 16

// Trainee is a participant that joined over the realtime channel.
type Trainee struct {
	ConnectionID string
	DisplayName  string
}

// Record is a snapshot of one session. Callers always receive copies.
type Record struct {
	SessionCode           string
	ScenarioKey           string
	InstructorDisplayName string
	CreatedAt             time.Time
	Trainees              []Trainee
	CurrentTimelineIndex  int
	IsActive              bool
}

func (r *Record) clone() Record {
	out := *r
	out.Trainees = slices.Clone(r.Trainees)
	if out.Trainees == nil {
		out.Trainees = []Trainee{}
	}
	return out
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithCodeGenerator replaces the session code generator.
func WithCodeGenerator(generate func() (string, error)) RegistryOption {
	return func(r *Registry) {
		if generate != nil {
			r.newCode = generate
		}
	}
}

// WithClock replaces the creation timestamp source.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithCodeAttempts bounds how many codes Create tries before giving up.
func WithCodeAttempts(attempts int) RegistryOption {
	return func(r *Registry) {
		if attempts > 0 {
			r.attempts = attempts
		}
	}
}

// Registry stores session records keyed by session code.
type Registry struct {
	mu       sync.Mutex
	records  map[string]*Record
	order    []string
	newCode  func() (string, error)
	now      func() time.Time
	attempts int
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		records:  make(map[string]*Record),
		newCode:  id.NewSessionCode,
		now:      time.Now,
		attempts: defaultCodeAttempts,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create stores a new record under a freshly generated unique code.
func (r *Registry) Create(scenarioKey, instructorName string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, err := r.uniqueCodeLocked()
	if err != nil {
		return Record{}, err
	}
	record := &Record{
		SessionCode:           code,
		ScenarioKey:           scenarioKey,
		InstructorDisplayName: instructorName,
		CreatedAt:             r.now().UTC(),
		Trainees:              []Trainee{},
		CurrentTimelineIndex:  InitialTimelineIndex,
	}
	r.records[code] = record
	r.order = append(r.order, code)
	return record.clone(), nil
}

func (r *Registry) uniqueCodeLocked() (string, error) {
	for range r.attempts {
		code, err := r.newCode()
		if err != nil {
			return "", apperrors.Wrap(apperrors.CodeInternal, "generate session code", err)
		}
		if _, taken := r.records[code]; !taken {
			return code, nil
		}
	}
	return "", apperrors.New(apperrors.CodeInternal, fmt.Sprintf("no free session code after %d attempts", r.attempts))
}

// Get returns a copy of the record for code.
func (r *Registry) Get(code string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[code]
	if !ok {
		return Record{}, false
	}
	return record.clone(), true
}

// List returns records in creation order. A non-positive limit returns all.
func (r *Registry) List(limit int) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.order)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Record, 0, n)
	for _, code := range r.order[:n] {
		out = append(out, r.records[code].clone())
	}
	return out
}

// Remove deletes code and returns the final snapshot.
func (r *Registry) Remove(code string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[code]
	if !ok {
		return Record{}, false
	}
	delete(r.records, code)
	r.order = slices.DeleteFunc(r.order, func(c string) bool { return c == code })
	return record.clone(), true
}

// AddTrainee appends trainee to the roster of code.
func (r *Registry) AddTrainee(code string, trainee Trainee) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[code]
	if !ok {
		return Record{}, false
	}
	record.Trainees = append(record.Trainees, trainee)
	return record.clone(), true
}

// AdvanceTimeline moves the cursor of code forward by one and returns the new
// index.
func (r *Registry) AdvanceTimeline(code string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[code]
	if !ok {
		return 0, false
	}
	record.CurrentTimelineIndex++
	return record.CurrentTimelineIndex, true
}

// SetActive toggles whether the timeline of code is running.
func (r *Registry) SetActive(code string, active bool) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[code]
	if !ok {
		return Record{}, false
	}
	record.IsActive = active
	return record.clone(), true
}

// Len reports how many sessions are stored.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
