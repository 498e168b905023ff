// Package escalation schedules scenario timeline events for running sessions.
package escalation

import (
	"cmp"
	"context"
	"math"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	platformotel "github.com/sire-training/sire/internal/platform/otel"
	"github.com/sire-training/sire/internal/services/sire/scenario"
	"github.com/sire-training/sire/internal/services/sire/session"
)

// minTerminalOffsetSeconds keeps the end marker at least this far out, even
// for timelines that only hold immediate events.
const minTerminalOffsetSeconds = 1

// Handle cancels one armed timer.
type Handle interface {
	Stop() bool
}

// Scheduler arms one-shot timers.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Handle
}

type wallClock struct{}

func (wallClock) AfterFunc(d time.Duration, f func()) Handle {
	return time.AfterFunc(d, f)
}

// Timeline is the slice of the session registry the engine mutates.
type Timeline interface {
	AdvanceTimeline(code string) (int, bool)
	SetActive(code string, active bool) (session.Record, bool)
}

// Tick is one delivered timeline event.
type Tick struct {
	Index         int
	Title         string
	Description   string
	OffsetSeconds float64
}

// Broadcaster delivers engine output to a session room. Implementations must
// not block.
type Broadcaster interface {
	TimelineTick(code string, tick Tick)
	SessionEnded(code string)
}

// Option customizes an Engine.
type Option func(*Engine)

// WithScheduler replaces the wall-clock scheduler.
func WithScheduler(s Scheduler) Option {
	return func(e *Engine) {
		if s != nil {
			e.scheduler = s
		}
	}
}

type pendingEvent struct {
	title       string
	description string
	offset      float64
}

type schedule struct {
	ctx     context.Context
	events  []pendingEvent
	next    int
	handles []Handle
}

func (s *schedule) stop() {
	for _, h := range s.handles {
		h.Stop()
	}
	s.handles = nil
}

// Engine owns at most one armed schedule per session code.
type Engine struct {
	mu        sync.Mutex
	schedules map[string]*schedule
	timeline  Timeline
	broadcast Broadcaster
	scheduler Scheduler
	tracer    trace.Tracer
}

// NewEngine creates an engine that advances timeline and reports to
// broadcast.
func NewEngine(timeline Timeline, broadcast Broadcaster, opts ...Option) *Engine {
	e := &Engine{
		schedules: make(map[string]*schedule),
		timeline:  timeline,
		broadcast: broadcast,
		scheduler: wallClock{},
		tracer:    platformotel.Tracer("internal/services/sire/escalation"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StartTimeline replaces any schedule for code with the events of sc. Nothing
// is armed when the session no longer exists.
func (e *Engine) StartTimeline(ctx context.Context, code string, sc scenario.Scenario) {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.schedules[code]; ok {
		existing.stop()
		delete(e.schedules, code)
	}

	events := make([]pendingEvent, 0, len(sc.Timeline))
	for _, ev := range sc.Timeline {
		events = append(events, pendingEvent{
			title:       ev.Title,
			description: ev.Description,
			offset:      NormalizeOffset(ev.OffsetSeconds),
		})
	}
	// Stable so equal offsets keep file order.
	slices.SortStableFunc(events, func(a, b pendingEvent) int {
		return cmp.Compare(a.offset, b.offset)
	})

	if _, ok := e.timeline.SetActive(code, true); !ok {
		return
	}

	sched := &schedule{ctx: context.WithoutCancel(ctx), events: events}
	e.schedules[code] = sched

	terminal := float64(minTerminalOffsetSeconds)
	for i, ev := range events {
		upTo := i
		sched.handles = append(sched.handles, e.scheduler.AfterFunc(seconds(ev.offset), func() {
			e.fire(code, sched, upTo)
		}))
		terminal = max(terminal, ev.offset)
	}
	sched.handles = append(sched.handles, e.scheduler.AfterFunc(seconds(terminal+1), func() {
		e.finish(code, sched)
	}))
}

// StopTimeline cancels the schedule for code and marks the session inactive.
// Unknown codes and repeated calls are no-ops.
func (e *Engine) StopTimeline(code string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sched, ok := e.schedules[code]
	if !ok {
		return
	}
	sched.stop()
	delete(e.schedules, code)
	e.timeline.SetActive(code, false)
}

// StopAll cancels every schedule.
func (e *Engine) StopAll() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for code, sched := range e.schedules {
		sched.stop()
		delete(e.schedules, code)
		e.timeline.SetActive(code, false)
	}
}

// Running reports whether a schedule is armed for code.
func (e *Engine) Running(code string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.schedules[code]
	return ok
}

// Remaining reports how many events of the armed schedule for code have not
// been delivered yet.
func (e *Engine) Remaining(code string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	sched, ok := e.schedules[code]
	if !ok {
		return 0
	}
	return len(sched.events) - sched.next
}

// fire delivers every undelivered event up to and including index upTo.
func (e *Engine) fire(code string, sched *schedule, upTo int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.schedules[code] != sched {
		return
	}
	e.deliverLocked(code, sched, upTo)
}

func (e *Engine) finish(code string, sched *schedule) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.schedules[code] != sched {
		return
	}
	e.deliverLocked(code, sched, len(sched.events)-1)
	delete(e.schedules, code)

	_, span := e.tracer.Start(sched.ctx, "escalation.session_end",
		trace.WithAttributes(attribute.String("sire.session_code", code)))
	defer span.End()

	if _, ok := e.timeline.SetActive(code, false); !ok {
		return
	}
	e.broadcast.SessionEnded(code)
}

func (e *Engine) deliverLocked(code string, sched *schedule, upTo int) {
	for sched.next <= upTo && sched.next < len(sched.events) {
		ev := sched.events[sched.next]
		sched.next++

		_, span := e.tracer.Start(sched.ctx, "escalation.tick",
			trace.WithAttributes(
				attribute.String("sire.session_code", code),
				attribute.Float64("sire.offset_seconds", ev.offset),
			))
		index, ok := e.timeline.AdvanceTimeline(code)
		if !ok {
			span.End()
			return
		}
		span.SetAttributes(attribute.Int("sire.timeline_index", index))
		e.broadcast.TimelineTick(code, Tick{
			Index:         index,
			Title:         ev.title,
			Description:   ev.description,
			OffsetSeconds: ev.offset,
		})
		span.End()
	}
}

// NormalizeOffset maps negative and non-finite offsets to zero.
func NormalizeOffset(offset float64) float64 {
	if math.IsNaN(offset) || math.IsInf(offset, 0) || offset < 0 {
		return 0
	}
	return offset
}

// seconds converts a normalized offset, saturating at the largest Duration.
func seconds(offset float64) time.Duration {
	nanos := offset * float64(time.Second)
	if nanos >= float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(nanos)
}
