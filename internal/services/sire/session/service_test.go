package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	apperrors "github.com/sire-training/sire/internal/platform/errors"
	"github.com/sire-training/sire/internal/services/sire/scenario"
)

type fakeTimeline struct {
	mu      sync.Mutex
	started []string
	stopped []string
	// calls holds "start:CODE" and "stop:CODE" in call order.
	calls []string
	// registry, when set, is inspected on stop to prove ordering.
	registry      *Registry
	presentOnStop []bool
}

func (f *fakeTimeline) StartTimeline(_ context.Context, code string, _ scenario.Scenario) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, code)
	f.calls = append(f.calls, "start:"+code)
}

func (f *fakeTimeline) StopTimeline(code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, code)
	f.calls = append(f.calls, "stop:"+code)
	if f.registry != nil {
		_, ok := f.registry.Get(code)
		f.presentOnStop = append(f.presentOnStop, ok)
	}
}

func newTestService(t *testing.T, maxTrainees int) (*Service, *Registry, *fakeTimeline) {
	t.Helper()
	registry := NewRegistry()
	catalog, err := scenario.Builtin()
	if err != nil {
		t.Fatalf("builtin catalog: %v", err)
	}
	timeline := &fakeTimeline{registry: registry}
	return NewService(registry, catalog, timeline, maxTrainees), registry, timeline
}

func TestCreateSessionUnknownScenario(t *testing.T) {
	svc, registry, _ := newTestService(t, 10)
	_, err := svc.CreateSession(CreateInput{ScenarioKey: "volcano", InstructorDisplayName: "inst"})
	if !errors.Is(err, apperrors.New(apperrors.CodeScenarioNotFound, "")) {
		t.Fatalf("error = %v, want scenario not found", err)
	}
	if registry.Len() != 0 {
		t.Fatalf("len = %d, want 0", registry.Len())
	}
}

func TestJoinSessionCapacity(t *testing.T) {
	svc, _, _ := newTestService(t, 2)
	record, err := svc.CreateSession(CreateInput{ScenarioKey: "fire", InstructorDisplayName: "inst"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := svc.JoinSession(JoinInput{SessionCode: record.SessionCode, ConnectionID: fmt.Sprintf("c%d", i), DisplayName: "t"}); err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
	}
	_, err = svc.JoinSession(JoinInput{SessionCode: record.SessionCode, ConnectionID: "c3", DisplayName: "late"})
	if apperrors.CodeOf(err) != apperrors.CodeSessionAtCapacity {
		t.Fatalf("error code = %q, want %q", apperrors.CodeOf(err), apperrors.CodeSessionAtCapacity)
	}
	got, _ := svc.GetSession(record.SessionCode)
	if len(got.Trainees) != 2 {
		t.Fatalf("trainees = %d, want 2", len(got.Trainees))
	}
}

func TestJoinSessionConcurrentCapacity(t *testing.T) {
	svc, _, _ := newTestService(t, 10)
	record, err := svc.CreateSession(CreateInput{ScenarioKey: "flood", InstructorDisplayName: "inst"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.JoinSession(JoinInput{SessionCode: record.SessionCode, ConnectionID: fmt.Sprintf("c%d", i), DisplayName: "t"})
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if accepted != 10 {
		t.Fatalf("accepted = %d, want 10", accepted)
	}
	got, _ := svc.GetSession(record.SessionCode)
	if len(got.Trainees) != 10 {
		t.Fatalf("trainees = %d, want 10", len(got.Trainees))
	}
}

func TestJoinSessionUnknownCode(t *testing.T) {
	svc, _, _ := newTestService(t, 10)
	_, err := svc.JoinSession(JoinInput{SessionCode: "ZZZZZZ", ConnectionID: "c1", DisplayName: "t"})
	if apperrors.CodeOf(err) != apperrors.CodeSessionNotFound {
		t.Fatalf("error code = %q, want %q", apperrors.CodeOf(err), apperrors.CodeSessionNotFound)
	}
}

func TestRemoveSessionStopsTimelineFirst(t *testing.T) {
	svc, registry, timeline := newTestService(t, 10)
	record, err := svc.CreateSession(CreateInput{ScenarioKey: "fire", InstructorDisplayName: "inst"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	removed, err := svc.RemoveSession(record.SessionCode)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if removed.SessionCode != record.SessionCode {
		t.Fatalf("removed code = %q, want %q", removed.SessionCode, record.SessionCode)
	}
	if len(timeline.stopped) != 1 || timeline.stopped[0] != record.SessionCode {
		t.Fatalf("stopped = %v", timeline.stopped)
	}
	if !timeline.presentOnStop[0] {
		t.Fatal("expected record to exist while timeline was stopped")
	}
	if registry.Len() != 0 {
		t.Fatalf("len = %d, want 0", registry.Len())
	}

	_, err = svc.RemoveSession(record.SessionCode)
	if apperrors.CodeOf(err) != apperrors.CodeSessionNotFound {
		t.Fatalf("second remove code = %q, want %q", apperrors.CodeOf(err), apperrors.CodeSessionNotFound)
	}
	if len(timeline.stopped) != 1 {
		t.Fatalf("stopped = %v, want one stop", timeline.stopped)
	}
}

func TestStartSessionHandsScenarioToTimeline(t *testing.T) {
	svc, _, timeline := newTestService(t, 10)
	record, err := svc.CreateSession(CreateInput{ScenarioKey: "fire", InstructorDisplayName: "inst"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, sc, err := svc.StartSession(context.Background(), record.SessionCode, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if sc.Key != "fire" {
		t.Fatalf("scenario key = %q, want fire", sc.Key)
	}
	if len(timeline.started) != 1 || timeline.started[0] != record.SessionCode {
		t.Fatalf("started = %v", timeline.started)
	}

	_, _, err = svc.StartSession(context.Background(), "NOPE00", nil)
	if apperrors.CodeOf(err) != apperrors.CodeSessionNotFound {
		t.Fatalf("error code = %q, want %q", apperrors.CodeOf(err), apperrors.CodeSessionNotFound)
	}
}

func TestStartSessionRunsHookBeforeTimeline(t *testing.T) {
	svc, _, timeline := newTestService(t, 10)
	record, err := svc.CreateSession(CreateInput{ScenarioKey: "fire", InstructorDisplayName: "inst"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var startedAtHook int
	hookCalls := 0
	_, _, err = svc.StartSession(context.Background(), record.SessionCode, func(got Record) {
		hookCalls++
		if got.SessionCode != record.SessionCode {
			t.Fatalf("hook record = %q, want %q", got.SessionCode, record.SessionCode)
		}
		timeline.mu.Lock()
		startedAtHook = len(timeline.started)
		timeline.mu.Unlock()
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if hookCalls != 1 || startedAtHook != 0 {
		t.Fatalf("hook calls = %d, timelines started before hook = %d", hookCalls, startedAtHook)
	}

	_, _, err = svc.StartSession(context.Background(), "NOPE00", func(Record) {
		t.Fatal("hook must not run for an unknown session")
	})
	if apperrors.CodeOf(err) != apperrors.CodeSessionNotFound {
		t.Fatalf("error code = %q, want %q", apperrors.CodeOf(err), apperrors.CodeSessionNotFound)
	}
}

func TestStartSessionSerializesWithRemove(t *testing.T) {
	svc, _, timeline := newTestService(t, 10)
	const n = 50
	codes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		record, err := svc.CreateSession(CreateInput{ScenarioKey: "fire", InstructorDisplayName: "inst"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		codes = append(codes, record.SessionCode)
	}

	var wg sync.WaitGroup
	for _, code := range codes {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _, _ = svc.StartSession(context.Background(), code, nil)
		}()
		go func() {
			defer wg.Done()
			_, _ = svc.RemoveSession(code)
		}()
	}
	wg.Wait()

	stopped := make(map[string]bool, n)
	for _, call := range timeline.calls {
		kind, code, _ := strings.Cut(call, ":")
		switch kind {
		case "stop":
			stopped[code] = true
		case "start":
			if stopped[code] {
				t.Fatalf("timeline started for %s after it was removed (calls %v)", code, timeline.calls)
			}
		}
	}
	if len(stopped) != n {
		t.Fatalf("stopped %d sessions, want %d", len(stopped), n)
	}
}

func TestListSessionsClampsLimit(t *testing.T) {
	svc, _, _ := newTestService(t, 10)
	for i := 0; i < 3; i++ {
		if _, err := svc.CreateSession(CreateInput{ScenarioKey: "fire", InstructorDisplayName: "inst"}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if got := len(svc.ListSessions(0)); got != 3 {
		t.Fatalf("list(0) = %d, want 3", got)
	}
	if got := len(svc.ListSessions(1)); got != 1 {
		t.Fatalf("list(1) = %d, want 1", got)
	}
}
