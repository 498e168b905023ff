package sire

import (
	"bytes"
	"context"
	"flag"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/sire-training/sire/internal/services/sire/audit"
	auditsqlite "github.com/sire-training/sire/internal/services/sire/audit/sqlite"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("sire", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("expected default http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.MaxTrainees != 10 {
		t.Fatalf("expected default max trainees, got %d", cfg.MaxTrainees)
	}
	if cfg.AllowedOrigins != "*" {
		t.Fatalf("expected default origins, got %q", cfg.AllowedOrigins)
	}
	if !cfg.RequireAPIKey || !cfg.RequireTicketID || !cfg.AuditLogEnabled {
		t.Fatalf("expected guards enabled by default, got %+v", cfg)
	}
	if cfg.APIKeyHeader != "x-api-key" || cfg.RequestIDHeader != "x-request-id" || cfg.TicketHeader != "x-ticket-id" {
		t.Fatalf("unexpected default headers: %+v", cfg)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("SIRE_HTTP_ADDR", "env-addr")
	t.Setenv("SIRE_SESSION_MAX_TRAINEES", "4")
	t.Setenv("SIRE_REQUIRE_TICKET_ID", "false")
	t.Setenv("SIRE_API_KEY", "env-key")

	fs := flag.NewFlagSet("sire", flag.ContinueOnError)
	args := []string{
		"-http-addr", "flag-addr",
		"-allowed-origins", "https://a.example, https://b.example",
		"-audit-db", "audit.db",
	}
	cfg, err := ParseConfig(fs, args)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != "flag-addr" {
		t.Fatalf("expected flag http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.MaxTrainees != 4 {
		t.Fatalf("expected env max trainees, got %d", cfg.MaxTrainees)
	}
	if cfg.RequireTicketID {
		t.Fatal("expected env to disable ticket requirement")
	}
	if cfg.APIKey != "env-key" {
		t.Fatalf("expected env api key, got %q", cfg.APIKey)
	}
	if cfg.AuditDBPath != "audit.db" {
		t.Fatalf("expected flag audit db, got %q", cfg.AuditDBPath)
	}

	sc := serverConfig(cfg, nil, nil)
	want := []string{"https://a.example", "https://b.example"}
	if !reflect.DeepEqual(sc.AllowedOrigins, want) {
		t.Fatalf("allowed origins = %v, want %v", sc.AllowedOrigins, want)
	}
}

func TestParseConfigRejectsUnknownFlag(t *testing.T) {
	fs := flag.NewFlagSet("sire", flag.ContinueOnError)
	fs.SetOutput(&bytes.Buffer{})
	if _, err := ParseConfig(fs, []string{"-nope"}); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

func TestSplitList(t *testing.T) {
	if got := splitList(" , "); len(got) != 0 {
		t.Fatalf("splitList blanks = %v, want empty", got)
	}
	if got := splitList("*"); !reflect.DeepEqual(got, []string{"*"}) {
		t.Fatalf("splitList(*) = %v", got)
	}
}

func TestOpenAuditDisabled(t *testing.T) {
	emitter, closeAudit, err := openAudit(context.Background(), Config{AuditLogEnabled: false}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("open audit: %v", err)
	}
	defer closeAudit()
	if emitter.Enabled() {
		t.Fatal("expected disabled emitter")
	}
}

func TestOpenAuditWritesLogAndStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.db")
	var out bytes.Buffer
	emitter, closeAudit, err := openAudit(ctx, Config{
		AuditLogEnabled: true,
		AuditDBPath:     path,
		LogLevel:        "info",
	}, &out)
	if err != nil {
		t.Fatalf("open audit: %v", err)
	}
	emitter.Emit(ctx, audit.Event{
		Action:  audit.ActionSessionCreate,
		Actor:   "api-key",
		Context: map[string]any{"sessionCode": "ABC123"},
		Outcome: audit.OutcomeSuccess,
	})
	closeAudit()

	if !strings.Contains(out.String(), `"action":"session:create"`) {
		t.Fatalf("log output = %q, want session:create record", out.String())
	}

	store, err := auditsqlite.Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer store.Close()
	events, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].Action != audit.ActionSessionCreate || events[0].Actor != "api-key" {
		t.Fatalf("events = %#v", events)
	}
}
