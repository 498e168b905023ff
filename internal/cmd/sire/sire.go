// Package sire parses SIRE command configuration and composes the simulation
// server with its scenario catalog and audit trail.
package sire

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	entrypoint "github.com/sire-training/sire/internal/platform/cmd"
	"github.com/sire-training/sire/internal/platform/timeouts"
	server "github.com/sire-training/sire/internal/services/sire/app"
	"github.com/sire-training/sire/internal/services/sire/audit"
	auditsqlite "github.com/sire-training/sire/internal/services/sire/audit/sqlite"
	"github.com/sire-training/sire/internal/services/sire/scenario"
)

// Config holds SIRE command configuration.
type Config struct {
	HTTPAddr           string `env:"SIRE_HTTP_ADDR"              envDefault:":8080"`
	MaxTrainees        int    `env:"SIRE_SESSION_MAX_TRAINEES"   envDefault:"10"`
	AllowedOrigins     string `env:"SIRE_ALLOWED_ORIGINS"        envDefault:"*"`
	APIKey             string `env:"SIRE_API_KEY"`
	RequireAPIKey      bool   `env:"SIRE_REQUIRE_API_KEY"        envDefault:"true"`
	APIKeyHeader       string `env:"SIRE_API_KEY_HEADER"         envDefault:"x-api-key"`
	SocketAPIKeyHeader string `env:"SIRE_SOCKET_API_KEY_HEADER"  envDefault:"x-api-key"`
	RequestIDHeader    string `env:"SIRE_REQUEST_ID_HEADER"      envDefault:"x-request-id"`
	TicketHeader       string `env:"SIRE_TICKET_HEADER"          envDefault:"x-ticket-id"`
	RequireTicketID    bool   `env:"SIRE_REQUIRE_TICKET_ID"      envDefault:"true"`
	AuditLogEnabled    bool   `env:"SIRE_AUDIT_LOG_ENABLED"      envDefault:"true"`
	AuditDBPath        string `env:"SIRE_AUDIT_DB_PATH"`
	ScenariosDir       string `env:"SIRE_SCENARIOS_DIR"`
	LogLevel           string `env:"SIRE_LOG_LEVEL"              envDefault:"info"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "SIRE HTTP listen address")
	fs.IntVar(&cfg.MaxTrainees, "max-trainees", cfg.MaxTrainees, "Maximum trainees per session")
	fs.StringVar(&cfg.AllowedOrigins, "allowed-origins", cfg.AllowedOrigins, "Comma-separated allowed origins, * for any")
	fs.StringVar(&cfg.APIKey, "api-key", cfg.APIKey, "Shared API key for REST and WebSocket clients")
	fs.StringVar(&cfg.AuditDBPath, "audit-db", cfg.AuditDBPath, "SQLite audit trail path (empty disables)")
	fs.StringVar(&cfg.ScenariosDir, "scenarios-dir", cfg.ScenariosDir, "Directory with extra scenario files")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Audit log level (debug, info, warn, error)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the SIRE server and serves until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceSire, func(ctx context.Context) error {
		catalog, err := scenario.Load(cfg.ScenariosDir)
		if err != nil {
			return err
		}
		emitter, closeAudit, err := openAudit(ctx, cfg, os.Stdout)
		if err != nil {
			return err
		}
		defer closeAudit()

		if err := server.Run(ctx, serverConfig(cfg, catalog, emitter)); err != nil {
			return fmt.Errorf("serve sire: %w", err)
		}
		return nil
	})
}

func serverConfig(cfg Config, catalog *scenario.Catalog, emitter *audit.Emitter) server.Config {
	return server.Config{
		HTTPAddr:           cfg.HTTPAddr,
		MaxTrainees:        cfg.MaxTrainees,
		AllowedOrigins:     splitList(cfg.AllowedOrigins),
		APIKey:             strings.TrimSpace(cfg.APIKey),
		RequireAPIKey:      cfg.RequireAPIKey,
		APIKeyHeader:       cfg.APIKeyHeader,
		SocketAPIKeyHeader: cfg.SocketAPIKeyHeader,
		RequestIDHeader:    cfg.RequestIDHeader,
		TicketHeader:       cfg.TicketHeader,
		RequireTicketID:    cfg.RequireTicketID,
		Catalog:            catalog,
		Audit:              emitter,
	}
}

// openAudit returns the emitter and a func that flushes it and closes the
// SQLite trail, if any.
func openAudit(ctx context.Context, cfg Config, out io.Writer) (*audit.Emitter, func(), error) {
	if !cfg.AuditLogEnabled {
		return audit.NewEmitter(nil), func() {}, nil
	}
	sinks := []audit.Sink{audit.NewLogSink(out, audit.ParseLevel(cfg.LogLevel))}

	var store *auditsqlite.Store
	if path := strings.TrimSpace(cfg.AuditDBPath); path != "" {
		opened, err := auditsqlite.Open(ctx, path)
		if err != nil {
			return nil, nil, fmt.Errorf("open audit store: %w", err)
		}
		store = opened
		sinks = append(sinks, store)
	}

	emitter := audit.NewEmitter(sinks)
	return emitter, func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), timeouts.AuditFlush)
		defer cancel()
		if err := emitter.Close(flushCtx); err != nil {
			log.Printf("sire: flush audit: %v", err)
		}
		if store != nil {
			if err := store.Close(); err != nil {
				log.Printf("sire: close audit store: %v", err)
			}
		}
	}, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
