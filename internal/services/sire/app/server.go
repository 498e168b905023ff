package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sire-training/sire/internal/platform/timeouts"
	"github.com/sire-training/sire/internal/services/sire/audit"
	"github.com/sire-training/sire/internal/services/sire/escalation"
	"github.com/sire-training/sire/internal/services/sire/scenario"
	"github.com/sire-training/sire/internal/services/sire/session"
)

const (
	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3

	peerQueueSize = 64

	defaultAPIKeyHeader    = "x-api-key"
	defaultRequestIDHeader = "x-request-id"
	defaultTicketHeader    = "x-ticket-id"
)

// Config defines the inputs for the SIRE HTTP and WebSocket boundary.
type Config struct {
	HTTPAddr string

	MaxTrainees    int
	AllowedOrigins []string

	APIKey             string
	RequireAPIKey      bool
	APIKeyHeader       string
	SocketAPIKeyHeader string
	RequestIDHeader    string
	TicketHeader       string
	RequireTicketID    bool

	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration

	// Catalog defaults to the built-in scenarios.
	Catalog *scenario.Catalog
	// Audit may be nil; audit events are then discarded.
	Audit *audit.Emitter
	// Scheduler defaults to wall-clock timers.
	Scheduler escalation.Scheduler
}

func (c Config) withDefaults() (Config, error) {
	if c.MaxTrainees <= 0 {
		c.MaxTrainees = session.DefaultMaxTrainees
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	c.APIKeyHeader = headerOrDefault(c.APIKeyHeader, defaultAPIKeyHeader)
	c.SocketAPIKeyHeader = headerOrDefault(c.SocketAPIKeyHeader, defaultAPIKeyHeader)
	c.RequestIDHeader = headerOrDefault(c.RequestIDHeader, defaultRequestIDHeader)
	c.TicketHeader = headerOrDefault(c.TicketHeader, defaultTicketHeader)
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = timeouts.Shutdown
	}
	if c.Catalog == nil {
		catalog, err := scenario.Builtin()
		if err != nil {
			return Config{}, fmt.Errorf("load built-in scenarios: %w", err)
		}
		c.Catalog = catalog
	}
	return c, nil
}

func headerOrDefault(value, fallback string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return fallback
	}
	return value
}

// Server hosts the SIRE HTTP/WebSocket process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	gateway         *gateway
}

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type wsError struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId"`
}

type joinPayload struct {
	SessionCode string `json:"sessionCode"`
	DisplayName string `json:"displayName"`
}

type startPayload struct {
	SessionCode string `json:"sessionCode"`
}

type injectPayload struct {
	SessionCode string `json:"sessionCode"`
	Message     string `json:"message"`
	Severity    string `json:"severity"`
}

type eventLogPayload struct {
	SessionCode string `json:"sessionCode"`
	Action      string `json:"action"`
	Rationale   string `json:"rationale"`
	DisplayName string `json:"displayName"`
}

type rosterEntry struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
}

type joinedPayload struct {
	SessionCode          string        `json:"sessionCode"`
	Roster               []rosterEntry `json:"roster"`
	CurrentTimelineIndex int           `json:"currentTimelineIndex"`
}

type logBroadcast struct {
	ActorRole    string `json:"actorRole"`
	DisplayName  string `json:"displayName"`
	Action       string `json:"action"`
	Rationale    string `json:"rationale,omitempty"`
	TimestampISO string `json:"timestampIso"`
}

type timelineTickPayload struct {
	Index         int     `json:"index"`
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	TimeOffsetSec float64 `json:"timeOffsetSec"`
}

type sessionEndPayload struct {
	SessionCode string `json:"sessionCode"`
}

type sessionCreatePayload struct {
	SessionCode string `json:"sessionCode"`
	ScenarioKey string `json:"scenarioKey"`
}

// NewHandler builds the full HTTP surface without binding a listener.
func NewHandler(config Config) (http.Handler, error) {
	g, err := newGateway(config)
	if err != nil {
		return nil, err
	}
	return g.routes(), nil
}

// NewServer creates a server for config.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	g, err := newGateway(config)
	if err != nil {
		return nil, err
	}
	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: g.cfg.ShutdownTimeout,
		httpServer: &http.Server{
			Addr:              httpAddr,
			Handler:           g.routes(),
			ReadHeaderTimeout: g.cfg.ReadHeaderTimeout,
		},
		gateway: g,
	}, nil
}

// Run creates a server and serves until ctx ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init sire server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve sire: %w", err)
	}
	return nil
}

// ListenAndServe serves HTTP until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("sire server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	group, groupCtx := errgroup.WithContext(ctx)
	log.Printf("sire: server listening on %s", s.httpAddr)
	group.Go(func() error {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		s.gateway.shutdown()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	})
	return group.Wait()
}

// Close stops timelines and disconnects every realtime client.
func (s *Server) Close() {
	if s == nil || s.gateway == nil {
		return
	}
	s.gateway.shutdown()
}
