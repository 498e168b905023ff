package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"slices"
	"time"

	"golang.org/x/net/websocket"

	apperrors "github.com/sire-training/sire/internal/platform/errors"
	"github.com/sire-training/sire/internal/platform/id"
	"github.com/sire-training/sire/internal/platform/requestctx"
	"github.com/sire-training/sire/internal/platform/timeouts"
	"github.com/sire-training/sire/internal/services/sire/audit"
	"github.com/sire-training/sire/internal/services/sire/escalation"
	"github.com/sire-training/sire/internal/services/sire/session"
	"github.com/sire-training/sire/internal/services/sire/validate"
)

const (
	actorAnonymous = "anonymous"
	actorAPIKey    = "api-key"

	roleTrainee = "trainee"
	roleAdmin   = "admin"

	adminDisplayName = "Instructor"
)

// gateway owns the session core and both client-facing surfaces.
type gateway struct {
	cfg      Config
	hub      *roomHub
	registry *session.Registry
	sessions *session.Service
	engine   *escalation.Engine
	audit    *audit.Emitter
}

func newGateway(config Config) (*gateway, error) {
	cfg, err := config.withDefaults()
	if err != nil {
		return nil, err
	}
	hub := newRoomHub()
	registry := session.NewRegistry()
	engine := escalation.NewEngine(registry, hub, escalation.WithScheduler(cfg.Scheduler))
	return &gateway{
		cfg:      cfg,
		hub:      hub,
		registry: registry,
		sessions: session.NewService(registry, cfg.Catalog, engine, cfg.MaxTrainees),
		engine:   engine,
		audit:    cfg.Audit,
	}, nil
}

func (g *gateway) shutdown() {
	g.engine.StopAll()
	g.hub.closeAll()
}

func (g *gateway) socketHandler() http.Handler {
	ws := websocket.Server{
		Handshake: g.checkOrigin,
		Handler:   g.handleWSConn,
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := g.authenticate(r, g.cfg.SocketAPIKeyHeader)
		if !ok {
			log.Printf("sire: websocket unauthorized for host=%q remote=%s", r.Host, r.RemoteAddr)
			g.audit.Emit(r.Context(), audit.Event{
				Action:        audit.ActionSocketAuthFailure,
				Actor:         "unknown",
				Context:       audit.BuildContext(map[string]any{"remoteAddr": r.RemoteAddr}, "remoteAddr"),
				Outcome:       audit.OutcomeDenied,
				CorrelationID: id.NewCorrelationID(),
			})
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		ws.ServeHTTP(w, r.WithContext(requestctx.WithActor(r.Context(), actor)))
	})
}

// authenticate checks the shared API key carried in header.
func (g *gateway) authenticate(r *http.Request, header string) (string, bool) {
	if !g.cfg.RequireAPIKey {
		return actorAnonymous, true
	}
	if g.cfg.APIKey == "" {
		return "", false
	}
	candidate := r.Header.Get(header)
	if subtle.ConstantTimeCompare([]byte(candidate), []byte(g.cfg.APIKey)) != 1 {
		return "", false
	}
	return actorAPIKey, true
}

func (g *gateway) allowAnyOrigin() bool {
	return slices.Contains(g.cfg.AllowedOrigins, "*")
}

func (g *gateway) checkOrigin(_ *websocket.Config, r *http.Request) error {
	if g.allowAnyOrigin() {
		return nil
	}
	origin := r.Header.Get("Origin")
	if origin == "" || !slices.Contains(g.cfg.AllowedOrigins, origin) {
		return fmt.Errorf("origin %q not allowed", origin)
	}
	return nil
}

func (g *gateway) handleWSConn(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	ctx := context.Background()
	if request := conn.Request(); request != nil {
		ctx = request.Context()
	}
	peer := newWSPeer(id.NewConnectionID(), requestctx.ActorFromContext(ctx))
	encoder := json.NewEncoder(conn)
	go peer.writeLoop(func(frame wsFrame) error {
		_ = conn.SetWriteDeadline(time.Now().Add(timeouts.SocketWrite))
		return encoder.Encode(frame)
	})

	g.hub.register(peer, func() { _ = conn.Close() })
	log.Printf("sire: client connected id=%s", peer.connectionID)
	g.auditSocket(peer, audit.ActionSocketConnected, audit.OutcomeSuccess, nil)
	defer func() {
		g.hub.unregister(peer)
		peer.finish()
		log.Printf("sire: client disconnected id=%s", peer.connectionID)
		g.auditSocket(peer, audit.ActionSocketDisconnected, audit.OutcomeSuccess, nil)
	}()

	conn.MaxPayloadBytes = 2 * maxFramePayloadBytes
	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var raw []byte
		if err := websocket.Message.Receive(conn, &raw); err != nil {
			if errors.Is(err, websocket.ErrFrameTooLarge) {
				writeWSError(peer, "", apperrors.CodeInvalidPayload, "payload too large")
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("sire: websocket read failed id=%s err=%v", peer.connectionID, err)
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			decodeErrors++
			writeWSError(peer, "", apperrors.CodeInvalidPayload, "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			writeWSError(peer, frame.RequestID, apperrors.CodeInvalidPayload, "payload too large")
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			writeWSError(peer, frame.RequestID, apperrors.CodeRateLimited, "rate limit exceeded")
			return
		}

		switch frame.Type {
		case "session:join":
			g.handleJoinFrame(peer, frame)
		case "session:start":
			g.handleStartFrame(ctx, peer, frame)
		case "admin:inject":
			g.handleInjectFrame(peer, frame)
		case "event:log":
			g.handleEventLogFrame(peer, frame)
		default:
			writeWSError(peer, frame.RequestID, apperrors.CodeInvalidPayload, "unsupported frame type")
		}
	}
}

func (g *gateway) handleJoinFrame(peer *wsPeer, frame wsFrame) {
	var payload joinPayload
	_ = json.Unmarshal(frame.Payload, &payload)
	code, codeOK := validate.SessionCode(payload.SessionCode)
	displayName, nameOK := validate.DisplayName(payload.DisplayName)
	if !codeOK || !nameOK {
		writeWSError(peer, frame.RequestID, apperrors.CodeInvalidPayload, "sessionCode and displayName are required")
		return
	}

	details := map[string]any{"sessionCode": code, "displayName": displayName, "connectionId": peer.connectionID}
	record, err := g.sessions.JoinSession(session.JoinInput{
		SessionCode:  code,
		ConnectionID: peer.connectionID,
		DisplayName:  displayName,
	})
	if err != nil {
		g.auditSocket(peer, audit.ActionSessionJoin, audit.OutcomeError, details, "sessionCode", "displayName", "connectionId")
		writeWSError(peer, frame.RequestID, apperrors.CodeOf(err), "Unable to join session")
		return
	}

	g.hub.join(code, peer)
	peer.send(wsFrame{
		Type:      "session:joined",
		RequestID: frame.RequestID,
		Payload: mustJSON(joinedPayload{
			SessionCode:          code,
			Roster:               rosterOf(record.Trainees),
			CurrentTimelineIndex: record.CurrentTimelineIndex,
		}),
	})
	g.hub.broadcast(code, logFrame(logBroadcast{
		ActorRole:   roleTrainee,
		DisplayName: displayName,
		Action:      "joined session",
	}))
	g.auditSocket(peer, audit.ActionSessionJoin, audit.OutcomeSuccess, details, "sessionCode", "displayName", "connectionId")
}

func (g *gateway) handleStartFrame(ctx context.Context, peer *wsPeer, frame wsFrame) {
	var payload startPayload
	_ = json.Unmarshal(frame.Payload, &payload)
	code, ok := validate.SessionCode(payload.SessionCode)
	if !ok {
		writeWSError(peer, frame.RequestID, apperrors.CodeInvalidPayload, "sessionCode is required")
		return
	}

	record, _, err := g.sessions.StartSession(ctx, code, func(session.Record) {
		g.hub.join(code, peer)
	})
	if err != nil {
		writeWSError(peer, frame.RequestID, apperrors.CodeOf(err), startErrorMessage(err))
		return
	}
	g.auditSocket(peer, audit.ActionSessionStart, audit.OutcomeSuccess,
		map[string]any{"sessionCode": code, "scenarioKey": record.ScenarioKey, "connectionId": peer.connectionID},
		"sessionCode", "scenarioKey", "connectionId")
}

func startErrorMessage(err error) string {
	if apperrors.CodeOf(err) == apperrors.CodeScenarioNotFound {
		return "Scenario not found"
	}
	return "Session not found"
}

func (g *gateway) handleInjectFrame(peer *wsPeer, frame wsFrame) {
	var payload injectPayload
	_ = json.Unmarshal(frame.Payload, &payload)
	code, codeOK := validate.SessionCode(payload.SessionCode)
	message, messageOK := validate.Message(payload.Message)
	severity, severityOK := validate.Severity(payload.Severity)
	if !codeOK || !messageOK || !severityOK {
		writeWSError(peer, frame.RequestID, apperrors.CodeInvalidPayload, "sessionCode, message, severity are required")
		return
	}

	if _, err := g.sessions.GetSession(code); err != nil {
		writeWSError(peer, frame.RequestID, apperrors.CodeOf(err), "Session not found")
		g.auditSocket(peer, audit.ActionAdminInject, audit.OutcomeDenied,
			map[string]any{"sessionCode": code, "error": string(apperrors.CodeOf(err))},
			"sessionCode", "error")
		return
	}
	g.hub.broadcast(code, logFrame(logBroadcast{
		ActorRole:   roleAdmin,
		DisplayName: adminDisplayName,
		Action:      message,
		Rationale:   severity,
	}))
	g.auditSocket(peer, audit.ActionAdminInject, audit.OutcomeSuccess,
		map[string]any{"sessionCode": code, "severity": severity, "connectionId": peer.connectionID},
		"sessionCode", "severity", "connectionId")
}

func (g *gateway) handleEventLogFrame(peer *wsPeer, frame wsFrame) {
	var payload eventLogPayload
	_ = json.Unmarshal(frame.Payload, &payload)
	code, codeOK := validate.SessionCode(payload.SessionCode)
	action, actionOK := validate.Action(payload.Action)
	displayName, nameOK := validate.DisplayName(payload.DisplayName)
	if !codeOK || !actionOK || !nameOK {
		writeWSError(peer, frame.RequestID, apperrors.CodeInvalidPayload, "sessionCode, action, displayName are required")
		return
	}
	rationale := validate.Rationale(payload.Rationale)

	if !g.hub.isMember(code, peer) {
		writeWSError(peer, frame.RequestID, apperrors.CodeForbidden, "You are not part of this session")
		g.auditSocket(peer, audit.ActionEventLog, audit.OutcomeDenied,
			map[string]any{"sessionCode": code, "displayName": displayName, "error": "not_in_room"},
			"sessionCode", "displayName", "error")
		return
	}
	if _, err := g.sessions.GetSession(code); err != nil {
		writeWSError(peer, frame.RequestID, apperrors.CodeOf(err), "Session not found")
		g.auditSocket(peer, audit.ActionEventLog, audit.OutcomeDenied,
			map[string]any{"sessionCode": code, "error": string(apperrors.CodeOf(err))},
			"sessionCode", "error")
		return
	}
	g.hub.broadcast(code, logFrame(logBroadcast{
		ActorRole:   roleTrainee,
		DisplayName: displayName,
		Action:      action,
		Rationale:   rationale,
	}))
	g.auditSocket(peer, audit.ActionEventLog, audit.OutcomeSuccess,
		map[string]any{"sessionCode": code, "displayName": displayName, "connectionId": peer.connectionID},
		"sessionCode", "displayName", "connectionId")
}

func (g *gateway) auditSocket(peer *wsPeer, action string, outcome audit.Outcome, details map[string]any, keys ...string) {
	if details == nil {
		details = map[string]any{"connectionId": peer.connectionID}
		keys = []string{"connectionId"}
	}
	g.audit.Emit(context.Background(), audit.Event{
		Action:        action,
		Actor:         peer.actor,
		Context:       audit.BuildContext(details, keys...),
		Outcome:       outcome,
		CorrelationID: id.NewCorrelationID(),
	})
}

func rosterOf(trainees []session.Trainee) []rosterEntry {
	roster := make([]rosterEntry, 0, len(trainees))
	for _, trainee := range trainees {
		roster = append(roster, rosterEntry{
			ConnectionID: trainee.ConnectionID,
			DisplayName:  trainee.DisplayName,
		})
	}
	return roster
}

func logFrame(entry logBroadcast) wsFrame {
	entry.TimestampISO = time.Now().UTC().Format(time.RFC3339Nano)
	return wsFrame{
		Type:    "event:log:broadcast",
		Payload: mustJSON(entry),
	}
}

func writeWSError(peer *wsPeer, requestID string, code apperrors.Code, message string) {
	if code == "" {
		code = apperrors.CodeInternal
	}
	peer.send(wsFrame{
		Type:      "error:occurred",
		RequestID: requestID,
		Payload: mustJSON(wsError{
			Code:          string(code),
			Message:       message,
			CorrelationID: id.NewCorrelationID(),
		}),
	})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("sire: failed to marshal websocket frame payload: %v", err)
		return nil
	}
	return b
}
