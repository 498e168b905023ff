package server

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	apperrors "github.com/sire-training/sire/internal/platform/errors"
	"github.com/sire-training/sire/internal/platform/id"
	"github.com/sire-training/sire/internal/platform/pagination"
	"github.com/sire-training/sire/internal/platform/requestctx"
	"github.com/sire-training/sire/internal/services/sire/audit"
	"github.com/sire-training/sire/internal/services/sire/session"
	"github.com/sire-training/sire/internal/services/sire/validate"
)

type createSessionRequest struct {
	ScenarioKey           string `json:"scenarioKey"`
	InstructorDisplayName string `json:"instructorDisplayName"`
}

type sessionView struct {
	SessionCode           string        `json:"sessionCode"`
	ScenarioKey           string        `json:"scenarioKey"`
	InstructorDisplayName string        `json:"instructorDisplayName"`
	CreatedAt             string        `json:"createdAt"`
	CreatedAtEpochMs      int64         `json:"createdAtEpochMs"`
	Trainees              []rosterEntry `json:"trainees"`
	CurrentTimelineIndex  int           `json:"currentTimelineIndex"`
	IsActive              bool          `json:"isActive"`
}

func viewOf(record session.Record) sessionView {
	return sessionView{
		SessionCode:           record.SessionCode,
		ScenarioKey:           record.ScenarioKey,
		InstructorDisplayName: record.InstructorDisplayName,
		CreatedAt:             record.CreatedAt.UTC().Format(time.RFC3339),
		CreatedAtEpochMs:      record.CreatedAt.UnixMilli(),
		Trainees:              rosterOf(record.Trainees),
		CurrentTimelineIndex:  record.CurrentTimelineIndex,
		IsActive:              record.IsActive,
	}
}

func (g *gateway) routes() http.Handler {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(g.requestContext, gin.CustomRecovery(g.recoverPanic), cors.New(g.corsConfig()))

	r.GET("/up", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/sim", gin.WrapH(g.socketHandler()))

	api := r.Group("/api")
	api.GET("/health", g.health)

	protected := api.Group("", g.requireAPIKey, g.requireTicket)
	protected.GET("/scenarios", g.listScenarios)
	protected.POST("/session", g.createSession)
	protected.GET("/session", g.listSessions)
	protected.GET("/session/:sessionCode", g.getSession)
	protected.DELETE("/session/:sessionCode", g.deleteSession)
	return r
}

func (g *gateway) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			g.cfg.APIKeyHeader,
			g.cfg.RequestIDHeader,
			g.cfg.TicketHeader,
		},
		ExposeHeaders: []string{g.cfg.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if g.allowAnyOrigin() {
		cfg.AllowAllOrigins = true
		return cfg
	}
	for _, origin := range g.cfg.AllowedOrigins {
		if strings.HasPrefix(origin, "http://") || strings.HasPrefix(origin, "https://") {
			cfg.AllowOrigins = append(cfg.AllowOrigins, origin)
			continue
		}
		log.Printf("sire: ignoring malformed allowed origin %q", origin)
	}
	if len(cfg.AllowOrigins) == 0 {
		// Same-origin only.
		cfg.AllowOriginFunc = func(string) bool { return false }
	}
	cfg.AllowCredentials = true
	return cfg
}

func (g *gateway) requestContext(c *gin.Context) {
	requestID := validate.HeaderValue(c.GetHeader(g.cfg.RequestIDHeader))
	if requestID == "" {
		requestID = id.NewRequestID()
	}
	ctx := requestctx.WithRequestID(c.Request.Context(), requestID)
	ctx = requestctx.WithCorrelationID(ctx, id.NewCorrelationID())
	c.Request = c.Request.WithContext(ctx)
	c.Header(g.cfg.RequestIDHeader, requestID)
	c.Next()
}

func (g *gateway) requireAPIKey(c *gin.Context) {
	actor, ok := g.authenticate(c.Request, g.cfg.APIKeyHeader)
	if !ok {
		g.auditRequest(c, audit.ActionAuthFailure, audit.OutcomeDenied, "unknown")
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody(c, "Unauthorized"))
		return
	}
	c.Request = c.Request.WithContext(requestctx.WithActor(c.Request.Context(), actor))
	c.Next()
}

func (g *gateway) requireTicket(c *gin.Context) {
	if !g.cfg.RequireTicketID {
		c.Next()
		return
	}
	switch c.Request.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		c.Next()
		return
	}
	if validate.HeaderValue(c.GetHeader(g.cfg.TicketHeader)) == "" {
		g.auditRequest(c, audit.ActionTicketMissing, audit.OutcomeDenied, "")
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody(c, "Ticket ID required"))
		return
	}
	c.Next()
}

func (g *gateway) recoverPanic(c *gin.Context, recovered any) {
	log.Printf("sire: recovered panic method=%s path=%s err=%v", c.Request.Method, c.Request.URL.Path, recovered)
	g.auditRequest(c, audit.ActionRequestError, audit.OutcomeError, "")
	c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody(c, "Unexpected error"))
}

func (g *gateway) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"timestampIso": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (g *gateway) listScenarios(c *gin.Context) {
	c.JSON(http.StatusOK, g.cfg.Catalog.Summaries())
}

func (g *gateway) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAPIError(c, apperrors.Wrap(apperrors.CodeInvalidPayload, "decode create request", err))
		return
	}
	scenarioKey, keyOK := validate.ScenarioKey(req.ScenarioKey)
	instructor, nameOK := validate.DisplayName(req.InstructorDisplayName)
	if !keyOK || !nameOK {
		writeAPIError(c, apperrors.New(apperrors.CodeInvalidPayload, "scenarioKey and instructorDisplayName are required"))
		return
	}

	record, err := g.sessions.CreateSession(session.CreateInput{
		ScenarioKey:           scenarioKey,
		InstructorDisplayName: instructor,
	})
	if err != nil {
		g.auditRequestContext(c, audit.ActionSessionCreate, audit.OutcomeError,
			map[string]any{"scenarioKey": scenarioKey, "error": string(apperrors.CodeOf(err))}, "scenarioKey", "error")
		writeAPIError(c, err)
		return
	}

	g.hub.broadcastAll(wsFrame{
		Type: "session:create",
		Payload: mustJSON(sessionCreatePayload{
			SessionCode: record.SessionCode,
			ScenarioKey: record.ScenarioKey,
		}),
	})
	g.auditRequestContext(c, audit.ActionSessionCreate, audit.OutcomeSuccess,
		map[string]any{"sessionCode": record.SessionCode, "scenarioKey": record.ScenarioKey}, "sessionCode", "scenarioKey")
	c.JSON(http.StatusCreated, viewOf(record))
}

func (g *gateway) listSessions(c *gin.Context) {
	limit, err := pagination.ParseLimit(c.Query("limit"), pagination.SessionList)
	if err != nil {
		c.AbortWithStatusJSON(apperrors.CodeInvalidPayload.HTTPStatus(), errorBody(c, "Invalid limit"))
		return
	}
	records := g.sessions.ListSessions(limit)
	views := make([]sessionView, 0, len(records))
	for _, record := range records {
		views = append(views, viewOf(record))
	}
	c.JSON(http.StatusOK, views)
}

func (g *gateway) getSession(c *gin.Context) {
	code, ok := validate.SessionCode(c.Param("sessionCode"))
	if !ok {
		writeAPIError(c, apperrors.New(apperrors.CodeSessionNotFound, "invalid session code"))
		return
	}
	record, err := g.sessions.GetSession(code)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(record))
}

func (g *gateway) deleteSession(c *gin.Context) {
	code, ok := validate.SessionCode(c.Param("sessionCode"))
	if !ok {
		writeAPIError(c, apperrors.New(apperrors.CodeSessionNotFound, "invalid session code"))
		return
	}
	record, err := g.sessions.RemoveSession(code)
	if err != nil {
		g.auditRequestContext(c, audit.ActionSessionDelete, audit.OutcomeDenied,
			map[string]any{"sessionCode": code, "error": string(apperrors.CodeOf(err))}, "sessionCode", "error")
		writeAPIError(c, err)
		return
	}
	g.hub.dropRoom(code)
	g.auditRequestContext(c, audit.ActionSessionDelete, audit.OutcomeSuccess,
		map[string]any{"sessionCode": code}, "sessionCode")
	c.JSON(http.StatusOK, viewOf(record))
}

func (g *gateway) auditRequest(c *gin.Context, action string, outcome audit.Outcome, actor string) {
	g.audit.Emit(c.Request.Context(), audit.Event{
		Action: action,
		Actor:  actor,
		Context: audit.BuildContext(map[string]any{
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
		}, "path", "method"),
		Outcome: outcome,
	})
}

func (g *gateway) auditRequestContext(c *gin.Context, action string, outcome audit.Outcome, details map[string]any, keys ...string) {
	g.audit.Emit(c.Request.Context(), audit.Event{
		Action:  action,
		Context: audit.BuildContext(details, keys...),
		Outcome: outcome,
	})
}

func errorBody(c *gin.Context, message string) gin.H {
	return gin.H{
		"message":       message,
		"correlationId": requestctx.CorrelationIDFromContext(c.Request.Context()),
	}
}

var apiErrorMessages = map[apperrors.Code]string{
	apperrors.CodeInvalidPayload:    "Invalid payload",
	apperrors.CodeSessionNotFound:   "Session not found",
	apperrors.CodeScenarioNotFound:  "Scenario not found",
	apperrors.CodeSessionAtCapacity: "Session at capacity",
	apperrors.CodeForbidden:         "Forbidden",
	apperrors.CodeUnauthorized:      "Unauthorized",
	apperrors.CodeRateLimited:       "Too many requests",
}

func writeAPIError(c *gin.Context, err error) {
	code := apperrors.CodeOf(err)
	message, ok := apiErrorMessages[code]
	if !ok {
		log.Printf("sire: request failed method=%s path=%s err=%v", c.Request.Method, c.Request.URL.Path, err)
		message = "Unexpected error"
	}
	c.AbortWithStatusJSON(code.HTTPStatus(), errorBody(c, message))
}
