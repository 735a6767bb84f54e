package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/andinalegal/lexcase/backend/internal/aiflow"
	"github.com/andinalegal/lexcase/backend/internal/authz"
	"github.com/andinalegal/lexcase/backend/internal/cases"
	"github.com/andinalegal/lexcase/backend/internal/chat"
	"github.com/andinalegal/lexcase/backend/internal/identity"
	"github.com/andinalegal/lexcase/backend/internal/livequery"
	"github.com/andinalegal/lexcase/backend/internal/reminders"
)

const identityContextKey = "lexcase_identity"

var (
	errMissingSessions      = errors.New("session manager dependency required")
	errMissingBackend       = errors.New("store backend dependency required")
	errMissingCaseService   = errors.New("case service dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// SessionManager issues and validates session tokens.
type SessionManager interface {
	IssueSession(ctx context.Context, who identity.Identity) (string, int64, error)
	ValidateSession(token string) (identity.Identity, error)
}

// LawyerMatcher produces lawyer suggestions for a case description.
type LawyerMatcher interface {
	SuggestLawyers(ctx context.Context, request aiflow.MatchRequest) ([]aiflow.LawyerSuggestion, error)
}

// Dependencies wires the HTTP surface to the rest of the system.
type Dependencies struct {
	Sessions    SessionManager
	Backend     livequery.Backend
	CaseService *cases.Service
	Matcher     LawyerMatcher
	Composer    *reminders.Composer
	Thresholds  reminders.Thresholds
	Clock       func() time.Time
	Origins     []string
	Logger      *zap.Logger
}

// NewHTTPHandler builds the API router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}
	if deps.Backend == nil {
		return nil, errMissingBackend
	}
	if deps.CaseService == nil {
		return nil, errMissingCaseService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	origins := deps.Origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		sessions:   deps.Sessions,
		backend:    deps.Backend,
		cases:      deps.CaseService,
		matcher:    deps.Matcher,
		composer:   deps.Composer,
		thresholds: deps.Thresholds,
		clock:      clock,
		logger:     logger,
	}

	router.POST("/auth/session", handler.handleIssueSession)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/cases", handler.handleListCases)
	protected.GET("/cases/stream", handler.handleStreamCases)
	protected.POST("/cases", handler.handleCreateCase)
	protected.PATCH("/cases/:id", handler.handleUpdateCase)
	protected.DELETE("/cases/:id", handler.handleDeleteCase)
	protected.POST("/cases/:id/reminders", handler.handleAddReminder)
	protected.POST("/cases/:id/files", handler.handleAttachFile)
	protected.GET("/agenda", handler.handleAgenda)
	protected.GET("/conversations", handler.handleConversations)
	protected.POST("/match", handler.handleMatch)

	return router, nil
}

type httpHandler struct {
	sessions   SessionManager
	backend    livequery.Backend
	cases      *cases.Service
	matcher    LawyerMatcher
	composer   *reminders.Composer
	thresholds reminders.Thresholds
	clock      func() time.Time
	logger     *zap.Logger
}

type sessionRequestPayload struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Role           string `json:"role"`
}

type sessionResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleIssueSession(c *gin.Context) {
	var request sessionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	role, err := identity.ParseRole(request.Role)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_role"})
		return
	}

	who := identity.Identity{
		ID:             strings.TrimSpace(request.UserID),
		OrganizationID: strings.TrimSpace(request.OrganizationID),
		Role:           role,
	}

	token, expiresIn, err := h.sessions.IssueSession(c.Request.Context(), who)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, sessionResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	who, err := h.sessions.ValidateSession(token)
	if err != nil {
		h.logger.Warn("session validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(identityContextKey, who)
	c.Next()
}

func (h *httpHandler) caller(c *gin.Context) identity.Identity {
	value, exists := c.Get(identityContextKey)
	if !exists {
		return identity.Identity{}
	}
	who, ok := value.(identity.Identity)
	if !ok {
		return identity.Identity{}
	}
	return who
}

func (h *httpHandler) handleListCases(c *gin.Context) {
	caller := h.caller(c)

	records, err := collectionSnapshot[cases.CaseRecord](h.backend, cases.CasesForIdentity(caller), snapshotTimeout)
	if err != nil {
		h.logger.Error("case snapshot failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "snapshot_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"cases": records})
}

// handleStreamCases pushes every settled case snapshot for the caller
// over SSE until the client disconnects.
func (h *httpHandler) handleStreamCases(c *gin.Context) {
	caller := h.caller(c)
	if cases.CasesForIdentity(caller) == nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	states := make(chan livequery.State[cases.CaseRecord], 1)
	query, err := livequery.NewQuery(livequery.QueryConfig[cases.CaseRecord]{
		Backend:  h.backend,
		Decode:   livequery.JSONDecoder[cases.CaseRecord](),
		OnChange: func(state livequery.State[cases.CaseRecord]) { pushLatest(states, state) },
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stream_failed"})
		return
	}
	defer query.Close()

	// The session identity drives the subscription through a Source,
	// so the ref rebinds on identity changes and a value-equal rebuild
	// leaves the subscription in place.
	source := identity.NewSource()
	unbind := cases.BindCasesQuery(source, query)
	defer unbind()
	source.Set(caller)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-clientGone:
			return false
		case state := <-states:
			if state.IsLoading {
				return true
			}
			if state.Err != nil {
				c.SSEvent("error", gin.H{"error": "subscription_failed"})
				return true
			}
			payload, err := json.Marshal(gin.H{"cases": state.Data})
			if err != nil {
				return false
			}
			c.SSEvent("snapshot", string(payload))
			return true
		}
	})
}

func (h *httpHandler) handleCreateCase(c *gin.Context) {
	caller := h.caller(c)

	var record cases.CaseRecord
	if err := c.ShouldBindJSON(&record); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	resource := authz.Resource{
		OrganizationID:   record.OrganizationID,
		AssignedLawyerID: record.AssignedLawyerID,
		ClientID:         record.ClientID,
	}
	if !authz.Can(caller, authz.ActionManageCase, resource) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	id, err := h.cases.CreateCase(c.Request.Context(), record)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *httpHandler) handleUpdateCase(c *gin.Context) {
	_, id, _, ok := h.authorizedCase(c, authz.ActionManageCase)
	if !ok {
		return
	}

	var fields map[string]any
	if err := c.ShouldBindJSON(&fields); err != nil || len(fields) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.cases.UpdateCase(c.Request.Context(), id, fields); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleDeleteCase(c *gin.Context) {
	_, id, _, ok := h.authorizedCase(c, authz.ActionManageCase)
	if !ok {
		return
	}

	if err := h.cases.DeleteCase(c.Request.Context(), id); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleAddReminder(c *gin.Context) {
	caller, id, _, ok := h.authorizedCase(c, authz.ActionManageReminders)
	if !ok {
		return
	}

	var reminder cases.ReminderRecord
	if err := c.ShouldBindJSON(&reminder); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if reminder.CreatedBy == "" {
		reminder.CreatedBy = caller.ID
	}

	if err := h.cases.AddReminder(c.Request.Context(), id, reminder); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleAttachFile(c *gin.Context) {
	caller, id, _, ok := h.authorizedCase(c, authz.ActionManageReminders)
	if !ok {
		return
	}

	var attachment cases.FileAttachmentRecord
	if err := c.ShouldBindJSON(&attachment); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if attachment.UploadedBy == "" {
		attachment.UploadedBy = caller.ID
	}

	if err := h.cases.AttachFile(c.Request.Context(), id, attachment); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type agendaItemPayload struct {
	CaseID     string         `json:"caseId"`
	ClientName string         `json:"clientName"`
	Nurej      string         `json:"nurej,omitempty"`
	LawyerName string         `json:"lawyerName,omitempty"`
	Date       string         `json:"date,omitempty"`
	Message    string         `json:"message"`
	Urgency    string         `json:"urgency,omitempty"`
	Notice     *noticePayload `json:"notice,omitempty"`
}

type noticePayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (h *httpHandler) handleAgenda(c *gin.Context) {
	caller := h.caller(c)

	caseRecords, err := collectionSnapshot[cases.CaseRecord](h.backend, cases.CasesForIdentity(caller), snapshotTimeout)
	if err != nil {
		h.logger.Error("case snapshot failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "snapshot_failed"})
		return
	}

	includeNames := authz.Can(caller, authz.ActionViewAssigneeNames, authz.Resource{})
	var users []cases.UserRecord
	if includeNames {
		users, err = collectionSnapshot[cases.UserRecord](h.backend, cases.AllUsers(), snapshotTimeout)
		if err != nil {
			h.logger.Error("user snapshot failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "snapshot_failed"})
			return
		}
	}

	now := h.clock()
	aggregated := reminders.Aggregate(caseRecords, users, includeNames)
	upcoming, past := reminders.Partition(aggregated, now)

	c.JSON(http.StatusOK, gin.H{
		"upcoming": h.agendaItems(c.Request.Context(), upcoming, now, true),
		"past":     h.agendaItems(c.Request.Context(), past, now, false),
	})
}

// agendaItems renders a partitioned view. Upcoming items carry their
// urgency bucket, and due-now or imminent ones additionally carry the
// composed notification text.
func (h *httpHandler) agendaItems(ctx context.Context, items []reminders.Extended, now time.Time, upcoming bool) []agendaItemPayload {
	rendered := make([]agendaItemPayload, 0, len(items))
	for _, item := range items {
		payload := agendaItemPayload{
			CaseID:     item.CaseID,
			ClientName: item.ClientName,
			Nurej:      item.Nurej,
			LawyerName: item.LawyerName,
			Message:    item.Message,
		}
		if item.Date.Known() {
			payload.Date = item.Date.Time().Format(time.RFC3339Nano)
		}
		if upcoming {
			urgency := h.thresholds.Classify(item, now)
			payload.Urgency = string(urgency)
			if h.composer != nil && (urgency == reminders.UrgencyDueNow || urgency == reminders.UrgencyImminent) {
				notification := h.composer.Compose(ctx, item, now)
				payload.Notice = &noticePayload{Title: notification.Title, Body: notification.Body}
			}
		}
		rendered = append(rendered, payload)
	}
	return rendered
}

type conversationPayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Kind      string `json:"kind"`
}

func (h *httpHandler) handleConversations(c *gin.Context) {
	caller := h.caller(c)

	users, err := collectionSnapshot[cases.UserRecord](h.backend, cases.AllUsers(), snapshotTimeout)
	if err != nil {
		h.logger.Error("user snapshot failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "snapshot_failed"})
		return
	}
	caseRecords, err := collectionSnapshot[cases.CaseRecord](h.backend, cases.CasesForIdentity(caller), snapshotTimeout)
	if err != nil {
		h.logger.Error("case snapshot failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "snapshot_failed"})
		return
	}

	assembled := chat.Assemble(caller, users, caseRecords)
	conversations := make([]conversationPayload, 0, len(assembled))
	for _, conversation := range assembled {
		conversations = append(conversations, conversationPayload{
			ID:        conversation.ID,
			Name:      conversation.Name,
			AvatarURL: conversation.AvatarURL,
			Kind:      string(conversation.Kind),
		})
	}

	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

func (h *httpHandler) handleMatch(c *gin.Context) {
	if h.matcher == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "matching_unavailable"})
		return
	}

	var request aiflow.MatchRequest
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Description) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	suggestions, err := h.matcher.SuggestLawyers(c.Request.Context(), request)
	if err != nil {
		var flowErr *aiflow.FlowError
		if errors.As(err, &flowErr) {
			h.logger.Warn("matching flow failed", zap.String("flow", flowErr.Flow), zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "matching_failed"})
			return
		}
		h.logger.Error("matching failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "matching_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"suggestions": suggestions})
}

// authorizedCase loads the addressed case and checks the caller holds
// the capability over it. Responds and reports !ok on any failure.
func (h *httpHandler) authorizedCase(c *gin.Context, action authz.Action) (identity.Identity, cases.CaseID, *cases.CaseRecord, bool) {
	caller := h.caller(c)

	id, err := cases.NewCaseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_case_id"})
		return caller, "", nil, false
	}

	record, err := documentSnapshot[cases.CaseRecord](h.backend, cases.CaseByID(id), snapshotTimeout)
	if err != nil {
		h.logger.Error("case lookup failed", zap.String("case_id", id.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return caller, id, nil, false
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "case_not_found"})
		return caller, id, nil, false
	}

	resource := authz.Resource{
		OrganizationID:   record.OrganizationID,
		AssignedLawyerID: record.AssignedLawyerID,
		ClientID:         record.ClientID,
	}
	if !authz.Can(caller, action, resource) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return caller, id, record, false
	}
	return caller, id, record, true
}

func (h *httpHandler) respondServiceError(c *gin.Context, err error) {
	var serviceErr *cases.ServiceError
	if errors.As(err, &serviceErr) {
		status := http.StatusInternalServerError
		if strings.Contains(serviceErr.Code(), "invalid") || strings.Contains(serviceErr.Code(), "missing") {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": serviceErr.Code()})
		return
	}
	h.logger.Error("case operation failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "operation_failed"})
}
