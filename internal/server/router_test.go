package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/andinalegal/lexcase/backend/internal/aiflow"
	"github.com/andinalegal/lexcase/backend/internal/auth"
	"github.com/andinalegal/lexcase/backend/internal/cases"
	"github.com/andinalegal/lexcase/backend/internal/identity"
	"github.com/andinalegal/lexcase/backend/internal/reminders"
	"github.com/andinalegal/lexcase/backend/internal/store"
)

var testClock = func() time.Time {
	return time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
}

type stubMatcher struct {
	suggestions []aiflow.LawyerSuggestion
	failWith    error
}

func (m *stubMatcher) SuggestLawyers(_ context.Context, _ aiflow.MatchRequest) ([]aiflow.LawyerSuggestion, error) {
	if m.failWith != nil {
		return nil, m.failWith
	}
	return m.suggestions, nil
}

type testEnv struct {
	handler  http.Handler
	store    *store.Store
	sessions *auth.SessionIssuer
}

func newTestEnv(t *testing.T, matcher LawyerMatcher) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:lexcase_server_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := store.Open(dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	documentStore, err := store.New(store.Config{Database: db, Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}

	caseService, err := cases.NewService(cases.ServiceConfig{Store: documentStore, Clock: testClock})
	if err != nil {
		t.Fatalf("failed to build case service: %v", err)
	}

	sessions := auth.NewSessionIssuer(auth.SessionIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "lexcase-auth",
		Audience:      "lexcase-api",
	})

	handler, err := NewHTTPHandler(Dependencies{
		Sessions:    sessions,
		Backend:     documentStore,
		CaseService: caseService,
		Matcher:     matcher,
		Composer:    reminders.NewComposer(reminders.ComposerConfig{}),
		Thresholds:  reminders.DefaultThresholds(),
		Clock:       testClock,
		Logger:      zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	return &testEnv{handler: handler, store: documentStore, sessions: sessions}
}

func (env *testEnv) token(t *testing.T, who identity.Identity) string {
	t.Helper()
	token, _, err := env.sessions.IssueSession(context.Background(), who)
	if err != nil {
		t.Fatalf("failed to issue test session: %v", err)
	}
	return token
}

func (env *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

func adminIdentity() identity.Identity {
	return identity.Identity{ID: "admin-1", OrganizationID: "org-1", Role: identity.RoleAdmin}
}

func TestProtectedRoutesRejectMissingBearer(t *testing.T) {
	env := newTestEnv(t, nil)

	recorder := env.do(t, http.MethodGet, "/cases", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestIssueSessionRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)

	recorder := env.do(t, http.MethodPost, "/auth/session", "", map[string]any{
		"user_id":         "lawyer-1",
		"organization_id": "org-1",
		"role":            "lawyer",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var response struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	decodeBody(t, recorder, &response)
	if response.AccessToken == "" || response.TokenType != "Bearer" {
		t.Fatalf("unexpected session payload: %+v", response)
	}

	list := env.do(t, http.MethodGet, "/cases", response.AccessToken, nil)
	if list.Code != http.StatusOK {
		t.Fatalf("issued token must authorize requests, got %d", list.Code)
	}
}

func TestIssueSessionRejectsUnknownRole(t *testing.T) {
	env := newTestEnv(t, nil)

	recorder := env.do(t, http.MethodPost, "/auth/session", "", map[string]any{
		"user_id": "u1",
		"role":    "superuser",
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestCreateAndListCases(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.token(t, adminIdentity())

	created := env.do(t, http.MethodPost, "/cases", token, map[string]any{
		"clientName":     "María García",
		"organizationId": "org-1",
		"nurej":          "NUR-100",
	})
	if created.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", created.Code, created.Body.String())
	}

	var createResponse struct {
		ID string `json:"id"`
	}
	decodeBody(t, created, &createResponse)
	if createResponse.ID == "" {
		t.Fatalf("expected an assigned case id")
	}

	list := env.do(t, http.MethodGet, "/cases", token, nil)
	if list.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", list.Code, list.Body.String())
	}

	var listResponse struct {
		Cases []cases.CaseRecord `json:"cases"`
	}
	decodeBody(t, list, &listResponse)
	if len(listResponse.Cases) != 1 || listResponse.Cases[0].ID != createResponse.ID {
		t.Fatalf("expected the created case in the snapshot, got %+v", listResponse.Cases)
	}
	if listResponse.Cases[0].ClientName != "María García" {
		t.Fatalf("unexpected case payload: %+v", listResponse.Cases[0])
	}
}

func TestCreateCaseForbiddenForClients(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.token(t, identity.Identity{ID: "client-1", Role: identity.RoleClient})

	recorder := env.do(t, http.MethodPost, "/cases", token, map[string]any{
		"clientName": "María García",
		"clientId":   "client-1",
	})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", recorder.Code)
	}
}

func TestUpdateCaseScopedToAssignedLawyer(t *testing.T) {
	env := newTestEnv(t, nil)
	admin := env.token(t, adminIdentity())

	created := env.do(t, http.MethodPost, "/cases", admin, map[string]any{
		"clientName":       "Luis",
		"organizationId":   "org-1",
		"assignedLawyerId": "lawyer-1",
	})
	var createResponse struct {
		ID string `json:"id"`
	}
	decodeBody(t, created, &createResponse)

	assigned := env.token(t, identity.Identity{ID: "lawyer-1", Role: identity.RoleLawyer})
	update := env.do(t, http.MethodPatch, "/cases/"+createResponse.ID, assigned, map[string]any{"status": "closed"})
	if update.Code != http.StatusNoContent {
		t.Fatalf("assigned lawyer must be allowed to update, got %d: %s", update.Code, update.Body.String())
	}

	other := env.token(t, identity.Identity{ID: "lawyer-2", Role: identity.RoleLawyer})
	denied := env.do(t, http.MethodPatch, "/cases/"+createResponse.ID, other, map[string]any{"status": "open"})
	if denied.Code != http.StatusForbidden {
		t.Fatalf("unassigned lawyer must be rejected, got %d", denied.Code)
	}
}

func TestUpdateMissingCaseReturnsNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.token(t, adminIdentity())

	recorder := env.do(t, http.MethodPatch, "/cases/absent", token, map[string]any{"status": "closed"})
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestAgendaPartitionsAndClassifiesReminders(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.token(t, adminIdentity())

	created := env.do(t, http.MethodPost, "/cases", token, map[string]any{
		"clientName":     "Ana",
		"organizationId": "org-1",
		"nurej":          "NUR-7",
	})
	var createResponse struct {
		ID string `json:"id"`
	}
	decodeBody(t, created, &createResponse)

	addReminder := func(date, message string) {
		recorder := env.do(t, http.MethodPost, "/cases/"+createResponse.ID+"/reminders", token, map[string]any{
			"date":    date,
			"message": message,
		})
		if recorder.Code != http.StatusNoContent {
			t.Fatalf("expected reminder append to succeed, got %d: %s", recorder.Code, recorder.Body.String())
		}
	}
	addReminder("2024-03-15T12:05:00Z", "audiencia en cinco minutos")
	addReminder("2024-03-20T09:00:00Z", "presentar memorial")
	addReminder("2024-03-01T09:00:00Z", "plazo vencido")

	agenda := env.do(t, http.MethodGet, "/agenda", token, nil)
	if agenda.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", agenda.Code, agenda.Body.String())
	}

	var response struct {
		Upcoming []agendaItemPayload `json:"upcoming"`
		Past     []agendaItemPayload `json:"past"`
	}
	decodeBody(t, agenda, &response)

	if len(response.Upcoming) != 2 || len(response.Past) != 1 {
		t.Fatalf("unexpected partition: %d upcoming, %d past", len(response.Upcoming), len(response.Past))
	}
	if response.Upcoming[0].Message != "audiencia en cinco minutos" {
		t.Fatalf("upcoming view must be time ascending, got %+v", response.Upcoming)
	}
	if response.Upcoming[0].Urgency != string(reminders.UrgencyImminent) {
		t.Fatalf("expected imminent urgency, got %q", response.Upcoming[0].Urgency)
	}
	if response.Upcoming[0].Notice == nil || response.Upcoming[0].Notice.Title != "Pronto: Ana" {
		t.Fatalf("expected composed notice for imminent reminder, got %+v", response.Upcoming[0].Notice)
	}
	if response.Past[0].Message != "plazo vencido" {
		t.Fatalf("unexpected past view: %+v", response.Past)
	}
}

func TestConversationsIncludeGroupAndCaseParties(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	seedUser := func(fields map[string]any) {
		if _, err := env.store.Write(ctx, cases.CollectionUsers, fields); err != nil {
			t.Fatalf("failed to seed user: %v", err)
		}
	}
	seedUser(map[string]any{"displayName": "Admin One", "role": "admin", "organizationId": "org-1", "organizationName": "Estudio Andino"})
	seedUser(map[string]any{"displayName": "Carla Mendoza", "role": "lawyer", "organizationId": "org-1", "organizationName": "Estudio Andino"})

	token := env.token(t, adminIdentity())
	recorder := env.do(t, http.MethodGet, "/conversations", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var response struct {
		Conversations []conversationPayload `json:"conversations"`
	}
	decodeBody(t, recorder, &response)

	if len(response.Conversations) < 2 {
		t.Fatalf("expected group plus colleague conversations, got %+v", response.Conversations)
	}
	if response.Conversations[0].Kind != "group" || response.Conversations[0].Name != "Estudio Andino" {
		t.Fatalf("group conversation must come first with the resolved name, got %+v", response.Conversations[0])
	}
}

func TestMatchReturnsSuggestions(t *testing.T) {
	matcher := &stubMatcher{suggestions: []aiflow.LawyerSuggestion{{LawyerID: "l1", DisplayName: "Carla Mendoza"}}}
	env := newTestEnv(t, matcher)
	token := env.token(t, identity.Identity{ID: "client-1", Role: identity.RoleClient})

	recorder := env.do(t, http.MethodPost, "/match", token, map[string]any{"description": "divorcio"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var response struct {
		Suggestions []aiflow.LawyerSuggestion `json:"suggestions"`
	}
	decodeBody(t, recorder, &response)
	if len(response.Suggestions) != 1 || response.Suggestions[0].LawyerID != "l1" {
		t.Fatalf("unexpected suggestions: %+v", response.Suggestions)
	}
}

func TestMatchMapsFlowFailureToBadGateway(t *testing.T) {
	matcher := &stubMatcher{failWith: &aiflow.FlowError{Flow: "matchLawyers", Message: "model unavailable"}}
	env := newTestEnv(t, matcher)
	token := env.token(t, identity.Identity{ID: "client-1", Role: identity.RoleClient})

	recorder := env.do(t, http.MethodPost, "/match", token, map[string]any{"description": "divorcio"})
	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", recorder.Code, recorder.Body.String())
	}
}
