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

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/nwilkes/taskpilot/internal/apperr"
	"github.com/nwilkes/taskpilot/internal/auth"
	"github.com/nwilkes/taskpilot/internal/chat"
	"github.com/nwilkes/taskpilot/internal/intent"
	"github.com/nwilkes/taskpilot/internal/orchestrator"
	"github.com/nwilkes/taskpilot/internal/ratelimit"
	"github.com/nwilkes/taskpilot/internal/store"
	"github.com/nwilkes/taskpilot/internal/tasks"
)

var testSecret = []byte("server-test-secret")

// fixedIntentResolver answers every utterance with the same intent.
type fixedIntentResolver struct {
	intent intent.Intent
}

func (r *fixedIntentResolver) Resolve(context.Context, string, []intent.HistoryEntry) (intent.Intent, error) {
	return r.intent, nil
}

// stubBackend answers every mutation with a fixed result.
type stubBackend struct{}

func (stubBackend) AddTask(_ context.Context, _, title, _, _ string) (*tasks.MutationResult, error) {
	return &tasks.MutationResult{TaskID: uuid.NewString(), Status: "created"}, nil
}

func (stubBackend) ListTasks(context.Context, string, tasks.ListFilter) (*tasks.ListResult, error) {
	return &tasks.ListResult{}, nil
}

func (stubBackend) CompleteTask(_ context.Context, _, taskID, _ string) (*tasks.MutationResult, error) {
	return &tasks.MutationResult{TaskID: taskID, Status: "completed"}, nil
}

func (stubBackend) DeleteTask(_ context.Context, _, taskID, _ string) (*tasks.MutationResult, error) {
	return &tasks.MutationResult{TaskID: taskID, Status: "deleted"}, nil
}

func (stubBackend) UpdateTask(_ context.Context, _, taskID string, _ tasks.UpdateFields, _ string) (*tasks.MutationResult, error) {
	return &tasks.MutationResult{TaskID: taskID, Status: "updated"}, nil
}

func newTestServer(t *testing.T, resolved intent.Intent) (*Server, *store.Store) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	st, err := store.New(db, zerolog.Nop())
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}

	orch := orchestrator.New(stubBackend{}, ratelimit.NewLimiter(nil),
		ratelimit.NewBreaker(ratelimit.BreakerConfig{
			FailureThreshold: 0.5,
			MinSamples:       100,
			Window:           time.Minute,
			CoolDown:         time.Minute,
			HalfOpenProbes:   1,
		}), nil, zerolog.Nop(), orchestrator.Config{ToolTimeout: time.Second, ChainTimeout: 5 * time.Second})
	manager := chat.NewManager(st, chat.ManagerConfig{HistoryLimit: 100, MaxTokens: 4000, ReserveTokens: 500}, zerolog.Nop())
	pipeline := chat.NewPipeline(manager, orch, &fixedIntentResolver{intent: resolved},
		chat.NewTemplateResponder(), st, nil, zerolog.Nop())

	return New("127.0.0.1:0", auth.NewGate(testSecret), pipeline, st, prometheus.NewRegistry(), zerolog.Nop()), st
}

func signToken(t *testing.T, subject string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return signed
}

func postChat(t *testing.T, srv *Server, userID, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/"+userID+"/chat", bytes.NewBufferString(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestChatEndpoint(t *testing.T) {
	userID := uuid.New()
	srv, _ := newTestServer(t, intent.Intent{
		Name:       intent.AddTask,
		Confidence: 0.9,
		Parameters: intent.Parameters{Title: "Buy milk"},
	})

	rec := postChat(t, srv, userID.String(), signToken(t, userID.String()), `{"message":"add buy milk"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var result chat.TurnResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if result.ConversationID == "" {
		t.Error("response missing conversation_id")
	}
	if result.Response != "Added task: Buy milk." {
		t.Errorf("response = %q", result.Response)
	}
	if len(result.ToolCalls) != 1 {
		t.Errorf("tool calls = %d, want 1", len(result.ToolCalls))
	}
}

func TestChatRequiresToken(t *testing.T) {
	userID := uuid.New()
	srv, st := newTestServer(t, intent.Intent{Name: intent.ListTasks, Confidence: 0.9})

	rec := postChat(t, srv, userID.String(), "", `{"message":"hi"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	var env apperr.Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	if env.ErrorCode != apperr.CodeAuthRequired {
		t.Errorf("error = %s, want %s", env.ErrorCode, apperr.CodeAuthRequired)
	}
	if env.Status != "error" {
		t.Errorf("status field = %q, want error", env.Status)
	}

	// The rejected request leaves no rows behind.
	conversations, err := st.ListConversations(context.Background(), userID, 10)
	if err != nil {
		t.Fatalf("ListConversations() error = %v", err)
	}
	if len(conversations) != 0 {
		t.Errorf("conversations = %d, want 0", len(conversations))
	}
}

func TestChatTokenPathMismatch(t *testing.T) {
	srv, _ := newTestServer(t, intent.Intent{Name: intent.ListTasks, Confidence: 0.9})

	rec := postChat(t, srv, uuid.NewString(), signToken(t, uuid.NewString()), `{"message":"hi"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}

	var env apperr.Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	if env.ErrorCode != apperr.CodeUnauthorized {
		t.Errorf("error = %s, want %s", env.ErrorCode, apperr.CodeUnauthorized)
	}
}

func TestChatMalformedBody(t *testing.T) {
	userID := uuid.New()
	srv, _ := newTestServer(t, intent.Intent{Name: intent.ListTasks, Confidence: 0.9})
	token := signToken(t, userID.String())

	for _, body := range []string{"", "{", `{"unknown_field":1}`} {
		rec := postChat(t, srv, userID.String(), token, body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestConversationRoutes(t *testing.T) {
	userID := uuid.New()
	srv, _ := newTestServer(t, intent.Intent{Name: intent.ListTasks, Confidence: 0.9})
	token := signToken(t, userID.String())

	rec := postChat(t, srv, userID.String(), token, `{"message":"show my tasks"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("chat status = %d", rec.Code)
	}
	var result chat.TurnResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decoding response: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/"+userID.String()+"/conversations", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	listRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(listRec, req)
	if listRec.Code != http.StatusOK {
		t.Fatalf("conversations status = %d", listRec.Code)
	}
	var listBody struct {
		Conversations []store.Conversation `json:"conversations"`
	}
	if err := json.Unmarshal(listRec.Body.Bytes(), &listBody); err != nil {
		t.Fatalf("decoding conversations: %v", err)
	}
	if len(listBody.Conversations) != 1 {
		t.Fatalf("conversations = %d, want 1", len(listBody.Conversations))
	}

	msgPath := "/" + userID.String() + "/conversations/" + result.ConversationID + "/messages"
	req = httptest.NewRequest(http.MethodGet, msgPath, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	msgRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(msgRec, req)
	if msgRec.Code != http.StatusOK {
		t.Fatalf("messages status = %d", msgRec.Code)
	}
	var msgBody struct {
		Messages []store.Message `json:"messages"`
	}
	if err := json.Unmarshal(msgRec.Body.Bytes(), &msgBody); err != nil {
		t.Fatalf("decoding messages: %v", err)
	}
	if len(msgBody.Messages) != 2 {
		t.Errorf("messages = %d, want 2", len(msgBody.Messages))
	}
}

func TestHealthAndMetricsOpen(t *testing.T) {
	srv, _ := newTestServer(t, intent.Intent{Name: intent.Unknown})

	for _, path := range []string{"/healthz", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, rec.Code)
		}
	}
}
