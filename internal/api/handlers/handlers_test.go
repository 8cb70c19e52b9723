package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rc-assistant/backend/internal/cache/redis"
	"github.com/rc-assistant/backend/internal/chat"
	"github.com/rc-assistant/backend/internal/middleware/auth"
	"github.com/rc-assistant/backend/internal/middleware/validation"
	"github.com/rc-assistant/backend/internal/reference"
	"github.com/rc-assistant/backend/internal/storage/models"
	"github.com/rc-assistant/backend/pkg/retry"
)

type memoryStore struct {
	mu       sync.Mutex
	sessions map[string]*models.ChatSession
	deleted  map[string]bool
	messages []*models.Message
}

func (s *memoryStore) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted[id] {
		return nil, nil
	}
	return s.sessions[id], nil
}

func (s *memoryStore) DeleteSession(ctx context.Context, id, deletedBy string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted[id] || s.sessions[id] == nil {
		return false, nil
	}
	s.deleted[id] = true
	return true, nil
}

func (s *memoryStore) ClearSessions(ctx context.Context, userID, deletedBy string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, session := range s.sessions {
		if session.UserID == userID && !s.deleted[id] {
			s.deleted[id] = true
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) CreateSession(ctx context.Context, session *models.ChatSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	return nil
}

func (s *memoryStore) AppendMessage(ctx context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
	return nil
}

func (s *memoryStore) ListMessages(ctx context.Context, sessionID, userID string) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Message
	for _, m := range s.messages {
		if m.SessionID == sessionID && m.UserID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memoryStore) ListSessions(ctx context.Context, userID string) ([]*models.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ChatSession
	for id, session := range s.sessions {
		if session.UserID == userID && !s.deleted[id] {
			out = append(out, session)
		}
	}
	return out, nil
}

type chunkGenerator struct {
	chunks []string
	err    error
}

// Generate emits every chunk and then fails with err when one is set.
func (g chunkGenerator) Generate(ctx context.Context, req chat.Request, onChunk func(string) error) (*chat.Result, error) {
	for _, c := range g.chunks {
		if onChunk != nil {
			if err := onChunk(c); err != nil {
				return nil, err
			}
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	return &chat.Result{Answer: strings.Join(g.chunks, ""), Suggestions: []string{"Next?"}}, nil
}

type stubLister []redis.PopularQuestion

func (s stubLister) PopularQuestions(ctx context.Context, limit int) ([]redis.PopularQuestion, error) {
	return s, nil
}

func testCaches() (*reference.Journals, *reference.Institutions) {
	nature := reference.NewRecord("Nature", 2023, "0028-0836")
	nature.Facts[reference.FactQuartile] = "Q1"
	nature.Facts[reference.FactSource] = reference.SourceComplete
	nature.Metrics[reference.MetricJIF] = reference.Float(50.5)

	journals := reference.NewJournals(reference.SourceFunc(func(ctx context.Context) ([]reference.MetricRecord, error) {
		return []reference.MetricRecord{nature}, nil
	}), retry.Config{MaxAttempts: 1})

	var rows []reference.MetricRecord
	for i, name := range []string{"Harvard University", "Universiti Malaya (UM)", "Universiti Tunku Abdul Rahman (UTAR)"} {
		r := reference.NewRecord(name, 2024)
		r.Metrics[reference.MetricPosition] = reference.Float(float64(i + 1))
		r.Facts[reference.FactCountry] = "Malaysia"
		if i == 0 {
			r.Facts[reference.FactCountry] = "United States of America (USA)"
		}
		rows = append(rows, r)
	}
	institutions := reference.NewInstitutions(reference.SourceFunc(func(ctx context.Context) ([]reference.MetricRecord, error) {
		return rows, nil
	}), retry.Config{MaxAttempts: 1})

	return journals, institutions
}

func newTestApp(gen chat.Generator, lister PopularQuestionLister) (*fiber.App, *memoryStore) {
	store := &memoryStore{sessions: make(map[string]*models.ChatSession), deleted: make(map[string]bool)}
	assembler := chat.NewAssembler(store, gen, nil, chat.Config{})
	journals, institutions := testCaches()

	app := fiber.New()
	Routes{
		Chat:       NewChatHandler(assembler),
		Reference:  NewReferenceHandler(journals, institutions),
		Questions:  NewQuestionsHandler(lister),
		Health:     NewHealthHandler(nil, journals, institutions),
		Auth:       auth.Middleware(auth.Config{}),
		Validation: validation.Middleware(validation.Config{}),
	}.Register(app)

	return app, store
}

func request(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, string) {
	t.Helper()
	return requestAs(t, app, "u1", "member", method, path, body)
}

func requestAs(t *testing.T, app *fiber.App, userID, role, method, path, body string) (*http.Response, string) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.HeaderUserID, userID)
	req.Header.Set(auth.HeaderRole, role)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

func TestChatStreaming(t *testing.T) {
	app, store := newTestApp(chunkGenerator{chunks: []string{"Hello", " world"}}, nil)

	resp, body := request(t, app, http.MethodPost, "/api/v1/chat", `{"message":"Say hello","stream":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))

	parts := strings.SplitN(body, chat.MetadataDelimiter, 2)
	require.Len(t, parts, 2)
	assert.Equal(t, "Hello world", parts[0])

	var meta chat.Metadata
	require.NoError(t, json.Unmarshal([]byte(parts[1]), &meta))
	assert.NotEmpty(t, meta.SessionID)
	assert.Equal(t, []string{"Next?"}, meta.Suggestions)
	assert.NotNil(t, meta.Sources)

	history, err := store.ListMessages(context.Background(), meta.SessionID, "u1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Hello world", history[1].Content)
}

func TestChatStreamingFailureBeforeFirstChunk(t *testing.T) {
	app, _ := newTestApp(chunkGenerator{err: errors.New("upstream down")}, nil)

	resp, body := request(t, app, http.MethodPost, "/api/v1/chat", `{"message":"Say hello","stream":true}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Failed to generate answer"}`, body)
	assert.NotContains(t, body, "upstream down")
}

func TestChatStreamingFailureAfterFirstChunk(t *testing.T) {
	app, store := newTestApp(chunkGenerator{chunks: []string{"Hello"}, err: errors.New("upstream reset")}, nil)

	resp, body := request(t, app, http.MethodPost, "/api/v1/chat", `{"message":"Say hello","stream":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hello", body)
	assert.NotContains(t, body, chat.MetadataDelimiter)
	assert.NotContains(t, body, "upstream reset")

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.messages, 1, "only the user message is stored")
	assert.Equal(t, models.RoleUser, store.messages[0].Role)
}

func TestChatJSON(t *testing.T) {
	app, _ := newTestApp(chunkGenerator{chunks: []string{"Q1", " journal"}}, nil)

	resp, body := request(t, app, http.MethodPost, "/api/v1/chat", `{"message":"Quartile of Nature?"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var reply chat.Reply
	require.NoError(t, json.Unmarshal([]byte(body), &reply))
	assert.True(t, reply.Success)
	assert.Equal(t, "Q1 journal", reply.Answer)

	resp, body = request(t, app, http.MethodGet, "/api/v1/chat?sessionId="+reply.SessionID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &history))
	require.Len(t, history.Messages, 2)
	assert.Equal(t, models.RoleUser, history.Messages[0].Role)

	resp, body = request(t, app, http.MethodGet, "/api/v1/chat", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listing struct {
		Sessions []models.ChatSession `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &listing))
	require.Len(t, listing.Sessions, 1)
	assert.Equal(t, "Quartile of Nature?", listing.Sessions[0].Title)
}

func TestChatRejectsBadRequests(t *testing.T) {
	app, _ := newTestApp(chunkGenerator{chunks: []string{"x"}}, nil)

	resp, _ := request(t, app, http.MethodPost, "/api/v1/chat", `{"message":"  "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	anon, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, anon.StatusCode)
}

func TestReferenceEndpoints(t *testing.T) {
	app, _ := newTestApp(chunkGenerator{}, nil)

	resp, body := request(t, app, http.MethodPost, "/api/v1/reference/journals", `{"issn":"0028-0836"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"journal":"Nature"`)
	assert.Contains(t, body, `"matchType":"identifier"`)

	resp, _ = request(t, app, http.MethodPost, "/api/v1/reference/journals", `{"query":"Unknown Letters"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = request(t, app, http.MethodGet, "/api/v1/reference/institutions?name=Harvard%20Universty", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"matchType":"fuzzy"`)
	assert.Contains(t, body, `"name":"Harvard University"`)

	resp, body = request(t, app, http.MethodGet, "/api/v1/reference/institutions/top?country=Malaysia&limit=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listing struct {
		Institutions []map[string]any `json:"institutions"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &listing))
	require.Len(t, listing.Institutions, 2)
	assert.Equal(t, "Universiti Malaya (UM)", listing.Institutions[0]["name"])

	resp, _ = request(t, app, http.MethodGet, "/api/v1/reference/institutions/top?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPopularQuestions(t *testing.T) {
	app, _ := newTestApp(chunkGenerator{}, nil)
	resp, body := request(t, app, http.MethodGet, "/api/v1/questions/popular", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"questions":[]}`, body)

	app, _ = newTestApp(chunkGenerator{}, stubLister{{Question: "What is UTARRF?", Count: 4}})
	resp, body = request(t, app, http.MethodGet, "/api/v1/questions/popular?limit=3", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"questions":[{"question":"What is UTARRF?","count":4}]}`, body)
}

func TestHealthAndReady(t *testing.T) {
	app, _ := newTestApp(chunkGenerator{}, nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := request(t, app, http.MethodGet, "/api/v1/ready", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"journal":{"loaded":false,"records":0}`)

	request(t, app, http.MethodPost, "/api/v1/reference/journals", `{"query":"Nature"}`)
	_, body = request(t, app, http.MethodGet, "/api/v1/ready", "")
	assert.Contains(t, body, `"journal":{"loaded":true,"records":1}`)
}

func TestDeleteChatSession(t *testing.T) {
	app, store := newTestApp(chunkGenerator{chunks: []string{"Hi"}}, nil)

	resp, body := request(t, app, http.MethodPost, "/api/v1/chat", `{"message":"First question"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var first chat.Reply
	require.NoError(t, json.Unmarshal([]byte(body), &first))

	resp, _ = requestAs(t, app, "u2", "member", http.MethodDelete, "/api/v1/chat/sessions/"+first.SessionID, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = request(t, app, http.MethodDelete, "/api/v1/chat/sessions/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = requestAs(t, app, "chair", auth.RoleChairperson, http.MethodDelete, "/api/v1/chat/sessions/"+first.SessionID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"success":true}`, body)

	resp, _ = request(t, app, http.MethodDelete, "/api/v1/chat/sessions/"+first.SessionID, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = request(t, app, http.MethodGet, "/api/v1/chat", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"sessions":[]}`, body)

	resp, body = request(t, app, http.MethodPost, "/api/v1/chat", `{"message":"Second question","sessionId":"`+first.SessionID+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var second chat.Reply
	require.NoError(t, json.Unmarshal([]byte(body), &second))
	assert.NotEqual(t, first.SessionID, second.SessionID, "a deleted session starts a new one")

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, "Second question", store.sessions[second.SessionID].Title)
}

func TestClearChatSessions(t *testing.T) {
	app, _ := newTestApp(chunkGenerator{chunks: []string{"Hi"}}, nil)

	for _, q := range []string{"one", "two"} {
		resp, _ := request(t, app, http.MethodPost, "/api/v1/chat", `{"message":"`+q+`"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, _ := requestAs(t, app, "u2", "member", http.MethodPost, "/api/v1/chat", `{"message":"three"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := request(t, app, http.MethodPost, "/api/v1/chat/sessions/clear", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"success":true,"cleared":2}`, body)

	_, body = request(t, app, http.MethodGet, "/api/v1/chat", "")
	assert.JSONEq(t, `{"sessions":[]}`, body)

	_, body = requestAs(t, app, "u2", "member", http.MethodGet, "/api/v1/chat", "")
	assert.Contains(t, body, `"title":"three"`)
}
