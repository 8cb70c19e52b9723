package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rc-assistant/backend/internal/storage/models"
)

type memoryStore struct {
	mu          sync.Mutex
	sessions    map[string]*models.ChatSession
	deletedBy   map[string]string
	messages    []*models.Message
	failRole    string
	onAppend    func(m *models.Message)
	createCalls int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{sessions: make(map[string]*models.ChatSession), deletedBy: make(map[string]string)}
}

func (s *memoryStore) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, gone := s.deletedBy[id]; gone {
		return nil, nil
	}
	return s.sessions[id], nil
}

func (s *memoryStore) DeleteSession(ctx context.Context, id, deletedBy string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, gone := s.deletedBy[id]; gone || s.sessions[id] == nil {
		return false, nil
	}
	s.deletedBy[id] = deletedBy
	return true, nil
}

func (s *memoryStore) ClearSessions(ctx context.Context, userID, deletedBy string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, session := range s.sessions {
		if _, gone := s.deletedBy[id]; gone || session.UserID != userID {
			continue
		}
		s.deletedBy[id] = deletedBy
		n++
	}
	return n, nil
}

func (s *memoryStore) CreateSession(ctx context.Context, session *models.ChatSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	s.sessions[session.ID] = session
	return nil
}

func (s *memoryStore) AppendMessage(ctx context.Context, m *models.Message) error {
	if s.onAppend != nil {
		s.onAppend(m)
	}
	if m.Role == s.failRole {
		return errors.New("disk full")
	}
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
	return nil, nil
}

func (s *memoryStore) byRole(role string) []*models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Message
	for _, m := range s.messages {
		if m.Role == role {
			out = append(out, m)
		}
	}
	return out
}

type scriptedGenerator struct {
	chunks   []string
	result   *Result
	err      error
	failAt   int
	requests []Request
	chunkErr error
}

func (g *scriptedGenerator) Generate(ctx context.Context, req Request, onChunk func(string) error) (*Result, error) {
	g.requests = append(g.requests, req)
	for i, c := range g.chunks {
		if g.err != nil && i == g.failAt {
			return nil, g.err
		}
		if onChunk != nil {
			if err := onChunk(c); err != nil {
				g.chunkErr = err
				return nil, err
			}
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	return g.result, nil
}

type recorderStub struct {
	questions []string
}

func (r *recorderStub) RecordQuestion(ctx context.Context, q string) error {
	r.questions = append(r.questions, q)
	return errors.New("redis unavailable")
}

func helloGenerator() *scriptedGenerator {
	return &scriptedGenerator{
		chunks: []string{"Hello", " world"},
		result: &Result{Answer: "Hello world", Sources: []models.Source{}, Suggestions: []string{}, Logs: []string{}},
	}
}

func inbound(message string) Inbound {
	return Inbound{UserID: "u1", Role: "member", Message: message}
}

func TestStreamEndToEnd(t *testing.T) {
	store := newMemoryStore()
	var body bytes.Buffer
	var bodyAtPersist string
	store.onAppend = func(m *models.Message) {
		if m.Role == models.RoleAssistant {
			bodyAtPersist = body.String()
		}
	}

	flushes := 0
	a := NewAssembler(store, helloGenerator(), nil, Config{})
	err := a.Stream(context.Background(), inbound("Say hello"), &body, func() error {
		flushes++
		return nil
	})
	require.NoError(t, err)

	sessionID := store.byRole(models.RoleUser)[0].SessionID
	meta, err := json.Marshal(Metadata{SessionID: sessionID, Sources: []models.Source{}, Suggestions: []string{}, Logs: []string{}})
	require.NoError(t, err)

	assert.Equal(t, "Hello world"+MetadataDelimiter+string(meta), body.String())
	assert.Equal(t, 3, flushes, "one flush per chunk plus the metadata frame")

	assistant := store.byRole(models.RoleAssistant)
	require.Len(t, assistant, 1)
	assert.Equal(t, "Hello world", assistant[0].Content)
	assert.Equal(t, "Hello world", bodyAtPersist, "assistant message is stored after every chunk was forwarded")
}

func TestStreamMetadataCarriesResult(t *testing.T) {
	gen := &scriptedGenerator{
		chunks: []string{"Q1"},
		result: &Result{
			Answer:      "Q1",
			Sources:     []models.Source{{Type: "knowledge", Title: "JCR guide"}},
			Suggestions: []string{"What about 2022?"},
			Logs:        []string{"intent=data"},
		},
	}
	store := newMemoryStore()
	var body bytes.Buffer

	require.NoError(t, NewAssembler(store, gen, nil, Config{}).Stream(context.Background(), inbound("quartile?"), &body, nil))

	parts := strings.SplitN(body.String(), MetadataDelimiter, 2)
	require.Len(t, parts, 2)
	assert.Equal(t, "Q1", parts[0])

	var meta Metadata
	require.NoError(t, json.Unmarshal([]byte(parts[1]), &meta))
	assert.Equal(t, []string{"What about 2022?"}, meta.Suggestions)
	assert.Equal(t, []string{"intent=data"}, meta.Logs)
	require.Len(t, meta.Sources, 1)
	assert.Equal(t, "JCR guide", meta.Sources[0].Title)

	assistant := store.byRole(models.RoleAssistant)
	require.Len(t, assistant, 1)
	assert.Equal(t, meta.Sources, assistant[0].Sources)
}

func TestStreamFailureBeforeFirstChunk(t *testing.T) {
	store := newMemoryStore()
	gen := &scriptedGenerator{chunks: []string{"never"}, err: errors.New("model overloaded"), failAt: 0}
	var body bytes.Buffer

	err := NewAssembler(store, gen, nil, Config{}).Stream(context.Background(), inbound("hi"), &body, nil)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.NotErrorIs(t, err, ErrStreamAborted)
	assert.Empty(t, body.String())

	assert.Len(t, store.byRole(models.RoleUser), 1, "user message survives a generation failure")
	assert.Empty(t, store.byRole(models.RoleAssistant))
}

func TestStreamFailureMidStream(t *testing.T) {
	store := newMemoryStore()
	gen := &scriptedGenerator{chunks: []string{"Hello", " world"}, err: errors.New("connection reset"), failAt: 1}
	var body bytes.Buffer

	err := NewAssembler(store, gen, nil, Config{}).Stream(context.Background(), inbound("hi"), &body, nil)
	assert.ErrorIs(t, err, ErrStreamAborted)
	assert.Equal(t, "Hello", body.String())
	assert.NotContains(t, body.String(), MetadataDelimiter)
	assert.Empty(t, store.byRole(models.RoleAssistant))
}

func TestStreamAssistantPersistenceFailureStillDelivers(t *testing.T) {
	store := newMemoryStore()
	store.failRole = models.RoleAssistant
	var body bytes.Buffer

	err := NewAssembler(store, helloGenerator(), nil, Config{}).Stream(context.Background(), inbound("hi"), &body, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(body.String(), "Hello world"+MetadataDelimiter))
	assert.Empty(t, store.byRole(models.RoleAssistant))
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func TestStreamClientDisconnectAbortsGeneration(t *testing.T) {
	gen := helloGenerator()
	err := NewAssembler(newMemoryStore(), gen, nil, Config{}).Stream(context.Background(), inbound("hi"), failingWriter{}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	require.Error(t, gen.chunkErr)
	assert.Contains(t, gen.chunkErr.Error(), "broken pipe")
}

func TestValidation(t *testing.T) {
	a := NewAssembler(newMemoryStore(), helloGenerator(), nil, Config{MaxMessageChars: 5})

	_, err := a.Answer(context.Background(), inbound("   "))
	assert.ErrorIs(t, err, ErrEmptyMessage)

	err = a.Stream(context.Background(), inbound("too long message"), &bytes.Buffer{}, nil)
	assert.ErrorIs(t, err, ErrMessageTooLong)
}

func TestSessionResolution(t *testing.T) {
	store := newMemoryStore()
	gen := helloGenerator()
	a := NewAssembler(store, gen, nil, Config{TitleLength: 10})

	first, err := a.Answer(context.Background(), inbound("What is the sabbatical policy?"))
	require.NoError(t, err)
	assert.Equal(t, "What is th", store.sessions[first.SessionID].Title)

	in := inbound("And the form?")
	in.SessionID = first.SessionID
	second, err := a.Answer(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, 1, store.createCalls)
	assert.Equal(t, first.SessionID, gen.requests[1].SessionID)

	// Unknown or foreign sessions start a new conversation.
	stranger := Inbound{UserID: "u2", Role: "student", Message: "hi", SessionID: first.SessionID}
	third, err := a.Answer(context.Background(), stranger)
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, third.SessionID)

	in.SessionID = "missing"
	fourth, err := a.Answer(context.Background(), in)
	require.NoError(t, err)
	assert.NotEqual(t, "missing", fourth.SessionID)
}

func TestAnswerNonStreaming(t *testing.T) {
	store := newMemoryStore()
	recorder := &recorderStub{}
	gen := helloGenerator()

	reply, err := NewAssembler(store, gen, recorder, Config{}).Answer(context.Background(), inbound("Say hello"))
	require.NoError(t, err)

	assert.True(t, reply.Success)
	assert.Equal(t, "Hello world", reply.Answer)
	assert.NotNil(t, reply.Sources)
	assert.Equal(t, "member", gen.requests[0].Role)
	assert.Equal(t, []string{"Say hello"}, recorder.questions, "recorder failures are not fatal")

	history, err := NewAssembler(store, gen, nil, Config{}).History(context.Background(), "u1", reply.SessionID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.RoleUser, history[0].Role)
	assert.Equal(t, models.RoleAssistant, history[1].Role)
}

func TestAnswerFallsBackToForwardedText(t *testing.T) {
	gen := &scriptedGenerator{chunks: []string{"partial", " text"}, result: &Result{}}
	var body bytes.Buffer
	store := newMemoryStore()

	require.NoError(t, NewAssembler(store, gen, nil, Config{}).Stream(context.Background(), inbound("hi"), &body, nil))
	assistant := store.byRole(models.RoleAssistant)
	require.Len(t, assistant, 1)
	assert.Equal(t, "partial text", assistant[0].Content)
	assert.Contains(t, body.String(), `"sources":[]`)
}

func TestSessionsNeverNil(t *testing.T) {
	sessions, err := NewAssembler(newMemoryStore(), helloGenerator(), nil, Config{}).Sessions(context.Background(), "u1")
	require.NoError(t, err)
	assert.NotNil(t, sessions)
}

func TestDeleteSessionPermissions(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	a := NewAssembler(store, helloGenerator(), nil, Config{})

	reply, err := a.Answer(ctx, inbound("first question"))
	require.NoError(t, err)

	err = a.DeleteSession(ctx, "u2", "member", reply.SessionID)
	assert.ErrorIs(t, err, ErrForbidden)

	err = a.DeleteSession(ctx, "u1", "member", "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, a.DeleteSession(ctx, "chair", "chairperson", reply.SessionID))
	assert.Equal(t, "chair", store.deletedBy[reply.SessionID])

	err = a.DeleteSession(ctx, "u1", "member", reply.SessionID)
	assert.ErrorIs(t, err, ErrSessionNotFound, "a deleted session is gone")
}

func TestDeletedSessionIsNotReused(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	a := NewAssembler(store, helloGenerator(), nil, Config{})

	first, err := a.Answer(ctx, inbound("first question"))
	require.NoError(t, err)
	require.NoError(t, a.DeleteSession(ctx, "u1", "member", first.SessionID))

	in := inbound("second question")
	in.SessionID = first.SessionID
	second, err := a.Answer(ctx, in)
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.Equal(t, 2, store.createCalls)
}

func TestClearSessionsOnlyTouchesCaller(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	a := NewAssembler(store, helloGenerator(), nil, Config{})

	for _, q := range []string{"one", "two"} {
		_, err := a.Answer(ctx, inbound(q))
		require.NoError(t, err)
	}
	other := inbound("three")
	other.UserID = "u2"
	kept, err := a.Answer(ctx, other)
	require.NoError(t, err)

	n, err := a.ClearSessions(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	session, err := store.GetSession(ctx, kept.SessionID)
	require.NoError(t, err)
	assert.NotNil(t, session)
}
