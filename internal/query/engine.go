package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/rc-assistant/backend/internal/chat"
	"github.com/rc-assistant/backend/internal/intent"
	"github.com/rc-assistant/backend/internal/knowledge"
	"github.com/rc-assistant/backend/internal/llm"
	"github.com/rc-assistant/backend/internal/metrics"
	"github.com/rc-assistant/backend/internal/reference"
	"github.com/rc-assistant/backend/internal/storage/models"
	"github.com/rc-assistant/backend/pkg/logger"
)

// LLM is the completion backend used by the engine.
type LLM interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
	Stream(ctx context.Context, req llm.CompletionRequest, onDelta func(string) error) (*llm.CompletionResponse, error)
}

type KnowledgeSearcher interface {
	Search(ctx context.Context, query string, accessLevels []string, limit int) ([]knowledge.Scored, error)
}

type HistoryReader interface {
	ListMessages(ctx context.Context, sessionID, userID string) ([]*models.Message, error)
}

type Config struct {
	KnowledgeLimit int
	HistoryLimit   int
	MaxToolRounds  int
}

// Engine answers one question: it routes by intent, gathers authored
// knowledge, lets the model call the reference tools and streams the final
// answer.
type Engine struct {
	llm          LLM
	knowledge    KnowledgeSearcher
	history      HistoryReader
	journals     *reference.Journals
	institutions *reference.Institutions
	cfg          Config
}

func NewEngine(llmClient LLM, searcher KnowledgeSearcher, history HistoryReader, journals *reference.Journals, institutions *reference.Institutions, cfg Config) *Engine {
	if cfg.KnowledgeLimit <= 0 {
		cfg.KnowledgeLimit = 3
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 3
	}

	return &Engine{
		llm:          llmClient,
		knowledge:    searcher,
		history:      history,
		journals:     journals,
		institutions: institutions,
		cfg:          cfg,
	}
}

// trace collects what one Generate call did, for the response metadata.
type trace struct {
	sources     []models.Source
	suggestions []string
	logs        []string
	seen        map[string]bool
}

func (t *trace) logf(format string, args ...any) {
	t.logs = append(t.logs, fmt.Sprintf(format, args...))
}

func (t *trace) suggest(s string) {
	if s == "" || t.seen[s] || len(t.suggestions) >= 3 {
		return
	}
	t.seen[s] = true
	t.suggestions = append(t.suggestions, s)
}

func (e *Engine) Generate(ctx context.Context, req chat.Request, onChunk func(string) error) (*chat.Result, error) {
	start := time.Now()
	tr := &trace{seen: make(map[string]bool)}

	routing := intent.Classify(req.Query)
	metrics.IntentTotal.WithLabelValues(string(routing.Intent), string(routing.Confidence)).Inc()
	tr.logf("Intent: %s (%s) - %s", routing.Intent, routing.Confidence, routing.Rationale)

	tools := e.availableTools()
	if !intent.ShouldOfferTools(routing) {
		tools = nil
		tr.logf("Tools withheld for %s query", routing.Intent)
	}

	entries := e.retrieveKnowledge(ctx, req, routing, tools, tr)

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(req.Role, entries, len(tools) > 0)},
	}
	messages = append(messages, e.historyMessages(ctx, req)...)
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Query})

	answer, err := e.answer(ctx, messages, tools, onChunk, tr)
	if err != nil {
		return nil, err
	}

	for _, s := range knowledgeSuggestions(entries) {
		tr.suggest(s)
	}

	logger.Info("Query answered",
		zap.String("session_id", req.SessionID),
		zap.String("intent", string(routing.Intent)),
		zap.Int("knowledge_entries", len(entries)),
		zap.Int("sources", len(tr.sources)),
		zap.Duration("duration", time.Since(start)),
	)

	return &chat.Result{
		Answer:      answer,
		Sources:     tr.sources,
		Suggestions: tr.suggestions,
		Logs:        tr.logs,
	}, nil
}

func (e *Engine) availableTools() []string {
	var tools []string
	if e.journals != nil {
		tools = append(tools, intent.ToolJournalMetric)
	}
	if e.institutions != nil {
		tools = append(tools, intent.ToolInstitutionRanking)
	}
	return tools
}

func (e *Engine) retrieveKnowledge(ctx context.Context, req chat.Request, routing intent.Result, tools []string, tr *trace) []knowledge.Scored {
	if e.knowledge == nil {
		return nil
	}

	if suppress, reason := intent.ShouldSuppressKnowledge(routing, tools); suppress {
		tr.logf("Knowledge suppressed: %s", reason)
		metrics.KnowledgeResultsCount.Observe(0)
		return nil
	}

	entries, err := e.knowledge.Search(ctx, req.Query, knowledge.AccessLevelsForRole(req.Role), e.cfg.KnowledgeLimit)
	if err != nil {
		logger.Warn("Knowledge retrieval failed", zap.Error(err))
		tr.logf("Knowledge retrieval failed")
		return nil
	}

	metrics.KnowledgeResultsCount.Observe(float64(len(entries)))
	tr.logf("Knowledge entries: %d", len(entries))

	for _, s := range entries {
		access := ""
		if len(s.Entry.AccessLevels) > 0 {
			access = s.Entry.AccessLevels[0]
		}
		tr.sources = append(tr.sources, models.Source{
			Type:           "knowledge",
			Title:          entryTitle(s.Entry),
			DocumentID:     s.Entry.ID,
			Category:       s.Entry.Category,
			Department:     s.Entry.Department,
			AccessLevel:    access,
			RelevanceScore: s.Score,
		})
	}

	return entries
}

// historyMessages returns the most recent turns of the session, without the
// question being answered, which the caller has already stored.
func (e *Engine) historyMessages(ctx context.Context, req chat.Request) []openai.ChatCompletionMessage {
	if e.history == nil || e.cfg.HistoryLimit <= 0 || req.SessionID == "" {
		return nil
	}

	stored, err := e.history.ListMessages(ctx, req.SessionID, req.UserID)
	if err != nil {
		logger.Warn("Failed to load conversation history", zap.String("session_id", req.SessionID), zap.Error(err))
		return nil
	}

	if n := len(stored); n > 0 && stored[n-1].Role == models.RoleUser && stored[n-1].Content == req.Query {
		stored = stored[:n-1]
	}
	if len(stored) > e.cfg.HistoryLimit {
		stored = stored[len(stored)-e.cfg.HistoryLimit:]
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(stored))
	for _, m := range stored {
		role := openai.ChatMessageRoleUser
		if m.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return messages
}

// answer runs the tool rounds, then streams the final completion. A round
// that ends without tool calls is the answer itself and is forwarded as one
// chunk.
func (e *Engine) answer(ctx context.Context, messages []openai.ChatCompletionMessage, tools []string, onChunk func(string) error, tr *trace) (string, error) {
	emit := onChunk
	if emit == nil {
		emit = func(string) error { return nil }
	}

	if len(tools) > 0 {
		defs := toolDefinitions(tools)

		for round := 0; round < e.cfg.MaxToolRounds; round++ {
			resp, err := e.llm.Complete(ctx, llm.CompletionRequest{Messages: messages, Tools: defs})
			if err != nil {
				return "", fmt.Errorf("failed to run tool round: %w", err)
			}

			if len(resp.ToolCalls) == 0 {
				if resp.Content == "" {
					break
				}
				if err := emit(resp.Content); err != nil {
					return "", err
				}
				return resp.Content, nil
			}

			messages = append(messages, openai.ChatCompletionMessage{
				Role:      openai.ChatMessageRoleAssistant,
				Content:   resp.Content,
				ToolCalls: resp.ToolCalls,
			})
			for _, call := range resp.ToolCalls {
				messages = append(messages, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    e.runTool(ctx, call, tr),
					ToolCallID: call.ID,
				})
			}
		}
	}

	resp, err := e.llm.Stream(ctx, llm.CompletionRequest{Messages: messages}, emit)
	if err != nil {
		return "", fmt.Errorf("failed to stream answer: %w", err)
	}

	return resp.Content, nil
}

func entryTitle(e knowledge.Entry) string {
	if e.SectionTitle == "" {
		return e.DocumentTitle
	}
	return e.DocumentTitle + " - " + e.SectionTitle
}

func knowledgeSuggestions(entries []knowledge.Scored) []string {
	var out []string
	for _, s := range entries {
		if s.Entry.DocumentTitle == "" {
			continue
		}
		out = append(out, fmt.Sprintf("What else does the %s cover?", strings.TrimSpace(s.Entry.DocumentTitle)))
	}
	return out
}
