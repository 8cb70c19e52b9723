package query

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/rc-assistant/backend/internal/intent"
	"github.com/rc-assistant/backend/internal/metrics"
	"github.com/rc-assistant/backend/internal/reference"
	"github.com/rc-assistant/backend/internal/storage/models"
	"github.com/rc-assistant/backend/pkg/logger"
)

type journalArgs struct {
	JournalName string `json:"journalName"`
	ISSN        string `json:"issn"`
	Years       []int  `json:"years"`
}

type institutionArgs struct {
	Institution string `json:"institution"`
	Country     string `json:"country"`
	Limit       int    `json:"limit"`
}

type journalResult struct {
	Found     bool                      `json:"found"`
	Journal   string                    `json:"journal,omitempty"`
	ISSN      []string                  `json:"issn,omitempty"`
	MatchType reference.MatchType       `json:"matchType,omitempty"`
	Metrics   []reference.PeriodSummary `json:"metrics,omitempty"`
	Reason    string                    `json:"reason,omitempty"`
}

type institutionEntry struct {
	Position    *float64 `json:"position"`
	Institution string   `json:"institution"`
	Country     string   `json:"country"`
	Count       *float64 `json:"count"`
	Share       *float64 `json:"share"`
	Year        int      `json:"year"`
}

type institutionResult struct {
	Found        bool                `json:"found"`
	MatchType    reference.MatchType `json:"matchType,omitempty"`
	Institutions []institutionEntry  `json:"institutions"`
	Reason       string              `json:"reason,omitempty"`
}

func toolDefinitions(names []string) []openai.Tool {
	var tools []openai.Tool
	for _, name := range names {
		switch name {
		case intent.ToolJournalMetric:
			tools = append(tools, openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        intent.ToolJournalMetric,
					Description: "Look up Journal Impact Factor and quartile of a journal by title or ISSN.",
					Parameters: map[string]any{
						"type": "object",
						"properties": map[string]any{
							"journalName": map[string]any{"type": "string", "description": "Journal title"},
							"issn":        map[string]any{"type": "string", "description": "Print or electronic ISSN"},
							"years": map[string]any{
								"type":        "array",
								"items":       map[string]any{"type": "integer"},
								"description": "JIF years to report; all years when omitted",
							},
						},
					},
				},
			})
		case intent.ToolInstitutionRanking:
			tools = append(tools, openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        intent.ToolInstitutionRanking,
					Description: "Look up Nature Index research output of an institution, or list top institutions overall or by country.",
					Parameters: map[string]any{
						"type": "object",
						"properties": map[string]any{
							"institution": map[string]any{"type": "string", "description": "Institution name"},
							"country":     map[string]any{"type": "string", "description": "Country to list institutions for"},
							"limit":       map[string]any{"type": "integer", "description": "Maximum institutions to list"},
						},
					},
				},
			})
		}
	}
	return tools
}

// runTool executes one tool call and returns its JSON result. Failures are
// reported to the model as an error object rather than aborting the answer.
func (e *Engine) runTool(ctx context.Context, call openai.ToolCall, tr *trace) string {
	name := call.Function.Name

	var (
		result any
		err    error
	)
	switch name {
	case intent.ToolJournalMetric:
		result, err = e.lookupJournal(ctx, call.Function.Arguments, tr)
	case intent.ToolInstitutionRanking:
		result, err = e.lookupInstitutions(ctx, call.Function.Arguments, tr)
	default:
		err = fmt.Errorf("unknown tool %q", name)
	}

	if err != nil {
		metrics.ToolCalls.WithLabelValues(name, "error").Inc()
		logger.Warn("Tool call failed", zap.String("tool", name), zap.Error(err))
		tr.logf("Tool %s failed", name)
		return toolJSON(map[string]string{"error": err.Error()})
	}

	metrics.ToolCalls.WithLabelValues(name, "ok").Inc()
	return toolJSON(result)
}

func (e *Engine) lookupJournal(ctx context.Context, raw string, tr *trace) (*journalResult, error) {
	if e.journals == nil {
		return nil, fmt.Errorf("journal metrics are not available")
	}

	var args journalArgs
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(args.JournalName) == "" && strings.TrimSpace(args.ISSN) == "" {
		return nil, fmt.Errorf("journalName or issn is required")
	}

	match, err := e.journals.Lookup(ctx, args.ISSN, args.JournalName, args.Years)
	if err != nil {
		return nil, err
	}

	if !match.Found {
		tr.logf("Tool %s: no match for %q", intent.ToolJournalMetric, firstNonEmpty(args.JournalName, args.ISSN))
		return &journalResult{Reason: match.Reason}, nil
	}

	tr.logf("Tool %s: %s (%s)", intent.ToolJournalMetric, match.Record.DisplayName, match.MatchType)
	tr.sources = append(tr.sources, models.Source{Type: "tool", Title: "JCR Journal Metrics: " + match.Record.DisplayName})
	tr.suggest(fmt.Sprintf("How has the impact factor of %s changed over recent years?", match.Record.DisplayName))

	return &journalResult{
		Found:     true,
		Journal:   match.Record.DisplayName,
		ISSN:      match.Record.Identifiers,
		MatchType: match.MatchType,
		Metrics:   match.Periods,
		Reason:    match.Reason,
	}, nil
}

func (e *Engine) lookupInstitutions(ctx context.Context, raw string, tr *trace) (*institutionResult, error) {
	if e.institutions == nil {
		return nil, fmt.Errorf("institution rankings are not available")
	}

	var args institutionArgs
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}
	if args.Limit <= 0 || args.Limit > 50 {
		args.Limit = 10
	}

	if name := strings.TrimSpace(args.Institution); name != "" {
		match, err := e.institutions.LookupByName(ctx, name)
		if err != nil {
			return nil, err
		}
		if !match.Found {
			tr.logf("Tool %s: no match for %q", intent.ToolInstitutionRanking, name)
			return &institutionResult{Institutions: []institutionEntry{}, Reason: match.Reason}, nil
		}

		tr.logf("Tool %s: %s (%s)", intent.ToolInstitutionRanking, match.Record.DisplayName, match.MatchType)
		tr.sources = append(tr.sources, models.Source{Type: "tool", Title: "Nature Index: " + match.Record.DisplayName})
		if country := match.Record.Fact(reference.FactCountry); country != "" {
			tr.suggest(fmt.Sprintf("Which institutions in %s rank highest in the Nature Index?", country))
		}

		return &institutionResult{
			Found:        true,
			MatchType:    match.MatchType,
			Institutions: []institutionEntry{toInstitutionEntry(match.Record)},
			Reason:       match.Reason,
		}, nil
	}

	var (
		records []*reference.MetricRecord
		err     error
		title   = "Nature Index: top institutions"
	)
	if country := strings.TrimSpace(args.Country); country != "" {
		records, err = e.institutions.ByCountry(ctx, country, args.Limit)
		title = "Nature Index: top institutions in " + country
	} else {
		records, err = e.institutions.Top(ctx, args.Limit)
	}
	if err != nil {
		return nil, err
	}

	tr.logf("Tool %s: %d institutions listed", intent.ToolInstitutionRanking, len(records))
	if len(records) == 0 {
		return &institutionResult{Institutions: []institutionEntry{}, Reason: "No institutions found"}, nil
	}
	tr.sources = append(tr.sources, models.Source{Type: "tool", Title: title})

	out := make([]institutionEntry, 0, len(records))
	for _, r := range records {
		out = append(out, toInstitutionEntry(r))
	}
	return &institutionResult{Found: true, Institutions: out}, nil
}

func toInstitutionEntry(r *reference.MetricRecord) institutionEntry {
	return institutionEntry{
		Position:    r.Metric(reference.MetricPosition),
		Institution: r.DisplayName,
		Country:     r.Fact(reference.FactCountry),
		Count:       r.Metric(reference.MetricCount),
		Share:       r.Metric(reference.MetricShare),
		Year:        r.Period,
	}
}

func toolJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return `{"error":"failed to encode tool result"}`
	}
	return string(data)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
