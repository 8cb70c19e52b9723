package query

import (
	"fmt"
	"strings"

	"github.com/rc-assistant/backend/internal/knowledge"
)

const maxEntryChars = 2000

func systemPrompt(role string, entries []knowledge.Scored, toolsOffered bool) string {
	var b strings.Builder

	b.WriteString(`You are the research centre assistant. You answer questions from staff and students about research policies, grants, journals and institution rankings.

Rules:
1. Base policy answers ONLY on the knowledge entries provided below and say so when they do not cover the question.
2. Never invent impact factors, quartiles or ranking figures.
3. Cite the document title when you use a knowledge entry.
4. Be concise and use short lists for multi-step procedures.`)

	if toolsOffered {
		b.WriteString("\n5. Use the provided tools for journal impact factors, quartiles and Nature Index figures, and report the year of every figure.")
	}

	if role == "" {
		role = "public"
	}
	fmt.Fprintf(&b, "\n\nThe user's access role is %q.", role)

	if len(entries) == 0 {
		b.WriteString("\n\nNo knowledge entries matched this question.")
		return b.String()
	}

	b.WriteString("\n\nKnowledge entries:\n")
	for i, s := range entries {
		body := []rune(s.Entry.Body)
		if len(body) > maxEntryChars {
			body = body[:maxEntryChars]
		}
		fmt.Fprintf(&b, "\n[%d] %s\n%s\n", i+1, entryTitle(s.Entry), strings.TrimSpace(string(body)))
	}

	return b.String()
}
