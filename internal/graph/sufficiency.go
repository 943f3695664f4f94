package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"finsight/internal/logging"
	"finsight/internal/types"
)

const sufficiencySystemPrompt = `You are a retrieval gatekeeper for a financial research assistant.
Given the user's question, the documents already indexed, any price data
already held, and recent conversation history, decide whether the
question can be answered from existing material.

Respond SUFFICIENT only when the indexed documents or held price data
clearly cover the question. When the question needs data that is not
listed, respond RETRIEVE_NEW.

Also rewrite the question so it stands alone: resolve pronouns and
references like "it", "them", "compare with last year" using the
conversation history.`

const sufficiencySchema = `{
	"type": "object",
	"properties": {
		"decision": {"type": "string", "enum": ["SUFFICIENT", "RETRIEVE_NEW"]},
		"enhanced_query": {"type": "string"},
		"reasoning": {"type": "string"}
	},
	"required": ["decision", "enhanced_query"]
}`

type sufficiencyOutput struct {
	Decision      string `json:"decision"`
	EnhancedQuery string `json:"enhanced_query"`
	Reasoning     string `json:"reasoning"`
}

// runSufficiency decides SUFFICIENT vs RETRIEVE_NEW and rewrites the
// carried query with conversational context. LLM failures degrade to
// RETRIEVE_NEW rather than failing the turn.
func (e *Engine) runSufficiency(ctx context.Context, s *types.ConversationState) {
	docs, err := e.store.ListDocuments()
	if err != nil {
		logging.Get(logging.CategoryGraph).Warn("list documents: %v", err)
	}

	prompt := buildSufficiencyPrompt(s, docs)
	raw, err := e.llm.CompleteWithSchema(ctx, sufficiencySystemPrompt, prompt, sufficiencySchema)
	if err != nil {
		logging.Get(logging.CategoryGraph).Warn("sufficiency check failed, defaulting to retrieval: %v", err)
		s.Sufficient = false
		return
	}

	var out sufficiencyOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		logging.Get(logging.CategoryGraph).Warn("sufficiency output unparseable, defaulting to retrieval: %v", err)
		s.Sufficient = false
		return
	}

	if q := strings.TrimSpace(out.EnhancedQuery); q != "" {
		s.Query = q
	}
	s.Sufficient = out.Decision == "SUFFICIENT" && (len(docs) > 0 || len(s.PriceData) > 0)
	if s.Sufficient {
		s.UseVectorBase = len(docs) > 0
	}

	logging.Graph("sufficiency: decision=%s sufficient=%v query=%q", out.Decision, s.Sufficient, s.Query)
	s.AddTurn("assistant", fmt.Sprintf("sufficiency: %s", out.Decision), "sufficiency")
}

func buildSufficiencyPrompt(s *types.ConversationState, docs []types.DocumentDescriptor) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Question: %s\n\n", s.Query)

	sb.WriteString("Indexed documents:\n")
	if len(docs) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, d := range docs {
		fmt.Fprintf(&sb, "- %s %s", d.Company, d.DocType)
		if d.Year != "" {
			fmt.Fprintf(&sb, " %s", d.Year)
		}
		if d.Month != "" {
			fmt.Fprintf(&sb, " %s", d.Month)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\nHeld price data:\n")
	if len(s.PriceData) == 0 {
		sb.WriteString("(none)\n")
	}
	for sym := range s.PriceData {
		fmt.Fprintf(&sb, "- %s\n", sym)
	}

	history := s.RecentHistory(5)
	if len(history) > 0 {
		sb.WriteString("\nRecent conversation:\n")
		for _, turn := range history {
			fmt.Fprintf(&sb, "%s: %s\n", turn.Role, turn.Content)
		}
	}

	return sb.String()
}
