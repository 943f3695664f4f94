package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"finsight/internal/capture"
	"finsight/internal/logging"
	"finsight/internal/types"
)

const synthesizerSystemPrompt = `You are a financial research analyst. Answer the user's question
using ONLY the provided context: document excerpts and price data.
Quote concrete figures where the context has them. If the context does
not cover something, say so plainly instead of guessing. Currency is
Indian Rupees unless the context says otherwise.`

// retrievalK is the top-K chunk count for answer context.
const retrievalK = 8

// apologyMessage is the terminal user-visible text when synthesis
// itself fails.
const apologyMessage = "I apologize, but I ran into a problem while composing the answer. Please try asking again."

// hedgingPhrases reduce confidence when present in an answer.
var hedgingPhrases = []string{
	"not available",
	"not found",
	"insufficient information",
	"cannot determine",
	"not specified",
}

// runSynthesizer composes the final answer from retrieved chunks and
// held price data. Failures become a terminal apology answer; nothing
// propagates past the graph boundary.
func (e *Engine) runSynthesizer(ctx context.Context, s *types.ConversationState) {
	timer := logging.StartTimer(logging.CategoryGraph, "runSynthesizer")
	defer timer.Stop()

	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryGraph).Error("synthesis panic: %v", r)
			s.Error = types.Errf(types.ErrKindSynthesis, "synthesis failed: %v", r)
			s.Answer = apologyAnswer()
			s.AddTurn("assistant", s.Answer.Answer, "")
		}
	}()

	var chunks []types.ScoredChunk
	if s.UseVectorBase {
		var err error
		chunks, err = e.store.SimilaritySearch(ctx, s.Query, retrievalK)
		if err != nil {
			logging.Get(logging.CategoryGraph).Warn("similarity search failed: %v", err)
		}
	}

	contextBlock := buildAnswerContext(chunks, s.PriceData)
	prompt := buildSynthesizerPrompt(s, contextBlock)

	answerText, err := e.llm.Complete(ctx, synthesizerSystemPrompt, prompt)
	if err != nil || strings.TrimSpace(answerText) == "" {
		logging.Get(logging.CategoryGraph).Error("synthesis failed: %v", err)
		s.Error = types.Errf(types.ErrKindSynthesis, "synthesis failed: %v", err)
		s.Answer = apologyAnswer()
		s.AddTurn("assistant", s.Answer.Answer, "")
		return
	}

	answer := &types.FinancialAnswer{
		Answer:         answerText,
		Sources:        assembleSources(chunks, s.PriceData),
		Confidence:     ComputeConfidence(answerText, len(chunks), s.PriceData),
		SupportingData: supportingData(s.PriceData),
	}

	s.Answer = answer
	s.AddTurn("assistant", answerText, "")
	logging.Graph("synthesized answer: %d chars, %d sources, confidence %.2f",
		len(answerText), len(answer.Sources), answer.Confidence)
}

func apologyAnswer() *types.FinancialAnswer {
	return &types.FinancialAnswer{
		Answer:     apologyMessage,
		Sources:    []string{"No specific sources identified"},
		Confidence: 0,
	}
}

// buildAnswerContext lays out document excerpts headed by their origin
// and price sections per symbol.
func buildAnswerContext(chunks []types.ScoredChunk, priceData map[string]string) string {
	var sb strings.Builder

	for _, c := range chunks {
		baseID := c.ChunkID
		if idx := strings.Index(baseID, "_chunk_"); idx >= 0 {
			baseID = baseID[:idx]
		}
		fmt.Fprintf(&sb, "From %s %s (%s):\n%s\n\n",
			c.Metadata["company"], c.Metadata["doc_type"], baseID, c.Content)
	}

	for _, sym := range sortedKeys(priceData) {
		fmt.Fprintf(&sb, "=== %s Price Data ===\n%s\n\n", sym, priceData[sym])
	}

	if sb.Len() == 0 {
		return "(no context retrieved)"
	}
	return sb.String()
}

func buildSynthesizerPrompt(s *types.ConversationState, contextBlock string) string {
	var sb strings.Builder

	history := s.RecentHistory(5)
	if len(history) > 1 {
		sb.WriteString("Recent conversation:\n")
		for _, turn := range history[:len(history)-1] {
			fmt.Fprintf(&sb, "%s: %s\n", turn.Role, turn.Content)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "Context:\n%s\n", contextBlock)
	fmt.Fprintf(&sb, "Question: %s", s.Query)
	return sb.String()
}

// assembleSources lists price sources first, then document sources in
// retrieval order, deduplicated, with a placeholder fallback.
func assembleSources(chunks []types.ScoredChunk, priceData map[string]string) []string {
	var sources []string
	seen := map[string]bool{}

	for _, sym := range sortedKeys(priceData) {
		src := fmt.Sprintf("Screener.in - %s Price Data", sym)
		if !seen[src] {
			seen[src] = true
			sources = append(sources, src)
		}
	}

	for _, c := range chunks {
		src := fmt.Sprintf("%s - %s", c.Metadata["company"], c.Metadata["doc_type"])
		if !seen[src] {
			seen[src] = true
			sources = append(sources, src)
		}
	}

	if len(sources) == 0 {
		sources = append(sources, "No specific sources identified")
	}
	return sources
}

// ComputeConfidence derives the bounded confidence score for an answer
// from what grounded it. The result is always within [0, 1].
func ComputeConfidence(answer string, documentCount int, priceData map[string]string) float64 {
	confidence := 0.5

	if documentCount > 0 {
		confidence += 0.2
	}
	if hasMeaningfulPriceData(priceData) {
		confidence += 0.2
	}

	docBonus := 0.05 * float64(documentCount)
	if docBonus > 0.15 {
		docBonus = 0.15
	}
	confidence += docBonus

	if len(answer) > 100 {
		confidence += 0.1
	}

	lower := strings.ToLower(answer)
	for _, phrase := range hedgingPhrases {
		if strings.Contains(lower, phrase) {
			confidence -= 0.2
			break
		}
	}

	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}

func hasMeaningfulPriceData(priceData map[string]string) bool {
	for _, text := range priceData {
		if strings.TrimSpace(text) != "" && text != capture.NoPriceData {
			return true
		}
	}
	return false
}

func supportingData(priceData map[string]string) map[string]string {
	if len(priceData) == 0 {
		return nil
	}
	out := make(map[string]string, len(priceData))
	for sym, text := range priceData {
		out[sym] = text
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
