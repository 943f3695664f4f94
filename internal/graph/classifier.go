package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"finsight/internal/logging"
	"finsight/internal/types"
)

const classifierSystemPrompt = `You classify financial questions into typed data requests.

Document types:
- price_data: stock price, chart, performance, volume questions
- annual_report: revenue, profit, balance sheet, business segments
- call_transcript: management commentary, guidance, earnings calls

Temporal rules:
- Rewrite vague references ("latest", "current", "this year") to the
  explicit year. The current year is given in the prompt.
- Quarters map to months: Q1 -> Jan, Q2 -> Apr, Q3 -> Jul, Q4 -> Oct.
- For price_data choose days_back by recency wording:
  recent/current ~30, short term ~180, default ~365,
  historical/long term ~1825, all time ~10000.

Emit one classification per distinct data need. Use the company name as
written by the user; do not invent ticker symbols. Also emit an
enhanced_query restating the question with the explicit time window.`

const classifierSchema = `{
	"type": "object",
	"properties": {
		"classifications": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"document_type": {"type": "string", "enum": ["price_data", "annual_report", "call_transcript"]},
					"company_name": {"type": "string"},
					"confidence": {"type": "number"},
					"year": {"type": "string"},
					"month": {"type": "string"},
					"days_back": {"type": "integer"}
				},
				"required": ["document_type", "company_name", "confidence"]
			}
		},
		"enhanced_query": {"type": "string"},
		"reasoning": {"type": "string"}
	},
	"required": ["classifications", "enhanced_query"]
}`

type classifierItem struct {
	DocumentType string  `json:"document_type"`
	CompanyName  string  `json:"company_name"`
	Confidence   float64 `json:"confidence"`
	Year         string  `json:"year"`
	Month        string  `json:"month"`
	DaysBack     int     `json:"days_back"`
}

type classifierOutput struct {
	Classifications []classifierItem `json:"classifications"`
	EnhancedQuery   string           `json:"enhanced_query"`
	Reasoning       string           `json:"reasoning"`
}

// runClassifier turns the query into typed classifications with
// resolved symbols. Resolution is fail-fast: one unresolvable company
// fails the whole turn, even when sibling items are valid.
func (e *Engine) runClassifier(ctx context.Context, s *types.ConversationState) {
	timer := logging.StartTimer(logging.CategoryClassify, "runClassifier")
	defer timer.Stop()

	prompt := fmt.Sprintf("Current year: %d\n\nQuestion: %s", time.Now().Year(), s.Query)
	raw, err := e.llm.CompleteWithSchema(ctx, classifierSystemPrompt, prompt, classifierSchema)
	if err != nil {
		s.Error = types.Errf(types.ErrKindLLM, "classification failed: %v", err)
		return
	}

	var out classifierOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		s.Error = types.Errf(types.ErrKindLLM, "classification output unparseable: %v", err)
		return
	}
	if len(out.Classifications) == 0 {
		s.Error = types.Errf(types.ErrKindLLM, "classifier produced no data requests for %q", s.Query)
		return
	}

	classifications := make([]types.DocumentClassification, 0, len(out.Classifications))
	for _, item := range out.Classifications {
		docType := types.DocType(item.DocumentType)
		if !docType.Valid() {
			s.Error = types.Errf(types.ErrKindLLM, "unknown document type %q", item.DocumentType)
			return
		}

		symbol, nerr := e.registry.ResolveStrict(item.CompanyName)
		if nerr != nil {
			// Fail-fast: no partial acceptance across the batch.
			s.Error = nerr
			logging.Classify("resolution failed for %q, failing turn", item.CompanyName)
			return
		}

		c := types.DocumentClassification{
			DocumentType: docType,
			Confidence:   item.Confidence,
			CompanyName:  item.CompanyName,
			Symbol:       symbol,
			Year:         item.Year,
			Month:        item.Month,
			DaysBack:     item.DaysBack,
		}
		if c.DocumentType == types.DocTypePriceData && c.DaysBack <= 0 {
			c.DaysBack = 365
		}
		classifications = append(classifications, c)
	}

	s.Classifications = classifications
	if q := strings.TrimSpace(out.EnhancedQuery); q != "" {
		s.Query = q
	}
	// Fresh turn, fresh price context.
	s.PriceData = map[string]string{}

	logging.Classify("classified %q into %d requests", s.Query, len(classifications))
	s.AddTurn("assistant", fmt.Sprintf("classified into %d data requests", len(classifications)), "classifier")
}
