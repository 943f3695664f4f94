// Package types holds the shared data model threaded through the
// conversation graph: conversation state, classifications, documents,
// price series, and the final answer.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// DocType identifies the kind of data artifact a classification requests.
type DocType string

const (
	DocTypePriceData      DocType = "price_data"
	DocTypeAnnualReport   DocType = "annual_report"
	DocTypeCallTranscript DocType = "call_transcript"
)

// Valid reports whether t is one of the known document types.
func (t DocType) Valid() bool {
	switch t {
	case DocTypePriceData, DocTypeAnnualReport, DocTypeCallTranscript:
		return true
	}
	return false
}

// ErrKind classifies node-level failures for routing and reporting.
type ErrKind string

const (
	ErrKindSymbolResolution ErrKind = "symbol_resolution"
	ErrKindAcquisition      ErrKind = "acquisition"
	ErrKindCaptureTimeout   ErrKind = "capture_timeout"
	ErrKindSynthesis        ErrKind = "synthesis"
	ErrKindLLM              ErrKind = "llm"
)

// NodeError is a typed, human-readable failure recorded in conversation
// state. Its presence routes the graph to the terminal node.
type NodeError struct {
	Kind    ErrKind `json:"kind"`
	Message string  `json:"message"`
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Errf builds a NodeError with a formatted message.
func Errf(kind ErrKind, format string, args ...interface{}) *NodeError {
	return &NodeError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Turn is one message in a conversation. Agent tags intermediate messages
// produced by pipeline stages; final answers and user turns leave it empty.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Agent   string `json:"agent,omitempty"`
}

// DocumentClassification is a typed request for one data artifact.
type DocumentClassification struct {
	DocumentType DocType `json:"document_type"`
	Confidence   float64 `json:"confidence"`
	CompanyName  string  `json:"company_name"`
	Symbol       string  `json:"symbol"`
	Year         string  `json:"year,omitempty"`
	Month        string  `json:"month,omitempty"`
	DaysBack     int     `json:"days_back,omitempty"`
}

// DedupKey is the composite identity used to decide whether acquisition
// can be skipped for a non-price classification.
func (c DocumentClassification) DedupKey() string {
	return fmt.Sprintf("%s_%s_%s_%s", c.Symbol, c.DocumentType, c.Year, c.Month)
}

// ConversationState is the single mutable record threaded through every
// node of a turn. It is owned by the graph engine; nodes receive it by
// pointer and patch the fields their contract names.
type ConversationState struct {
	ThreadID        string                   `json:"thread_id"`
	Turns           []Turn                   `json:"turns"`
	Query           string                   `json:"query"`
	Classifications []DocumentClassification `json:"classifications,omitempty"`
	PriceData       map[string]string        `json:"price_data,omitempty"`
	UseVectorBase   bool                     `json:"use_vector_base"`
	Sufficient      bool                     `json:"sufficient"`
	Error           *NodeError               `json:"error,omitempty"`
	Answer          *FinancialAnswer         `json:"answer,omitempty"`
}

// AddTurn appends a message to the conversation.
func (s *ConversationState) AddTurn(role, content, agent string) {
	s.Turns = append(s.Turns, Turn{Role: role, Content: content, Agent: agent})
}

// RecentHistory returns the last n qualifying turns: user messages and
// final assistant answers. Agent-tagged intermediate messages are skipped.
func (s *ConversationState) RecentHistory(n int) []Turn {
	var filtered []Turn
	for _, t := range s.Turns {
		if t.Agent != "" {
			continue
		}
		filtered = append(filtered, t)
	}
	if len(filtered) > n {
		filtered = filtered[len(filtered)-n:]
	}
	return filtered
}

// DownloadedDocument is raw acquired content, consumed exactly once by
// the processor.
type DownloadedDocument struct {
	Type      DocType           `json:"type"`
	Company   string            `json:"company"`
	Symbol    string            `json:"symbol"`
	SourceURL string            `json:"source_url"`
	Content   []byte            `json:"-"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	FetchedAt time.Time         `json:"fetched_at"`
}

// ProcessedDocument is a chunked document ready for the store. Chunk
// order is insertion order.
type ProcessedDocument struct {
	DocID    string            `json:"doc_id"`
	Chunks   []string          `json:"chunks"`
	Metadata map[string]string `json:"metadata"`
}

// ScoredChunk is a similarity-search hit.
type ScoredChunk struct {
	ChunkID    string            `json:"chunk_id"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata"`
	Similarity float64           `json:"similarity"`
}

// DocumentDescriptor summarizes one indexed document for inventory
// listings and the sufficiency prompt.
type DocumentDescriptor struct {
	Company string  `json:"company"`
	Symbol  string  `json:"symbol"`
	DocType DocType `json:"doc_type"`
	Year    string  `json:"year,omitempty"`
	Month   string  `json:"month,omitempty"`
	Chunks  int     `json:"chunks"`
}

// PricePoint is one (date, value) sample in a chart dataset.
type PricePoint struct {
	Date  string
	Value float64
}

// UnmarshalJSON accepts the chart payload's array form ["date", value],
// where value may arrive as a JSON number or a numeric string.
func (p *PricePoint) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) < 2 {
		return fmt.Errorf("price point needs [date, value], got %d elements", len(raw))
	}
	if err := json.Unmarshal(raw[0], &p.Date); err != nil {
		return fmt.Errorf("price point date: %w", err)
	}
	if err := json.Unmarshal(raw[1], &p.Value); err != nil {
		var s string
		if serr := json.Unmarshal(raw[1], &s); serr != nil {
			return fmt.Errorf("price point value: %w", err)
		}
		if _, ferr := fmt.Sscanf(s, "%f", &p.Value); ferr != nil {
			return fmt.Errorf("price point value %q: %w", s, ferr)
		}
	}
	return nil
}

// Dataset is one named series in a chart response.
type Dataset struct {
	Metric string       `json:"metric"`
	Label  string       `json:"label"`
	Values []PricePoint `json:"values"`
}

// PriceSeriesBundle is the parsed chart payload for one symbol.
type PriceSeriesBundle struct {
	Datasets []Dataset `json:"datasets"`
}

// Find returns the dataset whose metric matches, or nil.
func (b *PriceSeriesBundle) Find(metric string) *Dataset {
	for i := range b.Datasets {
		if b.Datasets[i].Metric == metric {
			return &b.Datasets[i]
		}
	}
	return nil
}

// FinancialAnswer is the terminal output of a successful turn.
type FinancialAnswer struct {
	Answer         string            `json:"answer"`
	Sources        []string          `json:"sources"`
	Confidence     float64           `json:"confidence"`
	SupportingData map[string]string `json:"supporting_data,omitempty"`
}
