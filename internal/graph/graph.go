// Package graph implements the conversation state machine: sufficiency
// gate, classifier, retrieval orchestrator, and answer synthesizer,
// wired as an explicit node enum with a pure transition function.
package graph

import (
	"context"

	"finsight/internal/llm"
	"finsight/internal/logging"
	"finsight/internal/symbols"
	"finsight/internal/types"
)

// NodeID identifies one node of the turn graph.
type NodeID int

const (
	NodeSufficiency NodeID = iota
	NodeClassifier
	NodeRetriever
	NodeSynthesizer
	NodeDone
)

func (n NodeID) String() string {
	switch n {
	case NodeSufficiency:
		return "sufficiency"
	case NodeClassifier:
		return "classifier"
	case NodeRetriever:
		return "retriever"
	case NodeSynthesizer:
		return "synthesizer"
	case NodeDone:
		return "done"
	}
	return "unknown"
}

// Next is the pure routing function. An error in state short-circuits
// to the terminal node; otherwise the sufficiency decision picks the
// branch and the remaining edges are fixed.
func Next(current NodeID, s *types.ConversationState) NodeID {
	if s.Error != nil {
		return NodeDone
	}
	switch current {
	case NodeSufficiency:
		if s.Sufficient {
			return NodeSynthesizer
		}
		return NodeClassifier
	case NodeClassifier:
		return NodeRetriever
	case NodeRetriever:
		return NodeSynthesizer
	case NodeSynthesizer:
		return NodeDone
	}
	return NodeDone
}

// DocumentStore is the shared index mutated by the retriever and read
// by the sufficiency gate and synthesizer.
type DocumentStore interface {
	Exists(symbol string, docType types.DocType, year, month string) (bool, error)
	AddProcessed(ctx context.Context, doc *types.ProcessedDocument) error
	SimilaritySearch(ctx context.Context, query string, k int) ([]types.ScoredChunk, error)
	ListDocuments() ([]types.DocumentDescriptor, error)
	SaveSession(threadID string, state *types.ConversationState) error
	LoadSession(threadID string) (*types.ConversationState, error)
}

// Downloader acquires filings and transcripts.
type Downloader interface {
	FetchAnnualReport(ctx context.Context, symbol, year string) (*types.DownloadedDocument, error)
	FetchTranscript(ctx context.Context, symbol, year, month string) (*types.DownloadedDocument, error)
}

// PriceCapture acquires chart data for a symbol.
type PriceCapture interface {
	Capture(ctx context.Context, symbol string, days int) (*types.PriceSeriesBundle, error)
}

// Processor turns downloaded documents into chunked records.
type Processor interface {
	Process(doc *types.DownloadedDocument) (*types.ProcessedDocument, error)
}

// Deps are the injected collaborators of the engine. All are required
// except Downloader and Capture, which may be nil in configurations
// that never retrieve their document kind (tests, offline inventory).
type Deps struct {
	LLM        llm.Client
	Registry   *symbols.Registry
	Store      DocumentStore
	Downloader Downloader
	Capture    PriceCapture
	Processor  Processor
}

// Engine runs conversation turns. One turn executes one node at a time
// on a single logical thread; turns are serialized per thread id via
// the checkpointed state.
type Engine struct {
	llm        llm.Client
	registry   *symbols.Registry
	store      DocumentStore
	downloader Downloader
	capture    PriceCapture
	processor  Processor
}

// New builds an engine from its dependencies.
func New(deps Deps) *Engine {
	return &Engine{
		llm:        deps.LLM,
		registry:   deps.Registry,
		store:      deps.Store,
		downloader: deps.Downloader,
		capture:    deps.Capture,
		processor:  deps.Processor,
	}
}

// Run executes one conversation turn. The returned answer is non-nil
// exactly when the turn produced one; otherwise the returned error
// carries the node failure. Raw panics never escape: synthesis converts
// them to an apology answer.
func (e *Engine) Run(ctx context.Context, threadID, userQuery string) (*types.FinancialAnswer, error) {
	timer := logging.StartTimer(logging.CategoryGraph, "Run")
	defer timer.StopWithInfo()

	state, err := e.store.LoadSession(threadID)
	if err != nil {
		logging.Get(logging.CategoryGraph).Warn("checkpoint load failed for %s: %v", threadID, err)
	}
	if state == nil {
		state = &types.ConversationState{ThreadID: threadID}
	}

	// Per-turn reset; history and held price data carry across turns.
	state.Query = userQuery
	state.Classifications = nil
	state.Sufficient = false
	state.UseVectorBase = false
	state.Error = nil
	state.Answer = nil
	state.AddTurn("user", userQuery, "")

	node := NodeSufficiency
	for node != NodeDone {
		logging.Graph("thread %s: entering node %s", threadID, node)
		switch node {
		case NodeSufficiency:
			e.runSufficiency(ctx, state)
		case NodeClassifier:
			e.runClassifier(ctx, state)
		case NodeRetriever:
			e.runRetriever(ctx, state)
		case NodeSynthesizer:
			e.runSynthesizer(ctx, state)
		}
		if err := e.store.SaveSession(threadID, state); err != nil {
			logging.Get(logging.CategoryGraph).Warn("checkpoint save failed for %s: %v", threadID, err)
		}
		node = Next(node, state)
	}

	if state.Answer != nil {
		return state.Answer, nil
	}
	if state.Error != nil {
		state.AddTurn("assistant", state.Error.Message, "")
		if err := e.store.SaveSession(threadID, state); err != nil {
			logging.Get(logging.CategoryGraph).Warn("checkpoint save failed for %s: %v", threadID, err)
		}
		return nil, state.Error
	}
	return nil, types.Errf(types.ErrKindSynthesis, "turn ended without an answer")
}
