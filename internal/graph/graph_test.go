package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/goleak"

	"finsight/internal/process"
	"finsight/internal/symbols"
	"finsight/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// fakeLLM routes calls by schema shape: the sufficiency schema mentions
// "decision", the classifier schema mentions "classifications".
type fakeLLM struct {
	sufficiencyJSON string
	classifierJSON  string
	answer          string
	answerErr       error

	sufficiencyCalls int
	classifierCalls  int
	completeCalls    int
}

func (f *fakeLLM) Complete(_ context.Context, _, _ string) (string, error) {
	f.completeCalls++
	if f.answerErr != nil {
		return "", f.answerErr
	}
	return f.answer, nil
}

func (f *fakeLLM) CompleteWithSchema(_ context.Context, _, _, schema string) (string, error) {
	switch {
	case strings.Contains(schema, `"decision"`):
		f.sufficiencyCalls++
		if f.sufficiencyJSON == "" {
			return `{"decision":"RETRIEVE_NEW","enhanced_query":""}`, nil
		}
		return f.sufficiencyJSON, nil
	case strings.Contains(schema, `"classifications"`):
		f.classifierCalls++
		return f.classifierJSON, nil
	}
	return "", fmt.Errorf("unexpected schema")
}

// memStore is an in-memory DocumentStore.
type memStore struct {
	docs     []*types.ProcessedDocument
	sessions map[string]string
}

func newMemStore() *memStore {
	return &memStore{sessions: map[string]string{}}
}

func (m *memStore) Exists(symbol string, docType types.DocType, year, month string) (bool, error) {
	for _, d := range m.docs {
		if d.Metadata["symbol"] != symbol || d.Metadata["doc_type"] != string(docType) {
			continue
		}
		if year != "" && d.Metadata["year"] != year {
			continue
		}
		if month != "" && d.Metadata["month"] != month {
			continue
		}
		return true, nil
	}
	return false, nil
}

func (m *memStore) AddProcessed(_ context.Context, doc *types.ProcessedDocument) error {
	m.docs = append(m.docs, doc)
	return nil
}

func (m *memStore) SimilaritySearch(_ context.Context, _ string, k int) ([]types.ScoredChunk, error) {
	var hits []types.ScoredChunk
	for _, d := range m.docs {
		for i, chunk := range d.Chunks {
			if len(hits) >= k {
				return hits, nil
			}
			hits = append(hits, types.ScoredChunk{
				ChunkID:    fmt.Sprintf("%s_chunk_%d", d.DocID, i),
				Content:    chunk,
				Metadata:   d.Metadata,
				Similarity: 0.9,
			})
		}
	}
	return hits, nil
}

func (m *memStore) ListDocuments() ([]types.DocumentDescriptor, error) {
	var out []types.DocumentDescriptor
	for _, d := range m.docs {
		out = append(out, types.DocumentDescriptor{
			Company: d.Metadata["company"],
			Symbol:  d.Metadata["symbol"],
			DocType: types.DocType(d.Metadata["doc_type"]),
			Year:    d.Metadata["year"],
			Month:   d.Metadata["month"],
			Chunks:  len(d.Chunks),
		})
	}
	return out, nil
}

func (m *memStore) SaveSession(threadID string, state *types.ConversationState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	m.sessions[threadID] = string(data)
	return nil
}

func (m *memStore) LoadSession(threadID string) (*types.ConversationState, error) {
	data, ok := m.sessions[threadID]
	if !ok {
		return nil, nil
	}
	var state types.ConversationState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

type fakeDownloader struct {
	calls []string
	fail  bool
}

func (f *fakeDownloader) FetchAnnualReport(_ context.Context, symbol, year string) (*types.DownloadedDocument, error) {
	f.calls = append(f.calls, "annual:"+symbol+":"+year)
	if f.fail {
		return nil, fmt.Errorf("provider unavailable")
	}
	return &types.DownloadedDocument{
		Type:     types.DocTypeAnnualReport,
		Company:  symbol,
		Symbol:   symbol,
		Content:  []byte("Revenue for the year was 2.4 lakh crore rupees, up 7 percent."),
		Metadata: map[string]string{"year": year},
	}, nil
}

func (f *fakeDownloader) FetchTranscript(_ context.Context, symbol, year, month string) (*types.DownloadedDocument, error) {
	f.calls = append(f.calls, "transcript:"+symbol+":"+year+":"+month)
	if f.fail {
		return nil, fmt.Errorf("provider unavailable")
	}
	return &types.DownloadedDocument{
		Type:     types.DocTypeCallTranscript,
		Company:  symbol,
		Symbol:   symbol,
		Content:  []byte("Management commentary on margins and demand."),
		Metadata: map[string]string{"year": year, "month": month},
	}, nil
}

type fakeCapture struct {
	calls []string
	fail  error
}

func (f *fakeCapture) Capture(_ context.Context, symbol string, days int) (*types.PriceSeriesBundle, error) {
	f.calls = append(f.calls, fmt.Sprintf("%s:%d", symbol, days))
	if f.fail != nil {
		return nil, f.fail
	}
	return &types.PriceSeriesBundle{Datasets: []types.Dataset{
		{Metric: "Price", Values: []types.PricePoint{
			{Date: "2024-01-01", Value: 100},
			{Date: "2024-01-30", Value: 150},
		}},
	}}, nil
}

const longAnswer = "Based on the captured chart data, the stock moved from 100 to 150 rupees over the requested window, a gain of fifty percent driven by strong quarterly results."

func classifierJSON(items ...string) string {
	return fmt.Sprintf(`{"classifications":[%s],"enhanced_query":"enhanced question"}`, strings.Join(items, ","))
}

func priceItem(company string, days int) string {
	return fmt.Sprintf(`{"document_type":"price_data","company_name":"%s","confidence":0.9,"days_back":%d}`, company, days)
}

func annualItem(company, year string) string {
	return fmt.Sprintf(`{"document_type":"annual_report","company_name":"%s","confidence":0.9,"year":"%s"}`, company, year)
}

func newTestEngine(l *fakeLLM, st *memStore, dl *fakeDownloader, pc *fakeCapture) *Engine {
	return New(Deps{
		LLM:        l,
		Registry:   symbols.NewRegistry(),
		Store:      st,
		Downloader: dl,
		Capture:    pc,
		Processor:  process.New(),
	})
}

// ---------------------------------------------------------------------------
// Routing
// ---------------------------------------------------------------------------

func TestNextRouting(t *testing.T) {
	tests := []struct {
		name    string
		current NodeID
		state   types.ConversationState
		want    NodeID
	}{
		{"error short-circuits", NodeSufficiency, types.ConversationState{Error: types.Errf(types.ErrKindLLM, "x")}, NodeDone},
		{"sufficient goes to synthesis", NodeSufficiency, types.ConversationState{Sufficient: true}, NodeSynthesizer},
		{"insufficient goes to classifier", NodeSufficiency, types.ConversationState{}, NodeClassifier},
		{"classifier to retriever", NodeClassifier, types.ConversationState{}, NodeRetriever},
		{"retriever to synthesizer", NodeRetriever, types.ConversationState{}, NodeSynthesizer},
		{"synthesizer ends", NodeSynthesizer, types.ConversationState{}, NodeDone},
		{"retriever error ends", NodeRetriever, types.ConversationState{Error: types.Errf(types.ErrKindAcquisition, "x")}, NodeDone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Next(tt.current, &tt.state); got != tt.want {
				t.Errorf("Next(%s) = %s, want %s", tt.current, got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// End-to-end scenarios
// ---------------------------------------------------------------------------

func TestPriceQueryScenario(t *testing.T) {
	l := &fakeLLM{
		classifierJSON: classifierJSON(priceItem("Reliance", 30)),
		answer:         longAnswer,
	}
	st := newMemStore()
	pc := &fakeCapture{}
	e := newTestEngine(l, st, &fakeDownloader{}, pc)

	answer, err := e.Run(context.Background(), "t-price", "Reliance current stock price")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(pc.calls) != 1 || pc.calls[0] != "RELIANCE:30" {
		t.Errorf("capture calls = %v, want [RELIANCE:30]", pc.calls)
	}
	wantSource := "Screener.in - RELIANCE Price Data"
	if len(answer.Sources) == 0 || answer.Sources[0] != wantSource {
		t.Errorf("sources = %v, want first %q", answer.Sources, wantSource)
	}
	if answer.Confidence < 0.7 {
		t.Errorf("confidence = %v, want >= 0.7", answer.Confidence)
	}
	if answer.SupportingData["RELIANCE"] == "" {
		t.Error("expected supporting price data for RELIANCE")
	}
}

func TestCompareScenario(t *testing.T) {
	l := &fakeLLM{
		classifierJSON: classifierJSON(annualItem("TCS", "2024"), priceItem("TCS", 365)),
		answer:         longAnswer,
	}
	st := newMemStore()
	dl := &fakeDownloader{}
	pc := &fakeCapture{}
	e := newTestEngine(l, st, dl, pc)

	answer, err := e.Run(context.Background(), "t-compare", "Compare TCS revenue with its stock performance")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(dl.calls) != 1 || dl.calls[0] != "annual:TCS:2024" {
		t.Errorf("downloader calls = %v", dl.calls)
	}
	if len(pc.calls) != 1 || pc.calls[0] != "TCS:365" {
		t.Errorf("capture calls = %v", pc.calls)
	}

	var hasPrice, hasDoc bool
	for _, s := range answer.Sources {
		if strings.Contains(s, "Price Data") {
			hasPrice = true
		}
		if strings.Contains(s, "annual_report") {
			hasDoc = true
		}
	}
	if !hasPrice || !hasDoc {
		t.Errorf("sources = %v, want both price and document kinds", answer.Sources)
	}
	// Price sources come first.
	if !strings.Contains(answer.Sources[0], "Price Data") {
		t.Errorf("first source = %q, want a price source", answer.Sources[0])
	}
}

func TestUnresolvedCompanyScenario(t *testing.T) {
	l := &fakeLLM{
		// One valid item plus one unresolvable: fail-fast means neither
		// is retrieved.
		classifierJSON: classifierJSON(priceItem("Reliance", 30), annualItem("Unlisted Widgets Corp", "2024")),
		answer:         longAnswer,
	}
	st := newMemStore()
	dl := &fakeDownloader{}
	pc := &fakeCapture{}
	e := newTestEngine(l, st, dl, pc)

	answer, err := e.Run(context.Background(), "t-unlisted", "Unlisted Widgets Corp results")
	if err == nil {
		t.Fatal("expected resolution error")
	}
	if answer != nil {
		t.Errorf("answer = %+v, want nil (no partial answer)", answer)
	}
	if !strings.Contains(err.Error(), "Unlisted Widgets Corp") {
		t.Errorf("error %q does not name the company", err.Error())
	}
	if len(dl.calls) != 0 || len(pc.calls) != 0 {
		t.Errorf("retrieval ran despite failed classification: dl=%v cap=%v", dl.calls, pc.calls)
	}
}

// ---------------------------------------------------------------------------
// Dedup
// ---------------------------------------------------------------------------

func TestDedupAcquiresExactlyOnce(t *testing.T) {
	st := newMemStore()
	dl := &fakeDownloader{}
	e := newTestEngine(&fakeLLM{}, st, dl, &fakeCapture{})

	state := &types.ConversationState{
		Classifications: []types.DocumentClassification{
			{DocumentType: types.DocTypeAnnualReport, CompanyName: "TCS", Symbol: "TCS", Year: "2024"},
		},
	}

	e.runRetriever(context.Background(), state)
	if state.Error != nil {
		t.Fatalf("first retrieval failed: %v", state.Error)
	}
	if len(dl.calls) != 1 {
		t.Fatalf("downloader calls = %d, want 1", len(dl.calls))
	}

	// Identical classification again: satisfied from the store.
	state2 := &types.ConversationState{
		Classifications: []types.DocumentClassification{
			{DocumentType: types.DocTypeAnnualReport, CompanyName: "TCS", Symbol: "TCS", Year: "2024"},
		},
	}
	e.runRetriever(context.Background(), state2)
	if state2.Error != nil {
		t.Fatalf("second retrieval failed: %v", state2.Error)
	}
	if len(dl.calls) != 1 {
		t.Errorf("downloader calls = %d, want still 1", len(dl.calls))
	}
	if !state2.UseVectorBase {
		t.Error("second call should flag existing indexed data")
	}
}

func TestDuplicateKeyWithinOneTurn(t *testing.T) {
	st := newMemStore()
	dl := &fakeDownloader{}
	e := newTestEngine(&fakeLLM{}, st, dl, &fakeCapture{})

	dup := types.DocumentClassification{
		DocumentType: types.DocTypeAnnualReport, CompanyName: "TCS", Symbol: "TCS", Year: "2024",
	}
	state := &types.ConversationState{
		Classifications: []types.DocumentClassification{dup, dup},
	}
	e.runRetriever(context.Background(), state)

	if len(dl.calls) != 1 {
		t.Errorf("downloader calls = %d, want 1 (second item hits dedup)", len(dl.calls))
	}
}

// ---------------------------------------------------------------------------
// Retrieval failure policy
// ---------------------------------------------------------------------------

func TestAllItemsFailedIsFatal(t *testing.T) {
	st := newMemStore()
	dl := &fakeDownloader{fail: true}
	e := newTestEngine(&fakeLLM{}, st, dl, &fakeCapture{})

	state := &types.ConversationState{
		Classifications: []types.DocumentClassification{
			{DocumentType: types.DocTypeAnnualReport, CompanyName: "TCS", Symbol: "TCS", Year: "2024"},
			{DocumentType: types.DocTypeCallTranscript, CompanyName: "TCS", Symbol: "TCS", Year: "2024", Month: "Jul"},
		},
	}
	e.runRetriever(context.Background(), state)

	if state.Error == nil {
		t.Fatal("expected fatal error when every item fails")
	}
	if state.Error.Kind != types.ErrKindAcquisition {
		t.Errorf("kind = %q", state.Error.Kind)
	}
	// The message lists all per-item failures.
	if got := strings.Count(state.Error.Message, "provider unavailable"); got != 2 {
		t.Errorf("error lists %d failures, want 2: %q", got, state.Error.Message)
	}
}

func TestPartialFailureProceeds(t *testing.T) {
	st := newMemStore()
	dl := &fakeDownloader{fail: true}
	pc := &fakeCapture{}
	e := newTestEngine(&fakeLLM{}, st, dl, pc)

	state := &types.ConversationState{
		Classifications: []types.DocumentClassification{
			{DocumentType: types.DocTypeAnnualReport, CompanyName: "TCS", Symbol: "TCS", Year: "2024"},
			{DocumentType: types.DocTypePriceData, CompanyName: "TCS", Symbol: "TCS", DaysBack: 30},
		},
	}
	e.runRetriever(context.Background(), state)

	if state.Error != nil {
		t.Fatalf("one success should not be fatal: %v", state.Error)
	}
	if state.PriceData["TCS"] == "" {
		t.Error("expected price data for TCS")
	}
}

// ---------------------------------------------------------------------------
// Sufficiency short-circuit
// ---------------------------------------------------------------------------

func TestSufficientSkipsRetrieval(t *testing.T) {
	st := newMemStore()
	st.AddProcessed(context.Background(), &types.ProcessedDocument{
		DocID:  "tcs_annual_report_2024",
		Chunks: []string{"Revenue was 2.4 lakh crore rupees."},
		Metadata: map[string]string{
			"company": "TCS", "symbol": "TCS", "doc_type": "annual_report", "year": "2024",
		},
	})

	l := &fakeLLM{
		sufficiencyJSON: `{"decision":"SUFFICIENT","enhanced_query":"What was TCS revenue in fiscal 2024?"}`,
		answer:          longAnswer,
	}
	dl := &fakeDownloader{}
	pc := &fakeCapture{}
	e := newTestEngine(l, st, dl, pc)

	answer, err := e.Run(context.Background(), "t-sufficient", "what was its revenue?")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if l.classifierCalls != 0 {
		t.Errorf("classifier ran %d times, want 0", l.classifierCalls)
	}
	if len(dl.calls) != 0 || len(pc.calls) != 0 {
		t.Errorf("retrieval ran on sufficient turn: dl=%v cap=%v", dl.calls, pc.calls)
	}
	if len(answer.Sources) == 0 || !strings.Contains(answer.Sources[0], "TCS") {
		t.Errorf("sources = %v", answer.Sources)
	}
}

func TestSufficiencyLLMFailureDefaultsToRetrieval(t *testing.T) {
	l := &fakeLLM{
		sufficiencyJSON: "not json at all",
		classifierJSON:  classifierJSON(priceItem("Reliance", 30)),
		answer:          longAnswer,
	}
	st := newMemStore()
	pc := &fakeCapture{}
	e := newTestEngine(l, st, &fakeDownloader{}, pc)

	if _, err := e.Run(context.Background(), "t-degrade", "Reliance price"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if l.classifierCalls != 1 {
		t.Errorf("classifier calls = %d, want 1 (degraded to retrieval)", l.classifierCalls)
	}
}

// ---------------------------------------------------------------------------
// Synthesis failure policy
// ---------------------------------------------------------------------------

func TestSynthesisFailureYieldsApology(t *testing.T) {
	l := &fakeLLM{
		classifierJSON: classifierJSON(priceItem("Reliance", 30)),
		answerErr:      fmt.Errorf("model unavailable"),
	}
	st := newMemStore()
	e := newTestEngine(l, st, &fakeDownloader{}, &fakeCapture{})

	answer, err := e.Run(context.Background(), "t-apology", "Reliance price")
	if err != nil {
		t.Fatalf("Run must not surface a raw failure, got %v", err)
	}
	if answer == nil || answer.Answer != apologyMessage {
		t.Fatalf("answer = %+v, want apology", answer)
	}
	if answer.Confidence != 0 {
		t.Errorf("confidence = %v, want 0", answer.Confidence)
	}
}

// ---------------------------------------------------------------------------
// Session continuity
// ---------------------------------------------------------------------------

func TestTurnsAccumulateAcrossRuns(t *testing.T) {
	l := &fakeLLM{
		classifierJSON: classifierJSON(priceItem("Reliance", 30)),
		answer:         longAnswer,
	}
	st := newMemStore()
	e := newTestEngine(l, st, &fakeDownloader{}, &fakeCapture{})

	if _, err := e.Run(context.Background(), "t-thread", "Reliance price"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Run(context.Background(), "t-thread", "and over six months?"); err != nil {
		t.Fatal(err)
	}

	state, err := st.LoadSession("t-thread")
	if err != nil || state == nil {
		t.Fatalf("LoadSession: %v", err)
	}
	users := 0
	for _, turn := range state.Turns {
		if turn.Role == "user" {
			users++
		}
	}
	if users != 2 {
		t.Errorf("user turns = %d, want 2", users)
	}
}
