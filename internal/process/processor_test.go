package process

import (
	"strings"
	"testing"

	"finsight/internal/types"
)

func TestChunkShortText(t *testing.T) {
	chunks := Chunk("short text")
	if len(chunks) != 1 || chunks[0] != "short text" {
		t.Fatalf("chunks = %v", chunks)
	}
}

func TestChunkEmpty(t *testing.T) {
	if got := Chunk("   "); got != nil {
		t.Fatalf("chunks = %v, want nil", got)
	}
}

func TestChunkRespectsSizeAndOverlap(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 80; i++ {
		sb.WriteString("Revenue grew steadily through the fiscal year under review. ")
	}
	text := sb.String()

	chunks := Chunk(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > chunkSize+chunkOverlap {
			t.Errorf("chunk %d length %d exceeds size+overlap", i, len(c))
		}
	}

	// Overlap: the start of each later chunk should repeat text from the
	// end of its predecessor.
	for i := 1; i < len(chunks); i++ {
		head := chunks[i]
		if len(head) > 50 {
			head = head[:50]
		}
		if !strings.Contains(chunks[i-1], strings.TrimSpace(head[:20])) {
			t.Errorf("chunk %d does not overlap its predecessor", i)
		}
	}
}

func TestChunkPrefersParagraphBreaks(t *testing.T) {
	para := strings.Repeat("alpha beta gamma delta. ", 30) // ~720 chars
	text := para + "\n\n" + para + "\n\n" + para

	chunks := Chunk(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > chunkSize+chunkOverlap {
			t.Errorf("chunk %d too long: %d", i, len(c))
		}
	}
}

func TestDocumentID(t *testing.T) {
	tests := []struct {
		name    string
		company string
		docType types.DocType
		year    string
		month   string
		want    string
	}{
		{"annual report", "Tata Motors", types.DocTypeAnnualReport, "2024", "", "tata_motors_annual_report_2024"},
		{"transcript with month", "TCS", types.DocTypeCallTranscript, "2024", "Jan", "tcs_call_transcript_2024_jan"},
		{"price data", "Reliance", types.DocTypePriceData, "", "", "reliance_price_data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DocumentID(tt.company, tt.docType, tt.year, tt.month)
			if got != tt.want {
				t.Errorf("DocumentID = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProcessPlainText(t *testing.T) {
	p := New()
	doc := &types.DownloadedDocument{
		Type:    types.DocTypeAnnualReport,
		Company: "TCS",
		Symbol:  "TCS",
		Content: []byte("Revenue for the year was 2.4 lakh crore rupees."),
		Metadata: map[string]string{
			"year": "2024",
		},
	}

	got, err := p.Process(doc)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got.DocID != "tcs_annual_report_2024" {
		t.Errorf("DocID = %q", got.DocID)
	}
	if len(got.Chunks) != 1 {
		t.Errorf("chunks = %d, want 1", len(got.Chunks))
	}
	if got.Metadata["symbol"] != "TCS" || got.Metadata["doc_type"] != "annual_report" || got.Metadata["year"] != "2024" {
		t.Errorf("metadata = %v", got.Metadata)
	}
}

func TestProcessEmptyContent(t *testing.T) {
	p := New()
	_, err := p.Process(&types.DownloadedDocument{
		Type:    types.DocTypeAnnualReport,
		Company: "TCS",
		Symbol:  "TCS",
	})
	if err == nil {
		t.Fatal("expected error for empty content")
	}
}
