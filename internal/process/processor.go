// Package process turns downloaded documents into chunked, metadata-
// tagged records ready for the document store.
package process

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"finsight/internal/logging"
	"finsight/internal/types"
)

// Processor extracts text from raw documents and splits it into chunks.
type Processor struct{}

// New returns a Processor.
func New() *Processor {
	return &Processor{}
}

// Process converts a downloaded document into a processed one. The
// document id is a deterministic composite of company, type, year, and
// month, so re-processing the same source produces the same chunk ids.
func (p *Processor) Process(doc *types.DownloadedDocument) (*types.ProcessedDocument, error) {
	timer := logging.StartTimer(logging.CategoryRetrieve, "Process")
	defer timer.Stop()

	text, err := ExtractText(doc)
	if err != nil {
		return nil, fmt.Errorf("extract %s for %s: %w", doc.Type, doc.Symbol, err)
	}

	chunks := Chunk(text)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("document %s for %s produced no text", doc.Type, doc.Symbol)
	}

	meta := map[string]string{
		"company":  doc.Company,
		"symbol":   doc.Symbol,
		"doc_type": string(doc.Type),
	}
	year := doc.Metadata["year"]
	month := doc.Metadata["month"]
	if year != "" {
		meta["year"] = year
	}
	if month != "" {
		meta["month"] = month
	}

	return &types.ProcessedDocument{
		DocID:    DocumentID(doc.Company, doc.Type, year, month),
		Chunks:   chunks,
		Metadata: meta,
	}, nil
}

// DocumentID builds the deterministic document identifier:
// {company}_{type}, extended with _{year} and _{month} when present.
func DocumentID(company string, docType types.DocType, year, month string) string {
	id := slug(company) + "_" + string(docType)
	if year != "" {
		id += "_" + year
	}
	if month != "" {
		id += "_" + strings.ToLower(month)
	}
	return id
}

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.ReplaceAll(s, " ", "_")
}

// ExtractText pulls plain text out of a downloaded document. PDFs go
// through the pdf reader; everything else is treated as UTF-8 text.
func ExtractText(doc *types.DownloadedDocument) (string, error) {
	if len(doc.Content) == 0 {
		return "", fmt.Errorf("empty document content")
	}
	if isPDF(doc.Content) {
		return extractPDF(doc.Content)
	}
	return string(doc.Content), nil
}

func isPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

func extractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open PDF: %w", err)
	}

	r, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read PDF text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", fmt.Errorf("copy PDF text: %w", err)
	}

	text := strings.TrimSpace(buf.String())
	if text == "" {
		return "", fmt.Errorf("PDF contained no extractable text")
	}
	return text, nil
}
