package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"finsight/internal/capture"
	"finsight/internal/logging"
	"finsight/internal/types"
)

// runRetriever walks the classification list in order, satisfying each
// item from the store when possible and acquiring otherwise. The loop
// is sequential by design: dedup re-checks inside the same loop make
// duplicate keys within a turn acquire at most once.
func (e *Engine) runRetriever(ctx context.Context, s *types.ConversationState) {
	timer := logging.StartTimer(logging.CategoryRetrieve, "runRetriever")
	defer timer.StopWithInfo()

	if s.PriceData == nil {
		s.PriceData = map[string]string{}
	}

	processed := 0
	var failures []string

	for _, c := range s.Classifications {
		switch c.DocumentType {
		case types.DocTypePriceData:
			// Price is time-sensitive: no dedup, always fetch fresh.
			if e.capture == nil {
				failures = append(failures, fmt.Sprintf("%s: price capture not configured", c.Symbol))
				continue
			}
			bundle, err := e.capture.Capture(ctx, c.Symbol, c.DaysBack)
			if err != nil {
				if errors.Is(err, capture.ErrCaptureTimeout) {
					// Non-fatal empty result; synthesis reports it.
					logging.RetrieveError("price capture timed out for %s", c.Symbol)
					s.PriceData[c.Symbol] = capture.NoPriceData
					processed++
					continue
				}
				failures = append(failures, fmt.Sprintf("%s price data: %v", c.Symbol, err))
				continue
			}
			s.PriceData[c.Symbol] = capture.FormatSummary(bundle, c.Symbol)
			processed++
			logging.Retrieve("fetched price data for %s (%d days)", c.Symbol, c.DaysBack)

		case types.DocTypeAnnualReport, types.DocTypeCallTranscript:
			exists, err := e.store.Exists(c.Symbol, c.DocumentType, c.Year, c.Month)
			if err != nil {
				failures = append(failures, fmt.Sprintf("%s %s: dedup check: %v", c.Symbol, c.DocumentType, err))
				continue
			}
			if exists {
				logging.Retrieve("%s %s %s%s already indexed, skipping fetch", c.Symbol, c.DocumentType, c.Year, c.Month)
				s.UseVectorBase = true
				processed++
				continue
			}

			doc, err := e.fetchDocument(ctx, c)
			if err != nil {
				failures = append(failures, fmt.Sprintf("%s %s: %v", c.Symbol, c.DocumentType, err))
				continue
			}
			pdoc, err := e.processor.Process(doc)
			if err != nil {
				failures = append(failures, fmt.Sprintf("%s %s: %v", c.Symbol, c.DocumentType, err))
				continue
			}
			if err := e.store.AddProcessed(ctx, pdoc); err != nil {
				failures = append(failures, fmt.Sprintf("%s %s: index: %v", c.Symbol, c.DocumentType, err))
				continue
			}
			s.UseVectorBase = true
			processed++
			logging.Retrieve("indexed %s (%d chunks)", pdoc.DocID, len(pdoc.Chunks))

		default:
			failures = append(failures, fmt.Sprintf("unknown document type %q", c.DocumentType))
		}
	}

	if processed == 0 && len(failures) > 0 {
		s.Error = types.Errf(types.ErrKindAcquisition,
			"could not retrieve any requested data: %s", strings.Join(failures, "; "))
		return
	}
	for _, f := range failures {
		logging.RetrieveError("partial retrieval failure: %s", f)
	}

	s.AddTurn("assistant", fmt.Sprintf("retrieved %d of %d data requests", processed, len(s.Classifications)), "retriever")
}

func (e *Engine) fetchDocument(ctx context.Context, c types.DocumentClassification) (*types.DownloadedDocument, error) {
	if e.downloader == nil {
		return nil, fmt.Errorf("downloader not configured")
	}
	switch c.DocumentType {
	case types.DocTypeAnnualReport:
		return e.downloader.FetchAnnualReport(ctx, c.Symbol, c.Year)
	case types.DocTypeCallTranscript:
		return e.downloader.FetchTranscript(ctx, c.Symbol, c.Year, c.Month)
	}
	return nil, fmt.Errorf("unsupported document type %q", c.DocumentType)
}
