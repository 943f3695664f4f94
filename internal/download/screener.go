// Package download discovers and fetches company filings and call
// transcripts from screener.in company pages.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"finsight/internal/config"
	"finsight/internal/logging"
	"finsight/internal/types"
)

// maxDocumentBytes caps a single PDF download.
const maxDocumentBytes = 50 << 20

// Client fetches documents from the configured provider.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
}

// NewClient builds a downloader from config.
func NewClient(cfg config.DownloadConfig) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		http:      &http.Client{Timeout: cfg.Timeout()},
	}
}

// FetchAnnualReport locates and downloads the annual report PDF for the
// given fiscal year.
func (c *Client) FetchAnnualReport(ctx context.Context, symbol, year string) (*types.DownloadedDocument, error) {
	timer := logging.StartTimer(logging.CategoryDownload, "FetchAnnualReport")
	defer timer.Stop()

	page, err := c.companyPage(ctx, symbol)
	if err != nil {
		return nil, err
	}

	company := companyNameFromTitle(pageTitle(page))
	if company == "" {
		company = symbol
	}

	href, ok := annualReportLink(page, year)
	if !ok {
		return nil, fmt.Errorf("no annual report for %s year %s", symbol, year)
	}

	content, err := c.download(ctx, href)
	if err != nil {
		return nil, fmt.Errorf("download annual report %s %s: %w", symbol, year, err)
	}

	logging.Download("Fetched annual report %s %s (%d bytes)", symbol, year, len(content))
	return &types.DownloadedDocument{
		Type:      types.DocTypeAnnualReport,
		Company:   company,
		Symbol:    symbol,
		SourceURL: href,
		Content:   content,
		Metadata:  map[string]string{"year": year},
		FetchedAt: time.Now(),
	}, nil
}

// FetchTranscript locates and downloads an earnings-call transcript.
// When month is empty the latest transcript of the year is taken.
func (c *Client) FetchTranscript(ctx context.Context, symbol, year, month string) (*types.DownloadedDocument, error) {
	timer := logging.StartTimer(logging.CategoryDownload, "FetchTranscript")
	defer timer.Stop()

	page, err := c.companyPage(ctx, symbol)
	if err != nil {
		return nil, err
	}

	company := companyNameFromTitle(pageTitle(page))
	if company == "" {
		company = symbol
	}

	href, label, ok := transcriptLink(page, year, month)
	if !ok {
		return nil, fmt.Errorf("no call transcript for %s %s %s", symbol, year, month)
	}

	content, err := c.download(ctx, href)
	if err != nil {
		return nil, fmt.Errorf("download transcript %s %s: %w", symbol, label, err)
	}

	meta := map[string]string{"year": year}
	if month != "" {
		meta["month"] = month
	}

	logging.Download("Fetched transcript %s %s (%d bytes)", symbol, label, len(content))
	return &types.DownloadedDocument{
		Type:      types.DocTypeCallTranscript,
		Company:   company,
		Symbol:    symbol,
		SourceURL: href,
		Content:   content,
		Metadata:  meta,
		FetchedAt: time.Now(),
	}, nil
}

// companyPage fetches and parses the consolidated company page.
func (c *Client) companyPage(ctx context.Context, symbol string) (*html.Node, error) {
	url := fmt.Sprintf("%s/company/%s/consolidated/", c.baseURL, symbol)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch company page %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("company page %s returned status %d", symbol, resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse company page %s: %w", symbol, err)
	}
	return doc, nil
}

// download fetches a document body with a size cap.
func (c *Client) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty document body")
	}
	return data, nil
}
