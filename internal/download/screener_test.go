package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/net/html"

	"finsight/internal/config"
	"finsight/internal/types"
)

const companyPageHTML = `<!DOCTYPE html>
<html>
<head><title>Tata Consultancy Services Ltd share price | Screener</title></head>
<body>
<section id="documents">
  <div class="annual-reports">
    <ul class="list-links">
      <li><a href="%BASE%/docs/ar-2024.pdf">Financial Year 2024 from bse</a></li>
      <li><a href="%BASE%/docs/ar-2023.pdf">Financial Year 2023 from bse</a></li>
    </ul>
  </div>
  <div class="concalls">
    <ul class="list-links">
      <li>
        <div class="ink-600">Jul 2024</div>
        <a href="%BASE%/docs/concall-jul-2024.pdf">Transcript</a>
        <a href="%BASE%/docs/concall-jul-2024-ppt.pdf">PPT</a>
      </li>
      <li>
        <div class="ink-600">Apr 2024</div>
        <a href="%BASE%/docs/concall-apr-2024.pdf">Transcript</a>
      </li>
      <li>
        <div class="ink-600">Oct 2023</div>
        <a href="%BASE%/docs/concall-oct-2023.pdf">Transcript</a>
      </li>
    </ul>
  </div>
</section>
</body>
</html>`

func newFixtureServer(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/company/TCS/"):
			page := strings.ReplaceAll(companyPageHTML, "%BASE%", srv.URL)
			w.Write([]byte(page))
		case strings.HasPrefix(r.URL.Path, "/docs/"):
			w.Write([]byte("document body for " + r.URL.Path))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(baseURL string) *Client {
	return NewClient(config.DownloadConfig{
		BaseURL:        baseURL,
		UserAgent:      "finsight-test",
		TimeoutSeconds: 5,
	})
}

func TestFetchAnnualReport(t *testing.T) {
	srv := newFixtureServer(t)
	c := newTestClient(srv.URL)

	doc, err := c.FetchAnnualReport(context.Background(), "TCS", "2024")
	if err != nil {
		t.Fatalf("FetchAnnualReport: %v", err)
	}
	if doc.Type != types.DocTypeAnnualReport {
		t.Errorf("type = %q", doc.Type)
	}
	if doc.Company != "Tata Consultancy Services Ltd" {
		t.Errorf("company = %q", doc.Company)
	}
	if !strings.Contains(doc.SourceURL, "ar-2024.pdf") {
		t.Errorf("source = %q", doc.SourceURL)
	}
	if doc.Metadata["year"] != "2024" {
		t.Errorf("year = %q", doc.Metadata["year"])
	}
	if len(doc.Content) == 0 {
		t.Error("empty content")
	}
}

func TestFetchAnnualReportMissingYear(t *testing.T) {
	srv := newFixtureServer(t)
	c := newTestClient(srv.URL)

	if _, err := c.FetchAnnualReport(context.Background(), "TCS", "2019"); err == nil {
		t.Fatal("expected error for missing year")
	}
}

func TestFetchTranscriptByMonth(t *testing.T) {
	srv := newFixtureServer(t)
	c := newTestClient(srv.URL)

	doc, err := c.FetchTranscript(context.Background(), "TCS", "2024", "Apr")
	if err != nil {
		t.Fatalf("FetchTranscript: %v", err)
	}
	if !strings.Contains(doc.SourceURL, "concall-apr-2024.pdf") {
		t.Errorf("source = %q", doc.SourceURL)
	}
	if doc.Metadata["month"] != "Apr" || doc.Metadata["year"] != "2024" {
		t.Errorf("metadata = %v", doc.Metadata)
	}
}

func TestFetchTranscriptLatestOfYear(t *testing.T) {
	srv := newFixtureServer(t)
	c := newTestClient(srv.URL)

	doc, err := c.FetchTranscript(context.Background(), "TCS", "2024", "")
	if err != nil {
		t.Fatalf("FetchTranscript: %v", err)
	}
	// Page lists newest first, so Jul 2024 should win.
	if !strings.Contains(doc.SourceURL, "concall-jul-2024.pdf") {
		t.Errorf("source = %q, want the Jul 2024 transcript", doc.SourceURL)
	}
}

func TestCompanyNameFromTitle(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Reliance Industries Ltd share price | Screener", "Reliance Industries Ltd"},
		{"Infosys Ltd | Screener", "Infosys Ltd"},
		{"Wipro Ltd - Stock Analysis", "Wipro Ltd"},
		{"Plain Name", "Plain Name"},
	}
	for _, tt := range tests {
		if got := companyNameFromTitle(tt.title); got != tt.want {
			t.Errorf("companyNameFromTitle(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}

func TestTranscriptLinkIgnoresPPT(t *testing.T) {
	page := strings.ReplaceAll(companyPageHTML, "%BASE%", "http://example.com")
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		t.Fatal(err)
	}

	href, _, ok := transcriptLink(doc, "2024", "Jul")
	if !ok {
		t.Fatal("expected transcript link")
	}
	if strings.Contains(href, "ppt") {
		t.Errorf("picked the PPT link: %q", href)
	}
}
