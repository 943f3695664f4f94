package download

import (
	"strings"

	"golang.org/x/net/html"
)

// pageTitle extracts the contents of the <title> element.
func pageTitle(doc *html.Node) string {
	var title string
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if title == "" {
				traverse(c)
			}
		}
	}
	traverse(doc)
	return title
}

// companyNameFromTitle strips the boilerplate screener.in appends to the
// company name ("Reliance Industries Ltd share price | ...").
func companyNameFromTitle(title string) string {
	for _, sep := range []string{" share price", "|", " - "} {
		if idx := strings.Index(title, sep); idx >= 0 {
			title = title[:idx]
		}
	}
	return strings.TrimSpace(title)
}

// findByID returns the first element with the given id attribute.
func findByID(doc *html.Node, id string) *html.Node {
	var found *html.Node
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && attr(n, "id") == id {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(doc)
	return found
}

// findByClass returns the first element carrying the given class token.
func findByClass(root *html.Node, class string) *html.Node {
	var found *html.Node
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && hasClass(n, class) {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(root)
	return found
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, token := range strings.Fields(attr(n, "class")) {
		if token == class {
			return true
		}
	}
	return false
}

// textContent flattens all text nodes under n.
func textContent(n *html.Node) string {
	var sb strings.Builder
	var traverse func(*html.Node)
	traverse = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
			sb.WriteString(" ")
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

// anchors collects all <a> elements under n.
func anchors(n *html.Node) []*html.Node {
	var out []*html.Node
	var traverse func(*html.Node)
	traverse = func(node *html.Node) {
		if node.Type == html.ElementNode && node.Data == "a" {
			out = append(out, node)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(n)
	return out
}

// annualReportLink finds the annual-report PDF link for a fiscal year
// inside the documents section ("Financial Year 2024 ..." labels).
func annualReportLink(doc *html.Node, year string) (string, bool) {
	section := findByID(doc, "documents")
	if section == nil {
		return "", false
	}
	reports := findByClass(section, "annual-reports")
	if reports == nil {
		reports = section
	}
	for _, a := range anchors(reports) {
		label := textContent(a)
		if strings.Contains(label, "Financial Year "+year) {
			if href := attr(a, "href"); href != "" {
				return href, true
			}
		}
	}
	return "", false
}

// transcriptLink finds a concall transcript link matching year and
// optional month. With no month, the first (latest) transcript of the
// year wins; the page lists concalls newest first.
func transcriptLink(doc *html.Node, year, month string) (href, label string, ok bool) {
	section := findByID(doc, "documents")
	if section == nil {
		return "", "", false
	}
	concalls := findByClass(section, "concalls")
	if concalls == nil {
		return "", "", false
	}

	var items []*html.Node
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "li" {
			items = append(items, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(concalls)

	for _, li := range items {
		itemLabel := textContent(li)
		if !strings.Contains(itemLabel, year) {
			continue
		}
		if month != "" && !strings.Contains(strings.ToLower(itemLabel), strings.ToLower(month)) {
			continue
		}
		for _, a := range anchors(li) {
			if strings.EqualFold(strings.TrimSpace(textContent(a)), "Transcript") {
				if h := attr(a, "href"); h != "" {
					return h, itemLabel, true
				}
			}
		}
	}
	return "", "", false
}
