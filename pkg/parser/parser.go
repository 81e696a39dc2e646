package parser

import (
	"bufio"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/dtnitsch/pagewatch/models"
	"github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// noiseSelector lists page chrome that never carries event content.
const noiseSelector = "script,style,noscript,iframe,template,svg,nav,footer,header,aside,form," +
	".cookie-banner,.cookie-consent,#cookie-banner,.popup,.modal,[role=dialog],[aria-hidden=true]"

const (
	maxLinkText = 100
	minLinkText = 3
)

type Parser struct{}

// Parse turns raw HTML into readable blocks, outbound links and a title.
func (p *Parser) Parse(rawURL, rawHTML string) (*models.FetchResult, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	result := &models.FetchResult{URL: rawURL, HTMLSize: len(rawHTML)}

	// Readability only contributes metadata; the whole page is kept because
	// event listings rarely look like an article.
	rp := readability.NewParser()
	if article, err := rp.Parse(strings.NewReader(rawHTML), base); err == nil {
		result.Title = normalizeText(article.Title)
		result.SiteName = normalizeText(article.SiteName)
	}
	if result.Title == "" {
		result.Title = normalizeText(doc.Find("title").First().Text())
	}

	doc.Find(noiseSelector).Remove()

	result.Blocks = extractBlocks(doc)
	result.Links = extractLinks(doc, base)
	return result, nil
}

// blockElements start a new content block. Text directly inside a container
// is kept as its own block alongside the blocks nested in it.
var blockElements = map[string]bool{
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"p": true, "li": true, "dt": true, "dd": true, "blockquote": true, "pre": true,
	"figure": true, "figcaption": true, "address": true,
	"div": true, "section": true, "article": true, "main": true,
	"ul": true, "ol": true, "dl": true,
	"table": true, "thead": true, "tbody": true, "tfoot": true, "caption": true,
}

type blockWalker struct {
	blocks   []models.ContentBlock
	open     []string
	buf      strings.Builder
	sawBlock bool
}

func extractBlocks(doc *goquery.Document) []models.ContentBlock {
	body := doc.Find("body")
	w := &blockWalker{}
	for _, n := range body.Nodes {
		w.walkChildren(n)
	}
	w.flush()

	if w.sawBlock {
		return w.blocks
	}

	// Bare text documents: one block per non-empty line of the body.
	var blocks []models.ContentBlock
	scanner := bufio.NewScanner(strings.NewReader(body.Text()))
	for scanner.Scan() {
		if line := normalizeText(scanner.Text()); line != "" {
			blocks = append(blocks, models.ContentBlock{Type: "text", Text: line})
		}
	}
	return blocks
}

func (w *blockWalker) walkChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

func (w *blockWalker) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.buf.WriteString(n.Data)
		return
	case html.ElementNode:
	default:
		w.walkChildren(n)
		return
	}

	switch {
	case n.Data == "br":
		w.flush()
	case n.Data == "tr":
		w.flush()
		w.sawBlock = true
		var cells []string
		goquery.NewDocumentFromNode(n).Find("th,td").Each(func(i int, cell *goquery.Selection) {
			if c := normalizeText(cell.Text()); c != "" {
				cells = append(cells, c)
			}
		})
		w.emit("tr", strings.Join(cells, " | "))
	case blockElements[n.Data]:
		w.flush()
		w.sawBlock = true
		w.open = append(w.open, n.Data)
		w.walkChildren(n)
		w.flush()
		w.open = w.open[:len(w.open)-1]
	default:
		w.walkChildren(n)
	}
}

// flush emits buffered text as a block typed by the innermost open element.
func (w *blockWalker) flush() {
	kind := "text"
	if len(w.open) > 0 {
		kind = w.open[len(w.open)-1]
	}
	w.emit(kind, normalizeText(w.buf.String()))
	w.buf.Reset()
}

func (w *blockWalker) emit(kind, text string) {
	if text != "" {
		w.blocks = append(w.blocks, models.ContentBlock{Type: kind, Text: text})
	}
}

func extractLinks(doc *goquery.Document, base *url.URL) []models.Link {
	seen := make(map[string]struct{})
	var links []models.Link

	doc.Find("a[href]").Each(func(i int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}

		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		abs.Fragment = ""

		text := normalizeText(a.Text())
		if utf8.RuneCountInString(text) < minLinkText {
			return
		}
		if utf8.RuneCountInString(text) > maxLinkText {
			text = string([]rune(text)[:maxLinkText])
		}

		key := abs.String()
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		links = append(links, models.Link{Href: key, Text: text})
	})

	return links
}

// normalizeText cleans up a string by trimming space and removing excess newlines.
func normalizeText(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	scanner := bufio.NewScanner(strings.NewReader(input))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			// Write the line and a single space for separation
			b.WriteString(line)
			b.WriteString(" ")
		}
	}
	// Return the result, trimming the final space
	return strings.TrimSpace(strings.Join(strings.Fields(b.String()), " "))
}
