package models

import (
	"strings"
	"time"
)

// TrackedPage is a URL under surveillance together with the snapshot
// taken at its last successful check.
type TrackedPage struct {
	ID              int64      `json:"id" yaml:"id"`
	URL             string     `json:"url" yaml:"url"`
	Title           string     `json:"title,omitempty" yaml:"title,omitempty"`
	LastFingerprint string     `json:"last_fingerprint,omitempty" yaml:"last_fingerprint,omitempty"`
	LastSegments    []string   `json:"-" yaml:"-"`
	ErrorCount      int        `json:"error_count" yaml:"error_count"`
	Active          bool       `json:"active" yaml:"active"`
	RenderMode      RenderMode `json:"render_mode" yaml:"render_mode"`
	CreatedAt       time.Time  `json:"created_at" yaml:"created_at"`
	LastCheckedAt   *time.Time `json:"last_checked_at,omitempty" yaml:"last_checked_at,omitempty"`
}

// Link is an outbound anchor found on a page.
type Link struct {
	Href string `json:"href"`
	Text string `json:"text"`
}

// ContentBlock represents a semantic block of text on a page.
type ContentBlock struct {
	Type string `json:"type"` // e.g., "h1", "h2", "p", "li", "table"
	Text string `json:"text"`
}

// FetchResult is what the fetcher hands to the pipeline.
type FetchResult struct {
	URL      string         `json:"url"`
	Title    string         `json:"title,omitempty"`
	SiteName string         `json:"site_name,omitempty"`
	Blocks   []ContentBlock `json:"blocks"`
	Links    []Link         `json:"links,omitempty"`
	Method   string         `json:"method"` // "static" or "browser"
	HTMLSize int            `json:"html_size"`
}

// ToPlainText concatenates readable text from all content blocks, one block per line.
func (r *FetchResult) ToPlainText() string {
	var sb strings.Builder
	for _, block := range r.Blocks {
		sb.WriteString(block.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}
