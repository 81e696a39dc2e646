package extractor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dtnitsch/pagewatch/models"
)

// FilterLinks asks the backend which outbound links lead to sites worth
// tracking. Suggestions for hrefs that were not offered are ignored.
func (o *Orchestrator) FilterLinks(ctx context.Context, sourceURL string, links []models.Link, max int) ([]models.DiscoveredURL, error) {
	if max > 0 && len(links) > max {
		links = links[:max]
	}
	if len(links) == 0 {
		return nil, nil
	}

	offered := make(map[string]struct{}, len(links))
	for _, l := range links {
		offered[l.Href] = struct{}{}
	}

	payload, err := json.Marshal(links)
	if err != nil {
		return nil, fmt.Errorf("encode links: %w", err)
	}

	raw, err := o.ext.Extract(ctx, string(payload), BuildLinkFilterPrompt(sourceURL), models.ExtractOptions{
		SourceURL:       sourceURL,
		Temperature:     o.opts.Temperature,
		MaxOutputTokens: o.opts.MaxOutputTokens,
		JSON:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("link filter for %s: %w", sourceURL, err)
	}

	value, err := decodeJSON(stripFences(raw), '[', ']')
	if err != nil {
		return nil, fmt.Errorf("decode link filter response: %w", err)
	}
	list, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("link filter response is not an array")
	}

	var out []models.DiscoveredURL
	seen := make(map[string]struct{})
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		href := stringField(m["href"])
		if _, ok := offered[href]; !ok {
			continue
		}
		if _, dup := seen[href]; dup {
			continue
		}
		seen[href] = struct{}{}
		out = append(out, models.DiscoveredURL{
			URL:    href,
			Title:  stringField(m["title"]),
			Reason: stringField(m["reason"]),
		})
	}
	return out, nil
}
