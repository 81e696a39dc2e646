package models

import (
	"fmt"
	"strings"
)

// RenderMode says how a tracked page has to be loaded.
type RenderMode string

const (
	// RenderStatic fetches over plain HTTP and falls back to the browser
	// when the response looks insufficient.
	RenderStatic  RenderMode = "static"
	RenderDynamic RenderMode = "dynamic" // always rendered in a headless browser
)

// ParseRenderMode accepts the CLI/API spelling of a render mode.
func ParseRenderMode(s string) (RenderMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "static":
		return RenderStatic, nil
	case "dynamic", "browser":
		return RenderDynamic, nil
	default:
		return "", fmt.Errorf("unknown render mode: %s", s)
	}
}
