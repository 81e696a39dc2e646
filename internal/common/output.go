package common

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// Structured reports whether --format asks for json or yaml instead of the
// human table.
func Structured(c *cli.Context) bool {
	f := strings.ToLower(c.String("format"))
	return f == "json" || f == "yaml"
}

// WriteOutput prints v as json or yaml according to --format. Lists are
// narrowed to --fields when set.
func WriteOutput(c *cli.Context, v interface{}) error {
	if fields := c.String("fields"); fields != "" {
		v = filterFields(v, fields)
	}

	var (
		data []byte
		err  error
	)
	if strings.ToLower(c.String("format")) == "yaml" {
		data, err = yaml.Marshal(v)
	} else {
		data, err = json.MarshalIndent(v, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Fprintln(c.App.Writer, strings.TrimRight(string(data), "\n"))
	return nil
}

func filterFields(v interface{}, fields string) interface{} {
	var items []interface{}
	data, err := json.Marshal(v)
	if err != nil || json.Unmarshal(data, &items) != nil {
		return FilterResultFields(v, fields)
	}
	out := make([]map[string]interface{}, len(items))
	for i, item := range items {
		out[i] = FilterResultFields(item, fields)
	}
	return out
}
