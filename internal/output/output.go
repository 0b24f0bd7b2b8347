package output

import (
	"fmt"
	"strings"
)

// Format represents an output format.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatYAML), "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// Extension returns the file extension used when writing format to disk.
func (f Format) Extension() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatYAML:
		return "yaml"
	default:
		return "txt"
	}
}

// Render encodes value as JSON or YAML, or calls table for FormatTable.
func Render(format Format, value any, table func() string) (string, error) {
	switch format {
	case FormatJSON:
		return (&JSONFormatter{Indent: true}).Format(value)
	case FormatYAML:
		return (&YAMLFormatter{}).Format(value)
	default:
		if table == nil {
			return "", fmt.Errorf("table output is not supported here")
		}
		return table(), nil
	}
}
