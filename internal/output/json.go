package output

import (
	"encoding/json"
)

// JSONFormatter renders values as JSON.
type JSONFormatter struct {
	Indent bool
}

// Format renders value as JSON.
func (f *JSONFormatter) Format(value any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(value, "", "  ")
	} else {
		data, err = json.Marshal(value)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
