package formatter

import (
	"encoding/json"
)

type JSONFormatter struct{}

func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{}
}

func (f *JSONFormatter) FormatTools(tools []ToolRow) (string, error) {
	if tools == nil {
		tools = []ToolRow{}
	}
	data, err := json.MarshalIndent(tools, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
