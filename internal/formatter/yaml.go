package formatter

import (
	"strings"

	"gopkg.in/yaml.v3"
)

type YAMLFormatter struct{}

func NewYAMLFormatter() *YAMLFormatter {
	return &YAMLFormatter{}
}

func (f *YAMLFormatter) FormatTools(tools []ToolRow) (string, error) {
	if tools == nil {
		tools = []ToolRow{}
	}
	data, err := yaml.Marshal(tools)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
