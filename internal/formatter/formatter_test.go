package formatter

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func sampleTools() []ToolRow {
	return []ToolRow{
		{Name: "read_file", Server: "filesystem", Enabled: true, Description: "Read a file from disk"},
		{Name: "shell", Server: "exec", Enabled: false, Description: "Run a shell command"},
	}
}

func TestFormatterFactory_Create(t *testing.T) {
	factory := NewFormatterFactory()

	tests := []struct {
		name    string
		format  OutputFormat
		wantErr bool
	}{
		{name: "table format", format: OutputFormatTable},
		{name: "json format", format: OutputFormatJSON},
		{name: "yaml format", format: OutputFormatYAML},
		{name: "invalid format", format: OutputFormat("invalid"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter, err := factory.Create(tt.format)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, formatter)
		})
	}
}

func TestParseOutputFormat(t *testing.T) {
	format, err := ParseOutputFormat("TABLE")
	require.NoError(t, err)
	assert.Equal(t, OutputFormatTable, format)

	format, err = ParseOutputFormat("json")
	require.NoError(t, err)
	assert.Equal(t, OutputFormatJSON, format)

	_, err = ParseOutputFormat("xml")
	assert.Error(t, err)
}

func TestTableFormatter_FormatTools(t *testing.T) {
	output, err := NewTableFormatter().FormatTools(sampleTools())
	require.NoError(t, err)

	assert.Contains(t, output, "read_file")
	assert.Contains(t, output, "filesystem")
	assert.Contains(t, output, "shell")
	assert.Contains(t, output, "Enabled")
}

func TestTableFormatter_FormatTools_Empty(t *testing.T) {
	output, err := NewTableFormatter().FormatTools(nil)
	require.NoError(t, err)
	assert.Equal(t, "No tools found", output)
}

func TestJSONFormatter_FormatTools(t *testing.T) {
	output, err := NewJSONFormatter().FormatTools(sampleTools())
	require.NoError(t, err)

	var decoded []ToolRow
	require.NoError(t, json.Unmarshal([]byte(output), &decoded))
	assert.Equal(t, sampleTools(), decoded)

	empty, err := NewJSONFormatter().FormatTools(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", empty)
}

func TestYAMLFormatter_FormatTools(t *testing.T) {
	output, err := NewYAMLFormatter().FormatTools(sampleTools())
	require.NoError(t, err)

	var decoded []ToolRow
	require.NoError(t, yaml.Unmarshal([]byte(output), &decoded))
	assert.Equal(t, sampleTools(), decoded)
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "hello", truncateString("hello", 20))
	assert.Equal(t, "hello world", truncateString("hello world", 11))
	assert.Equal(t, "hello w...", truncateString("hello world test", 10))
}
