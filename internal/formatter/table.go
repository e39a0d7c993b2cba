package formatter

import (
	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"
)

type TableFormatter struct {
	headerStyle   lipgloss.Style
	oddRowStyle   lipgloss.Style
	evenRowStyle  lipgloss.Style
	disabledStyle lipgloss.Style
	borderStyle   lipgloss.Style
}

func NewTableFormatter() *TableFormatter {
	purple := lipgloss.Color("99")
	gray := lipgloss.Color("245")
	lightGray := lipgloss.Color("241")
	dim := lipgloss.Color("238")

	return &TableFormatter{
		headerStyle: lipgloss.NewStyle().
			Foreground(purple).
			Bold(true).
			Align(lipgloss.Center).
			Padding(0, 1),
		oddRowStyle: lipgloss.NewStyle().
			Foreground(gray).
			Padding(0, 1),
		evenRowStyle: lipgloss.NewStyle().
			Foreground(lightGray).
			Padding(0, 1),
		disabledStyle: lipgloss.NewStyle().
			Foreground(dim).
			Strikethrough(true).
			Padding(0, 1),
		borderStyle: lipgloss.NewStyle().
			Foreground(purple),
	}
}

func (f *TableFormatter) FormatTools(tools []ToolRow) (string, error) {
	if len(tools) == 0 {
		return "No tools found", nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(f.borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return f.headerStyle
			case row >= 0 && row < len(tools) && !tools[row].Enabled && col == 0:
				return f.disabledStyle
			case row%2 == 0:
				return f.evenRowStyle
			default:
				return f.oddRowStyle
			}
		}).
		Headers("Tool", "Server", "Enabled", "Description")

	for _, tool := range tools {
		enabled := "no"
		if tool.Enabled {
			enabled = "yes"
		}
		t.Row(
			truncateString(tool.Name, 32),
			truncateString(tool.Server, 20),
			enabled,
			truncateString(tool.Description, 50),
		)
	}

	return t.String(), nil
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
