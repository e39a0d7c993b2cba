package main

import (
	"context"
	"fmt"
	"io"

	"github.com/harunnryd/cosmo/cmd/cosmo/runtime"

	cosmoErrors "github.com/harunnryd/cosmo/internal/errors"
	"github.com/harunnryd/cosmo/internal/formatter"
	"github.com/harunnryd/cosmo/internal/mcp"

	"github.com/spf13/cobra"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Inspect and toggle MCP tools",
	Long:  `List the tools exposed by the configured MCP servers and choose which ones the model may call.`,
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List discovered tools",
	RunE: func(cmd *cobra.Command, args []string) error {
		outputStr, _ := cmd.Flags().GetString("output")
		format, err := formatter.ParseOutputFormat(outputStr)
		if err != nil {
			return err
		}
		onlyEnabled, _ := cmd.Flags().GetBool("enabled")

		return withToolRegistry(cmd, func(reg *mcp.Registry, _ *mcp.ToolStateStore) error {
			return printTools(cmd.OutOrStdout(), reg, format, onlyEnabled)
		})
	},
}

var toolsEnableCmd = &cobra.Command{
	Use:   "enable [tool...]",
	Short: "Allow the model to call tools",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runToggle(cmd, args, true)
	},
}

var toolsDisableCmd = &cobra.Command{
	Use:   "disable [tool...]",
	Short: "Hide tools from the model",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runToggle(cmd, args, false)
	},
}

func runToggle(cmd *cobra.Command, names []string, enabled bool) error {
	all, _ := cmd.Flags().GetBool("all")
	if !all && len(names) == 0 {
		return cosmoErrors.InvalidInput("name at least one tool or pass --all")
	}

	return withToolRegistry(cmd, func(reg *mcp.Registry, store *mcp.ToolStateStore) error {
		if err := toggleTools(reg, names, all, enabled); err != nil {
			return err
		}
		if err := store.Save(reg.ToolStates()); err != nil {
			return err
		}

		verb := "Disabled"
		if enabled {
			verb = "Enabled"
		}
		if all {
			fmt.Fprintf(cmd.OutOrStdout(), "%s all %d tools\n", verb, len(reg.AvailableTools()))
			return nil
		}
		for _, name := range names {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, name)
		}
		return nil
	})
}

// toggleTools validates every name before changing anything.
func toggleTools(reg *mcp.Registry, names []string, all, enabled bool) error {
	if all {
		if enabled {
			reg.EnableAll()
		} else {
			reg.DisableAll()
		}
		return nil
	}

	for _, name := range names {
		if _, err := reg.ServerForTool(name); err != nil {
			return err
		}
	}
	for _, name := range names {
		reg.SetToolEnabled(name, enabled)
	}
	return nil
}

func toolRows(reg *mcp.Registry, onlyEnabled bool) []formatter.ToolRow {
	tools := reg.AvailableTools()
	rows := make([]formatter.ToolRow, 0, len(tools))
	for _, tool := range tools {
		enabled := reg.IsToolEnabled(tool.Name)
		if onlyEnabled && !enabled {
			continue
		}
		server, _ := reg.ServerForTool(tool.Name)
		rows = append(rows, formatter.ToolRow{
			Name:        tool.Name,
			Server:      server,
			Enabled:     enabled,
			Description: tool.Description,
		})
	}
	return rows
}

func printTools(w io.Writer, reg *mcp.Registry, format formatter.OutputFormat, onlyEnabled bool) error {
	f, err := formatter.NewFormatterFactory().Create(format)
	if err != nil {
		return err
	}
	output, err := f.FormatTools(toolRows(reg, onlyEnabled))
	if err != nil {
		return fmt.Errorf("failed to format tools: %w", err)
	}
	fmt.Fprintln(w, output)
	return nil
}

func withToolRegistry(cmd *cobra.Command, fn func(*mcp.Registry, *mcp.ToolStateStore) error) error {
	loadedCfg, err := loadConfigForCommand(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	signals := NewSignalHandler(context.Background())
	signals.Start()
	defer signals.Stop()

	store := mcp.NewToolStateStore(loadedCfg.MCP.ToolStateFile)
	reg, err := runtime.OpenToolRegistry(signals.Context(), loadedCfg, store, true, nil)
	if err != nil {
		return err
	}
	defer reg.Close()

	return fn(reg, store)
}

func init() {
	toolsListCmd.Flags().StringP("output", "o", "table", "output format (table, json, yaml)")
	toolsListCmd.Flags().Bool("enabled", false, "only show enabled tools")
	toolsEnableCmd.Flags().Bool("all", false, "enable every discovered tool")
	toolsDisableCmd.Flags().Bool("all", false, "disable every discovered tool")

	toolsCmd.AddCommand(toolsListCmd)
	toolsCmd.AddCommand(toolsEnableCmd)
	toolsCmd.AddCommand(toolsDisableCmd)
	rootCmd.AddCommand(toolsCmd)
}
