package main

import (
	"github.com/harunnryd/cosmo/cmd/cosmo/runtime"

	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, _ := cmd.Flags().GetString("profile")
		noTools, _ := cmd.Flags().GetBool("no-tools")
		verbose, _ := cmd.Flags().GetBool("verbose")

		return executeWithRuntime(cmd, func(b runtime.RuntimeBuilder) runtime.RuntimeBuilder {
			b = b.WithProfile(profile)
			if noTools {
				b = b.WithoutTools()
			}
			return b
		}, func(r *runtime.RuntimeComponents) error {
			out := cmd.OutOrStdout()
			repl := runtime.NewREPL(r, cmd.InOrStdin(), out, runtime.NewPrinter(out, verbose))
			return repl.Start()
		})
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringP("profile", "p", "", "model profile (default is models.default)")
	chatCmd.Flags().Bool("no-tools", false, "do not start tool servers")
	chatCmd.Flags().BoolP("verbose", "v", false, "show turns, tool parameters and results")
}
