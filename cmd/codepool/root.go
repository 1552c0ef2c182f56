// Package main provides the codepool CLI entry point.
package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// rootCmd is the base command when codepool is invoked with no
// subcommand.
var rootCmd = &cobra.Command{
	Use:   "codepool",
	Short: "Content-addressed pool of source-code functions",
	Long: `codepool stores source-code functions in a content-addressed,
deduplicating pool: functions written in different human languages that
implement identical logic collapse to the same function hash. The pool
keeps one canonical form of the code together with per-language
mappings back to each author's original identifiers and docstring.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		setupColorOutput()
	},
}

// globalFlags holds flags that apply to every subcommand.
var globalFlags struct {
	color string
	quiet bool
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalFlags.color, "color", "auto", "colorize output: auto, always, never")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.quiet, "quiet", "q", false, "suppress non-error output")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(translateCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(completionCmd)
}

// completionCmd generates shell completion scripts.
var completionCmd = &cobra.Command{
	Use:       "completion [bash|zsh|fish|powershell]",
	Short:     "Generate shell completion scripts",
	Hidden:    true,
	ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(_ *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletion(os.Stdout)
		case "zsh":
			return rootCmd.GenZshCompletion(os.Stdout)
		case "fish":
			return rootCmd.GenFishCompletion(os.Stdout, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletionWithDesc(os.Stdout)
		}
		return nil
	},
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

// setupColorOutput applies globalFlags.color to the fatih/color package's
// global switches, matching the teacher CLI's --color handling.
func setupColorOutput() {
	switch globalFlags.color {
	case "always":
		color.NoColor = false
	case "never":
		color.NoColor = true
	}
}
