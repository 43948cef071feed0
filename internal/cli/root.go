// Package cli implements the actiongate command line.
package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/actiongate/actiongate/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"     _        _   _              ____       _\n" +
		"    / \\   ___| |_(_) ___  _ __  / ___| __ _| |_ ___\n" +
		"   / _ \\ / __| __| |/ _ \\| '_ \\| |  _ / _` | __/ _ \\\n" +
		"  / ___ \\ (__| |_| | (_) | | | | |_| | (_| | ||  __/\n" +
		" /_/   \\_\\___|\\__|_|\\___/|_| |_|\\____|\\__,_|\\__\\___|\n"
)

var rootCmd = &cobra.Command{
	Use:   "actiongate",
	Short: "ActionGate - confirm-before-act chat assistant",
	Long:  color.CyanString(logo) + "\nA Slack assistant that proposes email, calendar and contact actions and runs them only after you confirm.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func printHeader(w io.Writer, title string) {
	fmt.Fprintln(w, color.New(color.FgCyan, color.Bold).Sprint(title))
	fmt.Fprintln(w, color.CyanString("────────────────────────────────"))
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(tokensCmd)
}
