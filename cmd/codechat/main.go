package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "codechat",
		Short: "Drive Claude Code from your chat app",
		Long:  `codechat bridges a Telegram chat to a local Claude Code session, keeping conversation state across runs and restarts.`,
	}

	rootCmd.AddCommand(
		newStartCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the codechat version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("codechat %s\n", version)
		},
	}
}
