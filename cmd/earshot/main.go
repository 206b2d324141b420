package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "earshot",
	Short: "Conversation recap daemon for wearable transcripts",
	Long: `earshot receives transcript segments from a wearable capture device,
buffers them per user, and periodically condenses each ten-minute window
of conversation into a summary with a headline, bullet points, a topic
tag, and fact checks. Summaries can be exported to Reflect daily notes.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(summarizeCmd)
	rootCmd.AddCommand(backlogCmd)
	rootCmd.AddCommand(summariesCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	// A .env next to the binary is a convenience for local setups; absence
	// is not an error.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
