// Package cmd implements the gateway's CLI (spec §6 ambient stack),
// grounded on the teacher's cmd/ package: a cobra root with serve/stop/
// status/code subcommands and a PID-file-backed process manager.
package cmd

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const (
	AppName = "anthropic-openai-gateway"
	Version = "0.1.0"
)

var (
	logger  *slog.Logger
	baseDir string
)

func init() {
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	homeDir, err := os.UserHomeDir()
	if err != nil {
		logger.Error("failed to get home directory", "error", err)
		os.Exit(1)
	}
	baseDir = filepath.Join(homeDir, "."+AppName)
}

var rootCmd = &cobra.Command{
	Use:     "cco",
	Short:   "Anthropic-to-OpenAI translating gateway",
	Long:    `A gateway that serves Anthropic Messages API requests by translating them to and from the OpenAI Responses API.`,
	Version: Version,
}

// Execute runs the root command; it is the program's entire entrypoint.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(codeCmd)
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
