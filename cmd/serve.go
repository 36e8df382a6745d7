package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Davincible/anthropic-openai-gateway/internal/config"
	"github.com/Davincible/anthropic-openai-gateway/internal/process"
	"github.com/Davincible/anthropic-openai-gateway/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway in the foreground",
	Long:  `Start the HTTP gateway that translates Anthropic Messages requests to the OpenAI Responses API.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	setupLogging(verbose)

	cfgMgr, err := config.NewManager()
	if err != nil {
		return err
	}
	cfg := cfgMgr.Get()

	color.Green("Starting %s v%s...", AppName, Version)
	logger.Info("configuration loaded", "port", cfg.Port, "upstream_model", cfg.UpstreamModel)

	procMgr := process.NewManager(baseDir)
	if err := procMgr.WritePID(); err != nil {
		return err
	}
	defer procMgr.CleanupPID()

	srv := server.New(cfgMgr, logger)
	return srv.Start()
}
