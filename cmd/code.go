package cmd

import (
	"os"
	"os/exec"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Davincible/anthropic-openai-gateway/internal/config"
	"github.com/Davincible/anthropic-openai-gateway/internal/process"
)

// codeCmd is a supplemented feature (not in the original spec's HTTP
// surface): it starts the gateway if needed and launches the `claude` CLI
// pointed at it, the same convenience the teacher's `cco code` provides for
// its proxy.
var codeCmd = &cobra.Command{
	Use:   "code [args...]",
	Short: "Run Claude Code against this gateway",
	Long:  `Start the gateway if needed and execute the claude CLI with its base URL pointed at it.`,
	Args:  cobra.ArbitraryArgs,
	RunE:  runCode,
}

func runCode(cmd *cobra.Command, args []string) error {
	cfgMgr, err := config.NewManager()
	if err != nil {
		return err
	}
	cfg := cfgMgr.Get()

	procMgr := process.NewManager(baseDir)

	serviceStartedByUs, err := procMgr.StartServiceIfNeeded()
	if err != nil {
		return err
	}

	env := os.Environ()
	env = filterEnv(env, "ANTHROPIC_AUTH_TOKEN")
	env = filterEnv(env, "ANTHROPIC_API_KEY")
	env = append(env, "ANTHROPIC_AUTH_TOKEN=proxy")
	env = append(env, "ANTHROPIC_BASE_URL=http://localhost:"+strconv.Itoa(cfg.Port))
	env = append(env, "API_TIMEOUT_MS=600000")

	procMgr.IncrementRef()
	defer func() {
		procMgr.DecrementRef()
		if serviceStartedByUs && procMgr.ReadRef() == 0 {
			color.Yellow("No more active sessions, stopping auto-started gateway...")
			procMgr.Stop()
		}
	}()

	claudeCmd := exec.Command("claude", args...)
	claudeCmd.Env = env
	claudeCmd.Stdin = os.Stdin
	claudeCmd.Stdout = os.Stdout
	claudeCmd.Stderr = os.Stderr

	return claudeCmd.Run()
}

func filterEnv(env []string, key string) []string {
	var filtered []string
	prefix := key + "="
	for _, e := range env {
		if !startsWith(e, prefix) {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

func startsWith(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
