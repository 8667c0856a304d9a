package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/banjo-dev/banjo/internal/config"
	"github.com/banjo-dev/banjo/internal/hooks"
)

// maxHookInput bounds what we read from the hook's stdin.
const maxHookInput = 4 << 20

func permissionHookCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "permission-hook",
		Short:  "Claude PermissionRequest hook; asks the daemon for a decision",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), maxHookInput))
			if err != nil {
				return fmt.Errorf("read hook input: %w", err)
			}
			var req hooks.Request
			if err := json.Unmarshal(data, &req); err != nil {
				return fmt.Errorf("invalid hook input: %w", err)
			}
			req.BanjoSessionID = os.Getenv(hooks.EnvSessionID)

			// Without a daemon Claude falls back to its own prompt.
			socket := os.Getenv(hooks.EnvSocket)
			if socket == "" {
				return nil
			}
			timeout := config.Default().HookTimeout()
			if cfg, _, err := loadConfig(); err == nil {
				timeout = cfg.HookTimeout()
			}
			// The daemon answers "ask" at its own timeout; wait a little longer.
			resp, err := hooks.Ask(socket, req, timeout+5*time.Second)
			if err != nil {
				return nil
			}
			if out, ok := hooks.ClaudeOutput(resp); ok {
				_, _ = cmd.OutOrStdout().Write(append(out, '\n'))
			}
			return nil
		},
	}
}
