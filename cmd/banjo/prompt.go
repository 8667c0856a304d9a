package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/banjo-dev/banjo/internal/acp"
	"github.com/banjo-dev/banjo/internal/client"
	"github.com/banjo-dev/banjo/internal/config"
	"github.com/banjo-dev/banjo/internal/discovery"
	"github.com/banjo-dev/banjo/internal/host"
	"github.com/banjo-dev/banjo/internal/logger"
	"github.com/banjo-dev/banjo/internal/session"
)

func promptCmd() *cobra.Command {
	var (
		engine string
		mode   string
		model  string
		url    string
	)
	cmd := &cobra.Command{
		Use:   "prompt <text>...",
		Short: "Send one prompt to an agent and stream the reply",
		Long: `Connect to the project's daemon (starting one if needed), open a
session and send the prompt. Agent text goes to stdout; tool activity and
permission questions go to stderr. Ctrl-C cancels the turn.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, dir, err := loadConfig()
			if err != nil {
				return err
			}
			level := "warn"
			if flagVerbose {
				level = "debug"
			}
			if err := logger.Init(logger.Options{Level: level}); err != nil {
				return err
			}

			h := host.NewLocal(host.Options{
				Root:            dir,
				OutputByteLimit: cfg.Terminal.OutputByteLimit,
				Cols:            uint16(cfg.Terminal.DefaultCols),
				Rows:            uint16(cfg.Terminal.DefaultRows),
			})
			defer h.Close()

			out := &transcript{verbose: flagVerbose}
			dialCtx, cancel := context.WithTimeout(cmd.Context(), cfg.ReadyTimeout()+cfg.RequestTimeout())
			defer cancel()
			c, err := client.Dial(dialCtx, client.Options{
				URL:        url,
				Discovery:  discoveryOptions(cfg, dir),
				Host:       h,
				Prompter:   host.NewLinePrompter(os.Stdin, os.Stderr),
				ClientInfo: acp.Implementation{Name: "banjo", Version: Version},
				Backoff:    cfg.Backoff(),
				OnUpdate:   out.update,
			})
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer c.Close()

			if err := setup(cmd.Context(), c, cfg, dir, engine, mode, model); err != nil {
				return err
			}

			sigs := make(chan os.Signal, 2)
			signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigs)
			go func() {
				for range sigs {
					if c.State() != session.Streaming && c.State() != session.SessionActive {
						os.Exit(130)
					}
					fmt.Fprintln(os.Stderr, "\ncancelling...")
					_ = c.Cancel()
				}
			}()

			res, err := c.Prompt(cmd.Context(), strings.Join(args, " "))
			out.finish()
			if err != nil {
				return err
			}
			if res.StopReason != acp.StopEndTurn {
				fmt.Fprintf(os.Stderr, "[%s]\n", res.StopReason)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&engine, "engine", "", "Agent engine: claude or codex (default from config)")
	cmd.Flags().StringVar(&mode, "mode", "", "Permission mode: default, accept_edits, auto_approve, plan_only")
	cmd.Flags().StringVar(&model, "model", "", "Model to use")
	cmd.Flags().StringVar(&url, "url", "", "Connect to this daemon URL instead of discovering one")
	return cmd
}

func setup(ctx context.Context, c *client.Client, cfg *config.Config, dir, engine, mode, model string) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout())
	defer cancel()

	if _, err := c.NewSession(ctx, dir, engine); err != nil {
		return fmt.Errorf("new session: %w", err)
	}
	if mode != "" {
		if err := c.SetMode(ctx, mode); err != nil {
			return fmt.Errorf("set mode: %w", err)
		}
	}
	if model != "" {
		if err := c.SetModel(ctx, model); err != nil {
			return fmt.Errorf("set model: %w", err)
		}
	}
	return nil
}

// discoveryOptions builds the spawn command for a new daemon. The spawned
// daemon outlives this process, so it must not log to our stderr.
func discoveryOptions(cfg *config.Config, dir string) discovery.Options {
	args := slices.Clone(cfg.Client.DaemonArgs)
	if flagConfig != "" {
		args = append(args, "--config", flagConfig)
	}
	if cfg.Daemon.LogFile == "" && !slices.Contains(args, "--log-file") {
		if cache, err := os.UserCacheDir(); err == nil {
			args = append(args, "--log-file", filepath.Join(cache, "banjo", "daemon.log"))
		}
	}
	return discovery.Options{
		Dir:          dir,
		DaemonBin:    cfg.Client.DaemonBin,
		DaemonArgs:   args,
		ReadyTimeout: cfg.ReadyTimeout(),
	}
}

// transcript renders session updates: agent text on stdout, everything else
// on stderr.
type transcript struct {
	verbose bool
	midLine bool
}

func (t *transcript) update(n acp.SessionNotification, ch session.Change) {
	switch ch.Kind {
	case acp.UpdateAgentMessageChunk:
		fmt.Fprint(os.Stdout, ch.Text)
		t.midLine = !strings.HasSuffix(ch.Text, "\n")
	case acp.UpdateAgentThoughtChunk:
		if t.verbose {
			fmt.Fprint(os.Stderr, ch.Text)
		}
	case acp.UpdateToolCall, acp.UpdateToolCallUpdate:
		if ch.Kind == acp.UpdateToolCallUpdate && !ch.Finished {
			return
		}
		t.newline()
		status := ch.ToolCall.Status
		if status == "" {
			status = acp.ToolStatusPending
		}
		fmt.Fprintf(os.Stderr, "  [%s] %s\n", status, ch.ToolCall.Title)
	case acp.UpdateCurrentModeUpdate:
		t.newline()
		fmt.Fprintf(os.Stderr, "  mode: %s\n", n.Update.CurrentModeID)
	}
}

func (t *transcript) newline() {
	if t.midLine {
		fmt.Fprintln(os.Stdout)
		t.midLine = false
	}
}

func (t *transcript) finish() {
	t.newline()
}
