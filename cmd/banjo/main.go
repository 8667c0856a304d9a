package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/banjo-dev/banjo/internal/config"
)

// Version is set via ldflags.
var Version = "dev"

var (
	flagConfig  string
	flagDir     string
	flagJSON    bool
	flagVerbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "banjo",
		Short: "ACP bridge between editors and agent CLIs",
		Long: `banjo runs a local daemon that speaks the Agent Client Protocol over
WebSocket and drives claude or codex on behalf of an editor.

The first client in a project starts the daemon; later clients find it
through the .banjo.lock file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.Version = Version

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to config file (default: .banjo.yaml up the tree)")
	rootCmd.PersistentFlags().StringVar(&flagDir, "dir", "", "Project directory (default: current directory)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "JSON output for scripting")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "Debug logging")

	rootCmd.AddCommand(daemonCmd())
	rootCmd.AddCommand(promptCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(permissionHookCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("banjo version %s\n", Version)
		},
	}
}

// projectDir returns the absolute project directory.
func projectDir() (string, error) {
	dir := flagDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		dir = wd
	}
	return filepath.Abs(dir)
}

func loadConfig() (*config.Config, string, error) {
	dir, err := projectDir()
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(flagConfig, dir)
	if err != nil {
		return nil, "", err
	}
	return cfg, dir, nil
}
