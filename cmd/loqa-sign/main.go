// Package main provides the terminal client for loqa-signd.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-sign/internal/client"
	"github.com/loqalabs/loqa-sign/internal/protocol"
	"github.com/loqalabs/loqa-sign/internal/watch"
)

var version = "0.1.0-dev"

var (
	daemonURL    string
	configPath   string
	historyLimit int
	initConfig   bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "loqa-sign",
		Short:         "Terminal client for the loqa-sign runtime",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runWatchCmd,
	}
	rootCmd.PersistentFlags().StringVar(&daemonURL, "daemon", client.DefaultDaemonURL, "daemon base URL")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", client.DefaultConfigPath(), "client config file")

	rootCmd.AddCommand(&cobra.Command{Use: "watch", Short: "Live view with sentence controls", Args: cobra.NoArgs, RunE: runWatchCmd})
	rootCmd.AddCommand(&cobra.Command{Use: "status", Short: "Print the current sign and sentence", Args: cobra.NoArgs, RunE: runStatusCmd})
	for _, op := range []string{"space", "backspace", "clear"} {
		rootCmd.AddCommand(newEditCmd(op))
	}
	rootCmd.AddCommand(&cobra.Command{Use: "speak", Short: "Speak the sentence", Args: cobra.NoArgs, RunE: runSpeakCmd})
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	})
	return rootCmd
}

func newEditCmd(op string) *cobra.Command {
	return &cobra.Command{
		Use:   op,
		Short: "Apply " + op + " to the sentence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, _, err := newClient(cmd)
			if err != nil {
				return err
			}
			snap, err := c.Edit(cmd.Context(), op)
			if err != nil {
				return fmt.Errorf("%s failed: %w", op, err)
			}
			return printSnapshot(cmd, snap)
		},
	}
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent sentence changes",
		Args:  cobra.NoArgs,
		RunE:  runHistoryCmd,
	}
	cmd.Flags().IntVar(&historyLimit, "limit", 20, "number of events")
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show resolved settings or create the config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}
	cmd.Flags().BoolVar(&initConfig, "init", false, "write a default config file if none exists")
	return cmd
}

// loadSettings merges defaults, the config file and explicit flags.
func loadSettings(cmd *cobra.Command) (client.Settings, error) {
	fileCfg, err := client.LoadConfig(configPath)
	if err != nil {
		return client.Settings{}, fmt.Errorf("failed to load config: %w", err)
	}
	s := fileCfg.Apply(client.DefaultSettings())
	if cmd.Flags().Changed("daemon") {
		s.DaemonURL = daemonURL
	}
	return s, nil
}

func newClient(cmd *cobra.Command) (*client.Client, client.Settings, error) {
	s, err := loadSettings(cmd)
	if err != nil {
		return nil, s, err
	}
	c, err := client.New(s.DaemonURL, s.Timeout)
	return c, s, err
}

func runWatchCmd(cmd *cobra.Command, _ []string) error {
	c, s, err := newClient(cmd)
	if err != nil {
		return err
	}
	program := tea.NewProgram(watch.NewModel(c, s.Refresh, c.Resolve), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run TUI: %w", err)
	}
	return nil
}

func runStatusCmd(cmd *cobra.Command, _ []string) error {
	c, _, err := newClient(cmd)
	if err != nil {
		return err
	}
	snap, err := c.Snapshot(cmd.Context())
	if err != nil {
		return fmt.Errorf("daemon unreachable: %w", err)
	}
	if err := printSnapshot(cmd, snap); err != nil {
		return err
	}
	if snap.VideoFeed != "" {
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "video:    %s\n", c.Resolve(snap.VideoFeed))
	}
	return err
}

func runSpeakCmd(cmd *cobra.Command, _ []string) error {
	c, _, err := newClient(cmd)
	if err != nil {
		return err
	}
	snap, started, err := c.Speak(cmd.Context())
	if err != nil {
		return fmt.Errorf("speak failed: %w", err)
	}
	if !started {
		_, err = fmt.Fprintln(cmd.OutOrStdout(), "nothing to speak")
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "speaking %q\n", snap.Sentence)
	return err
}

func runHistoryCmd(cmd *cobra.Command, _ []string) error {
	if historyLimit <= 0 {
		return fmt.Errorf("limit must be positive")
	}
	c, _, err := newClient(cmd)
	if err != nil {
		return err
	}
	events, err := c.History(cmd.Context(), historyLimit)
	if err != nil {
		return fmt.Errorf("history failed: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(events) == 0 {
		_, err = fmt.Fprintln(out, "no history")
		return err
	}
	for _, e := range events {
		line := fmt.Sprintf("%s  %-18s", e.CreatedAt.Local().Format(time.TimeOnly), e.Type)
		if e.Symbol != "" {
			line += fmt.Sprintf(" %-6q", e.Symbol)
		} else {
			line += "       "
		}
		if _, err := fmt.Fprintf(out, "%s %q\n", line, e.Text); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

func runConfigCmd(cmd *cobra.Command, _ []string) error {
	if initConfig {
		if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("config already exists: %s", configPath)
		}
		if err := os.WriteFile(configPath, []byte(client.DefaultConfigTemplate()), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "config:  %s\ndaemon:  %s\nrefresh: %s\ntimeout: %s\n", configPath, s.DaemonURL, s.Refresh, s.Timeout)
	return err
}

func printSnapshot(cmd *cobra.Command, snap protocol.Snapshot) error {
	speaking := ""
	if snap.Speaking {
		speaking = " (speaking)"
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "sign:     %s\nsentence: %q%s\n", snap.CurrentSign, snap.Sentence, speaking)
	return err
}
