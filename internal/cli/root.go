// Package cli implements the confquest command-line interface using Cobra.
// Server commands open the store directly; participant commands talk to a
// running server through the client SDK and keep their state locally.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/confquest/confquest/internal/daemon"
	"github.com/confquest/confquest/internal/logger"
)

var (
	configPath string
	userFlag   string
	serverFlag string
	logLevel   string

	cfg daemon.Config
)

var rootCmd = &cobra.Command{
	Use:   "confquest",
	Short: "confquest: points, coins and daily tasks for conference participants",
	Long: `confquest runs the reward economy of a conference Mini-App.
Participants earn points for daily tasks, tap for coins, convert coins into
points and like each other's posts. Organizers grant prizes and reverse
completions.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Config file (default ~/.confquest/config.toml)")
	pf.StringVarP(&userFlag, "user", "u", "", "Participant id (overrides client.user_id)")
	pf.StringVar(&serverFlag, "server", "", "Server URL (overrides client.server_url)")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = daemon.ConfigPath()
	}
	c, err := daemon.LoadConfigFrom(path)
	if err != nil {
		return err
	}
	if serverFlag != "" {
		c.Client.ServerURL = serverFlag
	}
	if userFlag != "" {
		c.Client.UserID = userFlag
	}
	if logLevel != "" {
		c.Logging.Level = logLevel
	}
	logger.Setup(c.Logging.Level, c.Logging.Format)
	cfg = c
	return nil
}

// currentUser returns the participant the command acts for.
func currentUser() (string, error) {
	if cfg.Client.UserID == "" {
		return "", fmt.Errorf("no participant: pass --user or set client.user_id")
	}
	return cfg.Client.UserID, nil
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
