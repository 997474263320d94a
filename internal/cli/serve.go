package cli

import (
	"github.com/spf13/cobra"

	"github.com/confquest/confquest/internal/daemon"
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to listen on (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().BoolVar(&serveNoReconcile, "no-reconcile", false, "Disable the background reconciler")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveHost        string
	servePort        int
	serveNoReconcile bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the confquest API server",
	Long:  `Start the HTTP API, the change feed and the background reconciler.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	c := cfg
	if serveHost != "" {
		c.Server.Host = serveHost
	}
	if servePort > 0 {
		c.Server.Port = servePort
	}
	if serveNoReconcile {
		c.Reconcile.Enabled = false
	}

	d, err := daemon.NewWithConfig(c)
	if err != nil {
		return err
	}
	defer d.Close()

	return d.Serve(cmd.Context())
}
