package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/confquest/confquest/internal/daemon"
)

func init() {
	healthCmd.Flags().BoolVar(&healthLocal, "local", false, "Check the store directly instead of asking the server")
	rootCmd.AddCommand(healthCmd)
}

var healthLocal bool

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the server or the local store",
	RunE:  runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	if !healthLocal {
		ok, err := apiClient().Health(cmd.Context())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("server at %s is degraded", cfg.Client.ServerURL)
		}
		fmt.Printf("Server at %s is healthy\n", cfg.Client.ServerURL)
		return nil
	}

	c := cfg
	c.Reconcile.Enabled = false
	d, err := daemon.NewWithConfig(c)
	if err != nil {
		return err
	}
	defer d.Close()

	d.Health.RunOnce(cmd.Context())
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHECK\tHEALTHY\tERROR")
	for _, s := range d.Health.Statuses() {
		fmt.Fprintf(w, "%s\t%t\t%s\n", s.Name, s.Healthy, s.Error)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if !d.Health.IsHealthy() {
		return fmt.Errorf("store is degraded")
	}
	return nil
}
