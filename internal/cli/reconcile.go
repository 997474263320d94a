package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/confquest/confquest/internal/daemon"
)

func init() {
	rootCmd.AddCommand(reconcileCmd)
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Settle pending discrepancies and repair drifted balances now",
	Long: `Run one reconciliation pass against the store: finish half-applied
completions and reversals, then recompute cached balances from the journal.`,
	RunE: runReconcile,
}

func runReconcile(cmd *cobra.Command, args []string) error {
	c := cfg
	c.Reconcile.Enabled = false
	d, err := daemon.NewWithConfig(c)
	if err != nil {
		return err
	}
	defer d.Close()

	rep, err := d.ReconcileNow(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Checked %d profiles in %s\n", rep.Profiles, rep.Took.Round(time.Millisecond))
	fmt.Printf("  settled:  %d\n", rep.Settled)
	fmt.Printf("  repaired: %d\n", rep.Repaired)
	if rep.Failed > 0 {
		return fmt.Errorf("%d discrepancies still pending", rep.Failed)
	}
	return nil
}
