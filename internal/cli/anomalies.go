package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(anomaliesCmd)
}

var anomaliesCmd = &cobra.Command{
	Use:   "anomalies",
	Short: "Show participants whose clicker earnings outran their energy pool",
	Long: `List the earning anomalies flagged by the server. Requires the organizer
token (client.admin_token or CONFQUEST_ADMIN_TOKEN).`,
	RunE: runAnomalies,
}

func runAnomalies(cmd *cobra.Command, args []string) error {
	rep, err := apiClient().Anomalies(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Profiles: %d   anomalies: %d\n", rep.Stats.Profiles, rep.Stats.TotalAnomalies)
	if len(rep.Flagged) == 0 {
		fmt.Println("Nothing flagged.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tSEVERITY\tTYPE\tWHEN\tDETAIL")
	for _, r := range rep.Flagged {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.UserID, r.Severity, r.Type, r.Timestamp.Local().Format("01-02 15:04"), r.Description)
	}
	return w.Flush()
}
