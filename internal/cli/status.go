package cli

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/confquest/confquest/internal/app/timewindow"
	"github.com/confquest/confquest/internal/domain"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"show"},
	Short:   "Show balances, clicker state and daily tasks",
	RunE:    runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	local, user, err := openLocal()
	if err != nil {
		return err
	}
	defer local.Close()

	st, err := local.API.State(cmd.Context(), user)
	if err != nil {
		return err
	}
	s, err := local.Session(user)
	if err != nil {
		return err
	}

	fmt.Printf("Participant:  %s\n", user)
	fmt.Printf("Points:       %d\n", st.Profile.Points)
	fmt.Printf("Coins earned: %d (server)\n", st.Profile.CoinsEarned)
	fmt.Printf("Clicker:      %s\n", meter(s.State()))
	fmt.Println()

	families := make([]string, 0, len(st.Cooldowns))
	for f := range st.Cooldowns {
		families = append(families, string(f))
	}
	sort.Strings(families)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tSTATUS\tRESETS IN")
	for _, f := range families {
		cw := st.Cooldowns[domain.TaskFamily(f)]
		status, resets := "available", "-"
		if !cw.Eligible {
			status = "done"
			resets = timewindow.FormatRemaining(cw.Remaining)
		} else if cw.ActiveVariant != "" {
			status = "available (" + string(cw.ActiveVariant) + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", f, status, resets)
	}
	return w.Flush()
}
