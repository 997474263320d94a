package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/confquest/confquest/internal/domain"
)

func init() {
	listCmd.Flags().StringVar(&listKinds, "kind", "", "Comma-separated task kinds to show")
	listCmd.Flags().DurationVar(&listSince, "since", 0, "Only show completions newer than this (e.g. 72h)")
	rootCmd.AddCommand(listCmd)
}

var (
	listKinds string
	listSince time.Duration
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls", "history"},
	Short:   "List the participant's completions",
	RunE:    runList,
}

func runList(cmd *cobra.Command, args []string) error {
	user, err := currentUser()
	if err != nil {
		return err
	}
	var kinds []domain.TaskKind
	if listKinds != "" {
		for _, s := range strings.Split(listKinds, ",") {
			k, err := domain.ParseTaskKind(s)
			if err != nil {
				return err
			}
			kinds = append(kinds, k)
		}
	}
	var since time.Time
	if listSince > 0 {
		since = time.Now().Add(-listSince)
	}

	rows, err := apiClient().Completions(cmd.Context(), user, kinds, since)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("No completions yet. Run 'confquest complete <kind>' to get started.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tPOINTS\tDAY\tCOMPLETED")
	for _, c := range rows {
		pts := fmt.Sprintf("%d", c.PointsAwarded)
		if !c.Rewarded() {
			pts = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			c.ID,
			c.Kind,
			pts,
			c.Day,
			c.CompletedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	return w.Flush()
}
