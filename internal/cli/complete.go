package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/confquest/confquest/internal/app/ledger"
	"github.com/confquest/confquest/internal/domain"
)

func init() {
	completeCmd.Flags().BoolVar(&completeFirst, "first", false, "Mark a first-time post (practice story, slogan)")
	completeCmd.Flags().StringVar(&completeTask, "task", "", "Task id for per-task kinds (survey, feedback, achievement)")
	completeCmd.Flags().StringArrayVar(&completeMeta, "meta", nil, "Extra metadata as key=value (repeatable)")
	completeCmd.Flags().BoolVar(&completeRepost, "repost", false, "Record an unrewarded re-post")
	rootCmd.AddCommand(completeCmd)
}

var (
	completeFirst  bool
	completeTask   string
	completeMeta   []string
	completeRepost bool
)

var completeCmd = &cobra.Command{
	Use:   "complete KIND",
	Short: "Record a finished task and collect its points",
	Long: `Record a finished task. Kinds: greeting, quote, team_photo, participant_photo,
practice_story, slogan, likes_given, achievement, survey, feedback.

An already-completed or out-of-window attempt is reported, not treated as an error.`,
	Args: cobra.ExactArgs(1),
	RunE: runComplete,
}

func runComplete(cmd *cobra.Command, args []string) error {
	user, err := currentUser()
	if err != nil {
		return err
	}
	kind, err := domain.ParseTaskKind(args[0])
	if err != nil {
		return err
	}
	meta, err := parseMeta(completeMeta, completeFirst, completeTask)
	if err != nil {
		return err
	}

	api := apiClient()
	a := ledger.Attempt{UserID: user, Kind: kind, Metadata: meta}

	if completeRepost {
		c, err := api.Repost(cmd.Context(), a)
		if err != nil {
			return err
		}
		fmt.Printf("Recorded re-post %s (no points)\n", c.ID)
		return nil
	}

	out, err := api.Complete(cmd.Context(), a)
	if err != nil {
		return err
	}
	switch out.Status {
	case ledger.StatusCompleted:
		fmt.Printf("+%d points for %s (completion %s)\n", out.PointsAwarded, kind, out.Completion.ID)
	case ledger.StatusAlreadyCompleted:
		fmt.Printf("Already done: %s\n", out.Reason)
	default:
		fmt.Fprintf(os.Stderr, "Not accepted: %s\n", out.Reason)
	}
	return nil
}
