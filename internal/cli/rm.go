package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/confquest/confquest/internal/domain"
)

func init() {
	rootCmd.AddCommand(rmCmd)
}

var rmCmd = &cobra.Command{
	Use:     "remove COMPLETION_ID",
	Aliases: []string{"rm"},
	Short:   "Reverse a completion and take back its points",
	Args:    cobra.ExactArgs(1),
	RunE:    runRm,
}

func runRm(cmd *cobra.Command, args []string) error {
	api := apiClient()
	c, err := api.Remove(cmd.Context(), args[0])
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("no completion %s", args[0])
	}
	if err != nil {
		return err
	}
	fmt.Printf("Removed %s (%s, -%d points from %s)\n", c.ID, c.Kind, c.PointsAwarded, c.UserID)
	return nil
}
