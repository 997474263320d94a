package cli

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/confquest/confquest/internal/app"
	"github.com/confquest/confquest/internal/domain"
)

func init() {
	grantCmd.Flags().StringVarP(&grantFile, "file", "f", "", "Apply a grant file instead of a single grant")
	grantCmd.Flags().StringVar(&grantField, "field", string(domain.FieldPoints), "Balance field: points or coins_earned")
	grantCmd.Flags().StringVar(&grantReason, "reason", "manual grant", "Journal reason")
	grantCmd.Flags().StringVar(&grantRef, "ref", "", "Idempotency ref (default: random)")
	journalCmd.Flags().StringVar(&grantField, "field", string(domain.FieldPoints), "Balance field: points or coins_earned")
	journalCmd.Flags().IntVarP(&journalLimit, "limit", "n", 20, "Number of entries")
	rootCmd.AddCommand(grantCmd, journalCmd)
}

var (
	grantFile    string
	grantField   string
	grantReason  string
	grantRef     string
	journalLimit int
)

var grantCmd = &cobra.Command{
	Use:   "grant [USER DELTA]",
	Short: "Grant points to participants (organizers)",
	Long: `Grant points or coins to one participant, or apply a grant file:

  REF workshop-2026-03-02
  REASON "Workshop winners"
  GRANT 1001 points 50
  GRANT 1002 points 30 "runner-up"

Grants are idempotent per ref, so re-applying a file credits nobody twice.`,
	Args: cobra.RangeArgs(0, 2),
	RunE: runGrant,
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show the participant's balance journal",
	RunE:  runJournal,
}

func runGrant(cmd *cobra.Command, args []string) error {
	api := apiClient()

	var grants []domain.Grant
	switch {
	case grantFile != "":
		f, err := os.Open(grantFile)
		if err != nil {
			return fmt.Errorf("read grant file: %w", err)
		}
		defer f.Close()
		gf, err := app.ParseGrantFile(f)
		if err != nil {
			return err
		}
		grants = gf.Grants
	case len(args) == 2:
		delta, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("%w: delta %q", domain.ErrInvalidInput, args[1])
		}
		ref := grantRef
		if ref == "" {
			ref = "manual:" + uuid.NewString()
		}
		grants = []domain.Grant{{
			UserID: args[0],
			Field:  domain.BalanceField(grantField),
			Delta:  delta,
			Reason: grantReason,
			Ref:    ref,
		}}
	default:
		return fmt.Errorf("pass USER DELTA or --file")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tFIELD\tDELTA\tBALANCE\tRESULT")
	var failed int
	for _, g := range grants {
		e, applied, err := api.IncrementBalance(cmd.Context(), g)
		if err != nil {
			failed++
			fmt.Fprintf(w, "%s\t%s\t%d\t-\t%v\n", g.UserID, g.Field, g.Delta, err)
			continue
		}
		result := "applied"
		if !applied {
			result = "already applied"
		}
		fmt.Fprintf(w, "%s\t%s\t%+d\t%d\t%s\n", g.UserID, g.Field, g.Delta, e.Balance, result)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d grants failed", failed, len(grants))
	}
	return nil
}

func runJournal(cmd *cobra.Command, args []string) error {
	user, err := currentUser()
	if err != nil {
		return err
	}
	entries, err := apiClient().Journal(cmd.Context(), user, domain.BalanceField(grantField), journalLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No balance movements yet.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tDELTA\tBALANCE\tREASON")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%+d\t%d\t%s\n", e.CreatedAt.Local().Format("2006-01-02 15:04"), e.Delta, e.Balance, e.Reason)
	}
	return w.Flush()
}
