package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/confquest/confquest/internal/app/timewindow"
	"github.com/confquest/confquest/internal/domain"
	"github.com/confquest/confquest/pkg/client"
)

func init() {
	cooldownCmd.Flags().BoolVarP(&cooldownWatch, "watch", "w", false, "Keep refreshing until the task is available")
	cooldownCmd.Flags().StringVar(&cooldownTZ, "tz", "", "IANA time zone to evaluate in (default: server zone)")
	rootCmd.AddCommand(cooldownCmd)
}

var (
	cooldownWatch bool
	cooldownTZ    string
)

var cooldownCmd = &cobra.Command{
	Use:   "cooldown FAMILY",
	Short: "Show whether a daily task is available and when it resets",
	Long: `Families: greeting_quote, team_photo, participant_photo, practice_story, slogan.
The greeting/quote slot alternates: weekdays offer the greeting, weekends the quote.`,
	Args: cobra.ExactArgs(1),
	RunE: runCooldown,
}

func runCooldown(cmd *cobra.Command, args []string) error {
	user, err := currentUser()
	if err != nil {
		return err
	}
	family, err := domain.ParseTaskFamily(args[0])
	if err != nil {
		return err
	}
	api := apiClient()
	ctx := cmd.Context()

	w, err := api.Cooldown(ctx, user, family, cooldownTZ)
	if err != nil {
		return err
	}
	printWindow(w)
	if !cooldownWatch || w.Eligible {
		return nil
	}
	return watchCooldown(ctx, api, user, family, w)
}

// watchCooldown recomputes the countdown locally each second and re-reads the
// server at the configured interval or once the boundary passes.
func watchCooldown(ctx context.Context, api *client.Client, user string, family domain.TaskFamily, w domain.CooldownWindow) error {
	interval := cfg.Cooldown.WatchInterval
	refresh, err := time.ParseDuration(interval)
	if err != nil || refresh <= 0 {
		refresh = 30 * time.Second
	}
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	lastRead := time.Now()

	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case now := <-tick.C:
			if now.Sub(lastRead) >= refresh || !now.Before(w.ResetAt) {
				next, err := api.Cooldown(ctx, user, family, cooldownTZ)
				if err != nil {
					fmt.Fprintf(os.Stderr, "\nrefresh failed: %v\n", err)
				} else {
					w = next
				}
				lastRead = now
			}
			if w.Eligible {
				fmt.Println()
				printWindow(w)
				return nil
			}
			clearLine()
			fmt.Printf("%s resets in %s", w.Family, timewindow.FormatRemaining(timewindow.Until(now, w.ResetAt)))
		}
	}
}

func printWindow(w domain.CooldownWindow) {
	if w.Eligible {
		fmt.Printf("%s: available now", w.Family)
		if w.ActiveVariant != "" {
			fmt.Printf(" (today: %s)", w.ActiveVariant)
		}
		fmt.Println()
		return
	}
	fmt.Printf("%s: %s\n", w.Family, w.Reason)
	fmt.Printf("  resets at %s (in %s)\n", w.ResetAt.Local().Format("Mon 15:04"), timewindow.FormatRemaining(w.Remaining))
}

func clearLine() {
	fmt.Print("\r\033[K")
}
