package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/confquest/confquest/internal/app/session"
)

func init() {
	tapCmd.Flags().IntVarP(&tapCount, "count", "n", 1, "Number of taps")
	rootCmd.AddCommand(tapCmd, convertCmd, playCmd)
}

var tapCount int

var tapCmd = &cobra.Command{
	Use:   "tap",
	Short: "Spend energy to earn coins",
	RunE:  runTap,
}

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Exchange coins for points at the fixed rate",
	RunE:  runConvert,
}

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Interactive clicker (enter taps, c converts, q quits)",
	RunE:  runPlay,
}

// withSession opens the local session, runs fn, then mirrors and snapshots.
func withSession(ctx context.Context, fn func(*session.Session) error) error {
	local, user, err := openLocal()
	if err != nil {
		return err
	}
	defer local.Close()

	s, err := local.Session(user)
	if err != nil {
		return err
	}
	runErr := fn(s)

	if err := s.Flush(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "coins not synced yet, will retry next time: %v\n", err)
	}
	if err := s.Snapshot(); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

func runTap(cmd *cobra.Command, args []string) error {
	return withSession(cmd.Context(), func(s *session.Session) error {
		var earned int64
		for i := 0; i < tapCount; i++ {
			res, err := s.Click(cmd.Context())
			if printRejection(os.Stdout, err) {
				break
			}
			if err != nil {
				return err
			}
			earned += res.Reward
			if res.LevelUp.LeveledUp {
				fmt.Printf("Level up! Now level %d\n", res.LevelUp.NewLevel)
			}
		}
		fmt.Printf("+%d coins\n%s\n", earned, meter(s.State()))
		return nil
	})
}

func runConvert(cmd *cobra.Command, args []string) error {
	return withSession(cmd.Context(), func(s *session.Session) error {
		return convertOnce(cmd.Context(), s)
	})
}

func convertOnce(ctx context.Context, s *session.Session) error {
	res, err := s.Convert(ctx)
	if printRejection(os.Stdout, err) {
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("Converted %d coins into %d points (%d points total)\n",
		res.Conversion.CoinsSpent, res.Conversion.PointsAwarded, res.Entry.Balance)
	return nil
}

func runPlay(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	return withSession(ctx, func(s *session.Session) error {
		go s.Run(ctx, nil)

		fmt.Println(">>> enter taps, c converts, q quits")
		fmt.Println(meter(s.State()))
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			switch strings.TrimSpace(scanner.Text()) {
			case "q", "/bye", "/quit":
				fmt.Println("Goodbye!")
				return nil
			case "c":
				if err := convertOnce(ctx, s); err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				}
			default:
				res, err := s.Click(ctx)
				if printRejection(os.Stdout, err) {
					continue
				}
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					continue
				}
				if res.LevelUp.LeveledUp {
					fmt.Printf("Level up! Now level %d\n", res.LevelUp.NewLevel)
				}
			}
			fmt.Println(meter(s.State()))
		}
		return scanner.Err()
	})
}
