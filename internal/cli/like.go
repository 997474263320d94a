package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/confquest/confquest/internal/app/likes"
)

func init() {
	likeCmd.Flags().BoolVar(&likeShow, "show", false, "Only show the current state")
	rootCmd.AddCommand(likeCmd)
}

var likeShow bool

var likeCmd = &cobra.Command{
	Use:   "like TARGET",
	Short: "Toggle your like on a post",
	Args:  cobra.ExactArgs(1),
	RunE:  runLike,
}

func runLike(cmd *cobra.Command, args []string) error {
	local, user, err := openLocal()
	if err != nil {
		return err
	}
	defer local.Close()

	cache, err := local.Likes()
	if err != nil {
		return err
	}

	if likeShow {
		v, err := cache.View(cmd.Context(), args[0], user)
		if err != nil {
			return err
		}
		printLike(v)
		return nil
	}

	cache.SetObserver(func(v likes.View) {
		fmt.Print("… ")
		printLike(v)
	})
	v, err := cache.Toggle(cmd.Context(), args[0], user)
	if printRejection(os.Stdout, err) {
		printLike(v)
		return nil
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Like not saved, reverted:")
		printLike(v)
		return err
	}
	printLike(v)
	return nil
}

func printLike(v likes.View) {
	heart := "♡"
	if v.Liked {
		heart = "♥"
	}
	fmt.Printf("%s %s %d\n", heart, v.TargetID, v.Count)
}
