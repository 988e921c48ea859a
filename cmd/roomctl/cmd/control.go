package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"gitlab.com/secp/services/syncroom/pkg/roomclient"
)

var playCmd = &cobra.Command{
	Use:   "play <room_id>",
	Short: "Starts playback for everyone in the room (host only).",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seek, _ := cmd.Flags().GetFloat64("seek")
		return withSession(cmd, args[0], func(ctx context.Context, s *roomclient.Session) error {
			return s.Play(seek)
		})
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause <room_id>",
	Short: "Pauses playback for everyone in the room (host only).",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seek, _ := cmd.Flags().GetFloat64("seek")
		return withSession(cmd, args[0], func(ctx context.Context, s *roomclient.Session) error {
			return s.Pause(seek)
		})
	},
}

var nextCmd = &cobra.Command{
	Use:   "next <room_id>",
	Short: "Skips to the next track (host only).",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, args[0], func(ctx context.Context, s *roomclient.Session) error {
			if err := s.Next(ctx); err != nil {
				return err
			}
			return printCurrent(cmd, s)
		})
	},
}

var prevCmd = &cobra.Command{
	Use:     "prev <room_id>",
	Aliases: []string{"previous"},
	Short:   "Goes back to the previous track (host only).",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, args[0], func(ctx context.Context, s *roomclient.Session) error {
			if err := s.Previous(ctx); err != nil {
				return err
			}
			return printCurrent(cmd, s)
		})
	},
}

var themeCmd = &cobra.Command{
	Use:   "theme <room_id> <theme>",
	Short: "Sets the room theme (host only).",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, args[0], func(ctx context.Context, s *roomclient.Session) error {
			return s.SetTheme(ctx, args[1])
		})
	},
}

func printCurrent(cmd *cobra.Command, s *roomclient.Session) error {
	if item := s.Current(); item != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Now on %d: %s\n", item.Order, item.Title)
	}
	return nil
}

func init() {
	playCmd.Flags().Float64("seek", 0, "Position in seconds to start from")
	pauseCmd.Flags().Float64("seek", 0, "Position in seconds to pause at")
	rootCmd.AddCommand(playCmd, pauseCmd, nextCmd, prevCmd, themeCmd)
}
