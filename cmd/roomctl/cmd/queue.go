package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"gitlab.com/secp/services/syncroom/internal/queue"
	"gitlab.com/secp/services/syncroom/pkg/roomclient"
)

// queueCmd groups queue commands
var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Lists and edits a room queue.",
}

var queueListCmd = &cobra.Command{
	Use:   "list <room_id>",
	Short: "Prints the queue, marking the current track.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, err := parseRoomID(args[0])
		if err != nil {
			return err
		}
		api, err := newAPI()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext()
		defer cancel()

		snap, err := api.Queue(ctx, roomID)
		if err != nil {
			return err
		}
		printQueue(cmd.OutOrStdout(), snap.Items, snap.CurrentIndex)
		return nil
	},
}

var queueAddCmd = &cobra.Command{
	Use:   "add <room_id> <track_id>",
	Short: "Appends a track and tells listeners to refresh.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		return withSession(cmd, args[0], func(ctx context.Context, s *roomclient.Session) error {
			item, err := s.AddTrack(ctx, queue.AppendInput{TrackID: args[1], Title: title})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s at position %d\n", item.Title, item.Order)
			return nil
		})
	},
}

var queueRemoveCmd = &cobra.Command{
	Use:   "rm <room_id> <item_id>",
	Short: "Removes a queue item.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		itemID, err := uuid.Parse(args[1])
		if err != nil {
			return errors.Errorf("invalid item id %q", args[1])
		}
		return withSession(cmd, args[0], func(ctx context.Context, s *roomclient.Session) error {
			res, err := s.RemoveTrack(ctx, itemID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed position %d, now playing position %d\n", res.DeletedOrder, res.NewIndex)
			return nil
		})
	},
}

var queueMoveCmd = &cobra.Command{
	Use:   "mv <room_id> <item_id> <position>",
	Short: "Moves a queue item to a new position.",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		itemID, err := uuid.Parse(args[1])
		if err != nil {
			return errors.Errorf("invalid item id %q", args[1])
		}
		var order int
		if _, err := fmt.Sscanf(args[2], "%d", &order); err != nil {
			return errors.Errorf("invalid position %q", args[2])
		}
		return withSession(cmd, args[0], func(ctx context.Context, s *roomclient.Session) error {
			res, err := s.MoveTrack(ctx, itemID, order)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Moved %d -> %d\n", res.OldOrder, res.NewOrder)
			return nil
		})
	},
}

func init() {
	queueAddCmd.Flags().String("title", "", "Title to show instead of the looked up one")
	queueCmd.AddCommand(queueListCmd, queueAddCmd, queueRemoveCmd, queueMoveCmd)
	rootCmd.AddCommand(queueCmd)
}
