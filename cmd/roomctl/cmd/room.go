package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"gitlab.com/secp/services/syncroom/internal/models"
)

// roomCmd groups room management commands
var roomCmd = &cobra.Command{
	Use:   "room",
	Short: "Creates, inspects and deletes rooms.",
}

var roomCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Creates a room hosted by you.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newAPI()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext()
		defer cancel()

		room, err := api.CreateRoom(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), room.ID)
		return nil
	},
}

var roomShowCmd = &cobra.Command{
	Use:   "show <room_id>",
	Short: "Shows a room, its host and its queue.",
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

		bundle, err := api.Bundle(ctx, roomID)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s  hosted by %s  (you are %s)\n", bundle.Room.Name, bundle.Host.DisplayName, bundle.Role)
		if bundle.Room.Theme != "" {
			fmt.Fprintf(out, "theme: %s\n", bundle.Room.Theme)
		}
		printQueue(out, bundle.Queue, bundle.CurrentIndex)
		return nil
	},
}

var roomJoinCmd = &cobra.Command{
	Use:   "join <room_id>",
	Short: "Becomes a member of a room.",
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
		return api.JoinRoom(ctx, roomID)
	},
}

var roomDeleteCmd = &cobra.Command{
	Use:   "delete <room_id>",
	Short: "Deletes a room you host.",
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
		return api.DeleteRoom(ctx, roomID)
	},
}

var roomWhoCmd = &cobra.Command{
	Use:   "who <room_id>",
	Short: "Lists who is listening right now.",
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

		entries, err := api.Presence(ctx, roomID)
		if err != nil {
			return err
		}
		printPresence(cmd.OutOrStdout(), entries)
		return nil
	},
}

func printQueue(out io.Writer, items []*models.QueueItem, current int) {
	if len(items) == 0 {
		fmt.Fprintln(out, "(queue is empty)")
		return
	}
	for _, item := range items {
		marker := " "
		if item.Order == current {
			marker = ">"
		}
		fmt.Fprintf(out, "%s %2d  %-40s  %s  %s\n", marker, item.Order, item.Title, item.TrackID, item.ID)
	}
}

func printPresence(out io.Writer, entries []models.PresenceEntry) {
	for _, e := range entries {
		fmt.Fprintf(out, "  %s (%s)\n", e.Name, e.UserID)
	}
}

func init() {
	roomCmd.AddCommand(roomCreateCmd, roomShowCmd, roomJoinCmd, roomDeleteCmd, roomWhoCmd)
	rootCmd.AddCommand(roomCmd)
}
