package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"gitlab.com/secp/services/syncroom/internal/models"
	"gitlab.com/secp/services/syncroom/pkg/roomclient"
)

// printMedia stands in for a player by printing every transport action
type printMedia struct {
	out io.Writer
}

func (m printMedia) log(format string, args ...interface{}) error {
	fmt.Fprintf(m.out, "%s  "+format+"\n", append([]interface{}{time.Now().Format("15:04:05.000")}, args...)...)
	return nil
}

func (m printMedia) Load(trackID string) error  { return m.log("load %s", trackID) }
func (m printMedia) Seek(seconds float64) error { return m.log("seek %.1fs", seconds) }
func (m printMedia) Play() error                { return m.log("play") }
func (m printMedia) Pause() error               { return m.log("pause") }

// openSession signs in with the configured token, connects and opens roomArg
func openSession(ctx context.Context, out io.Writer, roomArg string, log *zap.Logger) (*roomclient.Session, error) {
	roomID, err := parseRoomID(roomArg)
	if err != nil {
		return nil, err
	}
	api, err := newAPI()
	if err != nil {
		return nil, err
	}

	conn, err := roomclient.Dial(ctx, api.BaseURL, api.Token, log)
	if err != nil {
		return nil, err
	}

	name := viper.GetString(nameKey)
	if name == "" {
		if me, err := api.Me(ctx); err == nil {
			name = me.DisplayName
		}
	}

	s, err := roomclient.Open(ctx, api, conn, roomID, roomclient.Options{
		Name:  name,
		Media: printMedia{out: out},
		Log:   log,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// withSession runs fn against a short lived session
func withSession(cmd *cobra.Command, roomArg string, fn func(ctx context.Context, s *roomclient.Session) error) error {
	log := newLogger()
	defer log.Sync()

	ctx, cancel := requestContext()
	defer cancel()

	s, err := openSession(ctx, io.Discard, roomArg, log)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

// listenCmd represents the listen command
var listenCmd = &cobra.Command{
	Use:   "listen <room_id>",
	Short: "Follows a room live, printing playback and room events.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		defer log.Sync()
		out := cmd.OutOrStdout()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		openCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		s, err := openSession(openCtx, out, args[0], log)
		cancel()
		if err != nil {
			return err
		}
		defer s.Close()

		fmt.Fprintf(out, "Listening to %s as %s, ctrl-c to stop\n", s.RoomID(), roleName(s.IsHost()))
		snap := s.Queue()
		printQueue(out, snap.Items, snap.CurrentIndex)

		err = s.Run(ctx, func(msg models.WSMessage) {
			switch msg.Type {
			case models.EventRoomPresence:
				fmt.Fprintln(out, "listeners:")
				printPresence(out, s.Presence())
			case models.EventQueueUpdated, models.EventQueueRemoved:
				snap := s.Queue()
				printQueue(out, snap.Items, snap.CurrentIndex)
			case models.EventThemeChanged:
				fmt.Fprintf(out, "theme is now %q\n", s.Theme())
			case models.EventRoomClosed:
				fmt.Fprintln(out, "room closed by host")
			}
		})
		if errors.Is(err, context.Canceled) || errors.Is(err, roomclient.ErrRoomClosed) {
			return nil
		}
		return err
	},
}

func roleName(host bool) string {
	if host {
		return "host"
	}
	return "listener"
}

func init() {
	rootCmd.AddCommand(listenCmd)
}
