package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gitlab.com/secp/services/syncroom/pkg/roomclient"
)

// loginCmd represents the login command
var loginCmd = &cobra.Command{
	Use:   "login [display_name]",
	Short: "Signs in as a guest and stores the session token.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := viper.GetString(nameKey)
		if len(args) == 1 {
			name = args[0]
		}

		ctx, cancel := requestContext()
		defer cancel()

		api := roomclient.NewAPI(viper.GetString(serverKey), "")
		resp, err := api.Anonymous(ctx, name)
		if err != nil {
			return err
		}

		if err := saveConfig(tokenKey, resp.Token); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Could not save token: %v\n", err)
			fmt.Fprintln(cmd.OutOrStdout(), resp.Token)
		}
		if name != "" {
			saveConfig(nameKey, resp.User.DisplayName)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", resp.User.DisplayName, resp.User.ID)
		return nil
	},
}

// whoamiCmd represents the whoami command
var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Shows the signed in user.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newAPI()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext()
		defer cancel()

		user, err := api.Me(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", user.DisplayName, user.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(whoamiCmd)
}
