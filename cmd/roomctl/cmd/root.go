package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"gitlab.com/secp/services/syncroom/internal/logger"
	"gitlab.com/secp/services/syncroom/pkg/roomclient"
)

var cfgFile string

const (
	serverKey   = "server"
	tokenKey    = "token"
	nameKey     = "name"
	logLevelKey = "log_level"

	requestTimeout = 10 * time.Second
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "roomctl",
	Short: "Command line client for synchronized listening rooms",
	Long: `roomctl talks to a room server: it signs in, manages rooms and their
queue, controls playback as the host and follows a room live.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.roomctl.yaml)")
	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "Base URL of the room server")
	rootCmd.PersistentFlags().String("token", "", "Session token (set by login)")
	rootCmd.PersistentFlags().String("name", "", "Display name shown to other listeners")
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")

	viper.BindPFlag(serverKey, rootCmd.PersistentFlags().Lookup("server"))
	viper.BindPFlag(tokenKey, rootCmd.PersistentFlags().Lookup("token"))
	viper.BindPFlag(nameKey, rootCmd.PersistentFlags().Lookup("name"))
	viper.BindPFlag(logLevelKey, rootCmd.PersistentFlags().Lookup("log-level"))
	viper.SetDefault(serverKey, "http://localhost:8080")
	viper.SetDefault(logLevelKey, "warn")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".roomctl" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".roomctl")
	}

	viper.SetEnvPrefix("ROOMCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintln(os.Stderr, "Error reading config file:", err)
		}
	}
}

// saveConfig persists key into the config file, creating it if needed
func saveConfig(key, value string) error {
	viper.Set(key, value)
	if err := viper.WriteConfig(); err == nil {
		return nil
	}

	path := cfgFile
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		path = home + string(os.PathSeparator) + ".roomctl.yaml"
	}
	return viper.WriteConfigAs(path)
}

func newLogger() *zap.Logger {
	log, err := logger.New(viper.GetString(logLevelKey), "console")
	if err != nil {
		return zap.NewNop()
	}
	return log
}

// newAPI returns a client for the configured server. It fails when no token
// is available.
func newAPI() (*roomclient.API, error) {
	token := viper.GetString(tokenKey)
	if token == "" {
		return nil, errors.New("not signed in, run roomctl login first")
	}
	return roomclient.NewAPI(viper.GetString(serverKey), token), nil
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}

func parseRoomID(arg string) (uuid.UUID, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return uuid.Nil, errors.Errorf("invalid room id %q", arg)
	}
	return id, nil
}
