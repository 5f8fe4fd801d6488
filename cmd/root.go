// Package cmd initializes the CLI, the configuration and the logger
package cmd

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"scuffedchat/config"
	"scuffedchat/logging"
)

var v = config.New()

// rootCmd runs the chat client when called without a subcommand
var rootCmd = &cobra.Command{
	Use:   "scuffedchat",
	Short: "Terminal chat client for the ScuffedChat backend",
	Long: `scuffedchat connects to a ScuffedChat backend, keeps the contact list and
presence in sync and lets you chat and send files from the terminal.

Run "scuffedchat devserver" for a local backend with preset users.`,
	Args:              cobra.NoArgs,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
	RunE:              runChat,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	flags := rootCmd.PersistentFlags()
	flags.String("server", "", "backend base URL (env SERVER_URL)")
	flags.String("log-level", "", "debug, info, warn or error (env LOG_LEVEL)")
	flags.String("env-file", ".env", "file loaded into the environment before reading settings")

	// Flags win over the environment only when set.
	_ = v.BindPFlag(config.KeyServerURL, flags.Lookup("server"))
	_ = v.BindPFlag(config.KeyLogLevel, flags.Lookup("log-level"))

	rootCmd.AddCommand(chatCmd, devserverCmd)
}

func initConfig(cmd *cobra.Command, _ []string) error {
	envFile, err := cmd.Flags().GetString("env-file")
	if err != nil {
		return err
	}
	if err := config.LoadEnvFile(envFile); err != nil {
		return err
	}
	if err := logging.Setup(os.Stderr, v.GetString(config.KeyLogLevel)); err != nil {
		return errors.Wrap(err, "logging")
	}
	return nil
}
