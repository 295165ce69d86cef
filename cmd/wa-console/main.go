package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"wa-console/internal/app"
	"wa-console/internal/infra/config"
)

var (
	// Global flags
	configPath string
	verbose    bool

	application *app.App
)

var rootCmd = &cobra.Command{
	Use:   "wa-console",
	Short: "Manage messaging sessions, campaigns and chats",
	Long: `wa-console links messaging sessions by QR code, sends single and bulk
campaigns and follows chats live, against the session, chat and auth
services configured in the config file or WACONSOLE_* variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if verbose {
			cfg.LogLevel = "DEBUG"
		}
		application, err = app.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "JSON config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(loginCmd, registerCmd, logoutCmd, profileCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(campaignCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(serveCmd)
}

func ctx() context.Context {
	return application.Context()
}

// sessionArg returns the session named on the command line or the
// selected one.
func sessionArg(args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	id, err := application.Sessions.Current(ctx())
	if err != nil {
		return "", fmt.Errorf("%w, pass a session id or run 'wa-console sessions use <id>'", err)
	}
	return id, nil
}

func main() {
	err := rootCmd.Execute()
	if application != nil {
		if serr := application.Shutdown(); serr != nil {
			fmt.Fprintf(os.Stderr, "Shutdown: %v\n", serr)
		}
	}
	if err != nil {
		os.Exit(1)
	}
}
