package main

import (
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local dashboard API with live updates",
	Long: `Serves the local JSON dashboard (sessions, QR images, campaigns, chats,
statistics and notifications) while following push updates and
refreshing the session list in the background. Stops on Ctrl+C.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveAddr != "" {
			application.Config.ListenAddr = serveAddr
		}
		return application.Serve()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")
}
