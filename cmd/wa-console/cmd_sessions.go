package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"wa-console/internal/api"
	"wa-console/internal/service/session"
	"wa-console/internal/store"
)

var (
	createMobile string
	createName   string
	createNoLink bool

	linkQRFile string

	updateName     string
	updateActive   bool
	updateInactive bool
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"session"},
	Short:   "Manage linked sessions",
	RunE:    runSessionsList,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	RunE:  runSessionsList,
}

var sessionsAllCmd = &cobra.Command{
	Use:   "all",
	Short: "List every session the backend has persisted",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessions, err := application.Sessions.All(ctx())
		if err != nil {
			return err
		}
		printSessions(cmd.OutOrStdout(), sessions, "")
		return nil
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show [session-id]",
	Short: "Show session details",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := sessionArg(args)
		if err != nil {
			return err
		}
		sess, err := application.Sessions.Get(ctx(), id)
		if err != nil {
			return err
		}
		printSession(cmd.OutOrStdout(), sess)
		return nil
	},
}

var sessionsStatusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Show the live connection status",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := sessionArg(args)
		if err != nil {
			return err
		}
		sess, err := application.Sessions.Status(ctx(), id)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", sess.ID, sess.Status)
		return nil
	},
}

var sessionsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a session and link it by QR code",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := application.Sessions.Create(ctx(), session.CreateRequest{Mobile: createMobile, Name: createName})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Session %s created (%s)\n", sess.ID, sess.Status)
		if createNoLink {
			if sess.QRCode != "" {
				application.QR.Print(sess.QRCode)
			}
			return nil
		}
		return linkSession(cmd, sess.ID)
	},
}

var sessionsLinkCmd = &cobra.Command{
	Use:   "link [session-id]",
	Short: "Show the QR code and wait until the session connects",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := sessionArg(args)
		if err != nil {
			return err
		}
		return linkSession(cmd, id)
	},
}

var sessionsUpdateCmd = &cobra.Command{
	Use:   "update <session-id>",
	Short: "Rename or (de)activate a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		upd := api.SessionUpdate{SessionName: updateName}
		switch {
		case updateActive && updateInactive:
			return fmt.Errorf("--active and --inactive are mutually exclusive")
		case updateActive, updateInactive:
			active := updateActive
			upd.IsActive = &active
		}
		if upd.SessionName == "" && upd.IsActive == nil {
			return fmt.Errorf("nothing to update")
		}
		sess, err := application.Sessions.Update(ctx(), args[0], upd)
		if err != nil {
			return err
		}
		printSession(cmd.OutOrStdout(), sess)
		return nil
	},
}

var sessionsLogoutCmd = &cobra.Command{
	Use:   "logout <session-id>",
	Short: "Log a session out",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return application.Sessions.Logout(ctx(), args[0])
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return application.Sessions.Delete(ctx(), args[0])
	},
}

var sessionsRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restart all persisted sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := application.Sessions.Restore(ctx())
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	},
}

var sessionsUseCmd = &cobra.Command{
	Use:   "use <session-id>",
	Short: "Select the session other commands default to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := application.Sessions.Use(ctx(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Using session %s\n", args[0])
		return nil
	},
}

func init() {
	sessionsCreateCmd.Flags().StringVarP(&createMobile, "mobile", "m", "", "10 digit mobile number")
	sessionsCreateCmd.Flags().StringVarP(&createName, "name", "n", "", "Session name")
	sessionsCreateCmd.Flags().BoolVar(&createNoLink, "no-link", false, "Print the first QR code and return")
	sessionsCreateCmd.Flags().StringVar(&linkQRFile, "qr-file", "", "Also write each QR code to this PNG file")
	sessionsLinkCmd.Flags().StringVar(&linkQRFile, "qr-file", "", "Also write each QR code to this PNG file")

	sessionsUpdateCmd.Flags().StringVar(&updateName, "name", "", "New session name")
	sessionsUpdateCmd.Flags().BoolVar(&updateActive, "active", false, "Mark the session active")
	sessionsUpdateCmd.Flags().BoolVar(&updateInactive, "inactive", false, "Mark the session inactive")

	sessionsCmd.AddCommand(
		sessionsListCmd,
		sessionsAllCmd,
		sessionsShowCmd,
		sessionsStatusCmd,
		sessionsCreateCmd,
		sessionsLinkCmd,
		sessionsUpdateCmd,
		sessionsLogoutCmd,
		sessionsDeleteCmd,
		sessionsRestoreCmd,
		sessionsUseCmd,
	)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	sessions, err := application.Sessions.List(ctx())
	if err != nil {
		return err
	}
	current, _ := application.Sessions.Current(ctx())
	printSessions(cmd.OutOrStdout(), sessions, current)
	return nil
}

// linkSession runs the pairing flow in the foreground.
func linkSession(cmd *cobra.Command, id string) error {
	application.StartPush()
	out := cmd.OutOrStdout()

	return application.Sessions.Link(ctx(), id, session.Options{
		OnCountdown: application.QR.Countdown,
		OnQR: func(qr string) {
			application.QR.Print(qr)
			if linkQRFile != "" {
				if err := application.QR.SaveToFile(qr, linkQRFile); err != nil {
					application.Log.Warnf("%v", err)
				}
			}
		},
		OnConnected: func(sess *store.Session) {
			if err := application.Sessions.Use(ctx(), sess.ID); err != nil {
				application.Log.Warnf("Failed to select session: %v", err)
			}
			fmt.Fprintf(out, "Session %s is connected and selected\n", sess.ID)
		},
	})
}

func printSessions(w io.Writer, sessions []*store.Session, current string) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions found. Create one with 'wa-console sessions create'.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tNAME\tPHONE\tSTATUS\tLAST SEEN")
	for _, s := range sessions {
		mark := ""
		if s.ID == current {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", mark, s.ID, s.Name, s.PhoneNumber, s.Status, ago(s.LastSeen))
	}
	tw.Flush()
}

func printSession(w io.Writer, s *store.Session) {
	fmt.Fprintf(w, "ID:        %s\n", s.ID)
	fmt.Fprintf(w, "Name:      %s\n", s.Name)
	fmt.Fprintf(w, "Phone:     %s\n", s.PhoneNumber)
	fmt.Fprintf(w, "Status:    %s\n", s.Status)
	if !s.ConnectedAt.IsZero() {
		fmt.Fprintf(w, "Connected: %s\n", s.ConnectedAt.Local().Format(time.DateTime))
	}
	if s.IsActive != nil {
		fmt.Fprintf(w, "Active:    %t\n", *s.IsActive)
	}
	if s.Platform != "" {
		fmt.Fprintf(w, "Platform:  %s\n", strings.TrimSpace(s.Platform+" "+s.WAVersion))
	}
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t).Round(time.Second)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Local().Format(time.DateOnly)
	}
}
