package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"wa-console/internal/api"
	"wa-console/internal/store"
)

var (
	loginIdentifier string
	loginPassword   string

	registerReq api.RegisterRequest

	profileUpdate api.ProfileUpdate
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with email or username",
	RunE: func(cmd *cobra.Command, args []string) error {
		in := bufio.NewReader(cmd.InOrStdin())
		if loginIdentifier == "" {
			loginIdentifier = prompt(in, cmd.OutOrStdout(), "Email or username: ")
		}
		if loginPassword == "" {
			loginPassword = prompt(in, cmd.OutOrStdout(), "Password: ")
		}
		user, err := application.Client.API.Login(ctx(), loginIdentifier, loginPassword)
		if err != nil {
			return fmt.Errorf("login failed: %s", api.Message(err, "invalid credentials"))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", displayName(user))
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and sign in",
	RunE: func(cmd *cobra.Command, args []string) error {
		if registerReq.Email == "" || registerReq.Username == "" || registerReq.Password == "" {
			return fmt.Errorf("--email, --username and --password are required")
		}
		user, err := application.Client.API.Register(ctx(), registerReq)
		if err != nil {
			return fmt.Errorf("registration failed: %s", api.Message(err, "registration failed"))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Welcome, %s\n", displayName(user))
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget local credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := application.Client.API.Logout(ctx()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
		return nil
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show or update the signed-in profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			user *store.User
			err  error
		)
		if profileUpdate != (api.ProfileUpdate{}) {
			user, err = application.Client.API.UpdateProfile(ctx(), profileUpdate)
		} else {
			user, err = application.Client.API.Profile(ctx())
		}
		if err != nil {
			return err
		}
		printProfile(cmd.OutOrStdout(), user)
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginIdentifier, "user", "u", "", "Email or username")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Password")

	registerCmd.Flags().StringVar(&registerReq.Email, "email", "", "Email address")
	registerCmd.Flags().StringVar(&registerReq.Username, "username", "", "Username")
	registerCmd.Flags().StringVar(&registerReq.Password, "password", "", "Password")
	registerCmd.Flags().StringVar(&registerReq.FullName, "full-name", "", "Full name")
	registerCmd.Flags().StringVar(&registerReq.Phone, "phone", "", "Phone number")

	profileCmd.Flags().StringVar(&profileUpdate.FullName, "full-name", "", "New full name")
	profileCmd.Flags().StringVar(&profileUpdate.Phone, "phone", "", "New phone number")
	profileCmd.Flags().StringVar(&profileUpdate.AvatarURL, "avatar", "", "New avatar URL")
}

func prompt(in *bufio.Reader, out io.Writer, label string) string {
	fmt.Fprint(out, label)
	line, _ := in.ReadString('\n')
	return strings.TrimSpace(line)
}

func displayName(u *store.User) string {
	switch {
	case u == nil:
		return "unknown user"
	case u.FullName != "":
		return u.FullName
	case u.Username != "":
		return u.Username
	default:
		return u.Email
	}
}

func printProfile(w io.Writer, u *store.User) {
	fmt.Fprintf(w, "Name:         %s\n", displayName(u))
	fmt.Fprintf(w, "Email:        %s\n", u.Email)
	fmt.Fprintf(w, "Username:     %s\n", u.Username)
	if u.Phone != "" {
		fmt.Fprintf(w, "Phone:        %s\n", u.Phone)
	}
	if u.SubscriptionTier != "" {
		fmt.Fprintf(w, "Plan:         %s (%s)\n", u.SubscriptionTier, u.SubscriptionStatus)
	}
	fmt.Fprintf(w, "Max sessions: %d\n", u.Limits.MaxSessions)
}
