package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/frahmantamala/facilities-console/internal/badge"
	"github.com/frahmantamala/facilities-console/internal/session"
	"github.com/spf13/cobra"
)

var (
	loginEmail    string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session",
	Long:  `Exchange operator credentials for tokens and persist them in the session store. A running console picks the new session up.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.close()

		password := loginPassword
		if password == "" {
			password = os.Getenv("FACILITIES_PASSWORD")
		}
		if password == "" {
			fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("failed to read password: %w", err)
			}
			password = strings.TrimSpace(line)
		}

		s, err := rt.client.Login(ctx, loginEmail, password)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s %s\n", displayName(s.Account, s.UserID()), badge.DefaultTheme.Render(badge.Role(s.Role())))
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear the session",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.close()

		if err := rt.client.Logout(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in operator",
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		s := rt.manager.Current()
		out := cmd.OutOrStdout()
		if !s.IsAuthenticated() {
			fmt.Fprintln(out, "Not signed in")
			return nil
		}

		fmt.Fprintf(out, "%s %s\n", displayName(s.Account, s.UserID()), badge.DefaultTheme.Render(badge.Role(s.Role())))
		if s.Account != nil && s.Account.Email != "" {
			fmt.Fprintf(out, "  email:   %s\n", s.Account.Email)
		}
		if exp, ok := s.AccessExpiresAt(); ok {
			state := "valid"
			if time.Now().After(exp) {
				state = "expired, refreshed on next request"
			}
			fmt.Fprintf(out, "  access:  %s (%s)\n", exp.Local().Format(time.RFC1123), state)
		}
		fmt.Fprintf(out, "  grants:  %d\n", len(s.Permissions()))
		return nil
	},
}

func displayName(account *session.Account, fallback string) string {
	if account != nil && account.Name != "" {
		return account.Name
	}
	return fallback
}

func init() {
	loginCmd.Flags().StringVarP(&loginEmail, "email", "e", "", "operator email")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "operator password (prompted when empty)")
	_ = loginCmd.MarkFlagRequired("email")
}
