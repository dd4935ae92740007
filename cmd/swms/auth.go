package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cuemby/swms/pkg/console"
	"github.com/cuemby/swms/pkg/guard"
	"github.com/cuemby/swms/pkg/types"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and store the session",
	Long: `Log in with email and password. The session is stored in the
configured token store and reused by every other command until logout.

Examples:
  swms login --email a@b.com
  SWMS_STORE=memory swms login --email a@b.com --password 'Secret1!'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")

		var err error
		if email == "" {
			if email, err = prompt("Email: "); err != nil {
				return err
			}
		}
		if password == "" {
			if password, err = promptSecret("Password: "); err != nil {
				return err
			}
		}

		return withConsole(cmd, func(ctx context.Context, c *console.Console) error {
			out := c.Session.Login(ctx, types.Credentials{Email: email, Password: password})
			if !out.OK {
				return errors.New(out.Message)
			}

			profile := out.Value
			fmt.Printf("✓ Logged in as %s <%s>\n", profile.FullName, profile.Email)
			fmt.Printf("  Roles: %s\n", strings.Join(profile.Roles, ", "))
			if profile.MustChangePassword() {
				fmt.Println()
				fmt.Println("Your password is temporary. Run 'swms passwd' before continuing.")
			}
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out and clear the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConsole(cmd, func(ctx context.Context, c *console.Console) error {
			c.Session.Logout(ctx)
			fmt.Println("✓ Logged out")
			return nil
		})
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged-in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConsole(cmd, func(ctx context.Context, c *console.Console) error {
			profile, ok := c.Session.CurrentUser()
			if !ok {
				return errors.New("not logged in")
			}

			fmt.Printf("User:      %s <%s>\n", profile.FullName, profile.Email)
			fmt.Printf("User ID:   %d\n", profile.UserID)
			if profile.EmployeeNo != "" {
				fmt.Printf("Employee:  %s\n", profile.EmployeeNo)
			}
			fmt.Printf("Roles:     %s\n", strings.Join(profile.Roles, ", "))
			fmt.Printf("Admin:     %t\n", guard.IsAdmin(profile.Roles))

			if exp, ok := c.Session.AccessTokenExpiry(); ok {
				fmt.Printf("Token exp: %s\n", types.FormatDateTime(exp.Format(time.RFC3339)))
			}
			if !c.Session.IsAuthenticated() {
				fmt.Println("Access token expired; it will be refreshed on the next request.")
			}
			if c.Session.MustChangePassword() {
				fmt.Println("Password change required.")
			}
			return nil
		})
	},
}

var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Change your password",
	RunE: func(cmd *cobra.Command, args []string) error {
		current, _ := cmd.Flags().GetString("current")
		next, _ := cmd.Flags().GetString("new")
		confirm, _ := cmd.Flags().GetString("confirm")

		var err error
		if current == "" {
			if current, err = promptSecret("Current password: "); err != nil {
				return err
			}
		}
		if next == "" {
			if next, err = promptSecret("New password: "); err != nil {
				return err
			}
		}
		if confirm == "" {
			if confirm, err = promptSecret("Confirm new password: "); err != nil {
				return err
			}
		}

		return withConsole(cmd, func(ctx context.Context, c *console.Console) error {
			if err := requireSession(c); err != nil {
				return err
			}

			out := c.Session.ChangePassword(ctx, types.ChangePasswordRequest{
				CurrentPassword: current,
				NewPassword:     next,
				ConfirmPassword: confirm,
			})
			if !out.OK {
				return errors.New(out.Message)
			}
			fmt.Printf("✓ %s\n", out.Message)
			return nil
		})
	},
}

func init() {
	loginCmd.Flags().String("email", "", "Account email")
	loginCmd.Flags().String("password", "", "Account password (prompted when empty)")

	passwdCmd.Flags().String("current", "", "Current password (prompted when empty)")
	passwdCmd.Flags().String("new", "", "New password (prompted when empty)")
	passwdCmd.Flags().String("confirm", "", "New password again (prompted when empty)")
}

var stdin = bufio.NewReader(os.Stdin)

func prompt(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// promptSecret reads without echo on a terminal and falls back to a plain
// line read when stdin is piped
func promptSecret(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return prompt(label)
	}

	fmt.Fprint(os.Stderr, label)
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(secret), nil
}
