package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cuemby/swms/pkg/client"
	"github.com/cuemby/swms/pkg/console"
	"github.com/cuemby/swms/pkg/guard"
	"github.com/cuemby/swms/pkg/types"
	"github.com/spf13/cobra"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage user accounts (Admin)",
}

// withAdmin runs fn when the stored session belongs to an administrator
func withAdmin(cmd *cobra.Command, fn func(ctx context.Context, c *console.Console) error) error {
	return withConsole(cmd, func(ctx context.Context, c *console.Console) error {
		if err := requireSession(c); err != nil {
			return err
		}
		if !c.Session.HasRole(types.RoleAdmin) {
			return fmt.Errorf("this command requires the %s role", types.RoleAdmin)
		}
		return fn(ctx, c)
	})
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAdmin(cmd, func(ctx context.Context, c *console.Console) error {
			users, err := c.Client.ListUsers(ctx)
			if err != nil {
				return fmt.Errorf("%s", client.Message(err))
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tEMAIL\tROLES\tACTIVE\tTEMP PASSWORD\tCREATED")
			for _, u := range users {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\t%t\t%s\n",
					u.UserID, u.FullName, u.Email, strings.Join(u.Roles, ","),
					u.IsActive, u.IsTempPassword, types.FormatDate(u.CreatedDate.Format(time.RFC3339)))
			}
			return w.Flush()
		})
	},
}

var usersGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show one user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseUserID(args[0])
		if err != nil {
			return err
		}

		return withAdmin(cmd, func(ctx context.Context, c *console.Console) error {
			u, err := c.Client.GetUser(ctx, id)
			if err != nil {
				return fmt.Errorf("%s", client.Message(err))
			}
			printUser(u)
			return nil
		})
	},
}

var usersCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user with a temporary password",
	Long: `Create a user. The backend generates a temporary password and
emails it; the user must change it on first login.

Examples:
  swms users create --name "Jane Doe" --email jane@example.com --role User
  swms users create --name "Ops Lead" --email ops@example.com --role Manager --role User`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		email, _ := cmd.Flags().GetString("email")
		employeeNo, _ := cmd.Flags().GetString("employee-no")
		documentNo, _ := cmd.Flags().GetString("document-no")
		roles, _ := cmd.Flags().GetStringSlice("role")

		roleIDs, err := resolveRoles(roles)
		if err != nil {
			return err
		}

		return withAdmin(cmd, func(ctx context.Context, c *console.Console) error {
			u, err := c.Client.CreateUser(ctx, types.CreateUserRequest{
				DocumentEmployeeNo: documentNo,
				EmployeeNo:         employeeNo,
				FullName:           name,
				Email:              email,
				RoleIDs:            roleIDs,
			})
			if err != nil {
				return fmt.Errorf("%s", client.Message(err))
			}
			fmt.Printf("✓ User created (ID %d)\n", u.UserID)
			fmt.Println("  A temporary password has been sent to the user.")
			return nil
		})
	},
}

var usersUpdateCmd = &cobra.Command{
	Use:   "update ID",
	Short: "Update a user",
	Long: `Update a user. Fields that are not given keep their current value.

Examples:
  swms users update 7 --name "Jane Smith"
  swms users update 7 --role Admin --active=false`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseUserID(args[0])
		if err != nil {
			return err
		}

		return withAdmin(cmd, func(ctx context.Context, c *console.Console) error {
			current, err := c.Client.GetUser(ctx, id)
			if err != nil {
				return fmt.Errorf("%s", client.Message(err))
			}

			req := types.UpdateUserRequest{
				UserID:             id,
				DocumentEmployeeNo: current.DocumentEmployeeNo,
				EmployeeNo:         current.EmployeeNo,
				FullName:           current.FullName,
				Email:              current.Email,
				IsActive:           current.IsActive,
			}
			roles := current.Roles

			flags := cmd.Flags()
			if flags.Changed("name") {
				req.FullName, _ = flags.GetString("name")
			}
			if flags.Changed("email") {
				req.Email, _ = flags.GetString("email")
			}
			if flags.Changed("employee-no") {
				req.EmployeeNo, _ = flags.GetString("employee-no")
			}
			if flags.Changed("document-no") {
				req.DocumentEmployeeNo, _ = flags.GetString("document-no")
			}
			if flags.Changed("active") {
				req.IsActive, _ = flags.GetBool("active")
			}
			if flags.Changed("role") {
				roles, _ = flags.GetStringSlice("role")
			}

			if req.RoleIDs, err = resolveRoles(roles); err != nil {
				return err
			}

			if err := c.Client.UpdateUser(ctx, id, req); err != nil {
				return fmt.Errorf("%s", client.Message(err))
			}
			fmt.Printf("✓ User %d updated\n", id)
			return nil
		})
	},
}

// adminActionCmd builds the single-ID admin commands that only report success
func adminActionCmd(use, short, done string, action func(c *client.Client, ctx context.Context, id int64) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			return withAdmin(cmd, func(ctx context.Context, c *console.Console) error {
				if err := action(c.Client, ctx, id); err != nil {
					return fmt.Errorf("%s", client.Message(err))
				}
				fmt.Printf("✓ User %d %s\n", id, done)
				return nil
			})
		},
	}
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Show dashboard statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConsole(cmd, func(ctx context.Context, c *console.Console) error {
			if err := requireSession(c); err != nil {
				return err
			}

			// The request refreshes an expired access token before the guard looks at it
			stats, err := c.Client.DashboardStats(ctx)
			if err != nil {
				return fmt.Errorf("%s", client.Message(err))
			}

			route := guard.RouteUserDashboard
			if c.Session.HasRole(types.RoleAdmin) {
				route = guard.RouteAdminDashboard
			}
			if decision, at := c.Navigator.Navigate(route); decision != guard.Allow {
				return fmt.Errorf("cannot open %s: %s (now at %s)", route, decision, at)
			}

			fmt.Printf("Dashboard (%s)\n", route)
			printStat("Total users", stats.TotalUsers)
			printStat("New users this month", stats.NewUsersThisMonth)
			printStat("Pending notifications", stats.PendingNotifications)
			printStat("Today's activities", stats.TodayActivities)
			printStat("Unread notifications", stats.UnreadNotifications)
			printStat("Weekly activities", stats.WeeklyActivities)
			if stats.LastLogin != nil {
				fmt.Printf("  %-24s %s\n", "Last login", types.FormatDateTime(*stats.LastLogin))
			}
			return nil
		})
	},
}

func init() {
	usersCmd.AddCommand(usersListCmd)
	usersCmd.AddCommand(usersGetCmd)
	usersCmd.AddCommand(usersCreateCmd)
	usersCmd.AddCommand(usersUpdateCmd)
	usersCmd.AddCommand(adminActionCmd("delete", "Delete a user", "deleted", (*client.Client).DeleteUser))
	usersCmd.AddCommand(adminActionCmd("deactivate", "Deactivate a user", "deactivated", (*client.Client).DeactivateUser))
	usersCmd.AddCommand(adminActionCmd("resend-password", "Send a new temporary password", "was sent a new temporary password", (*client.Client).ResendTemporaryPassword))

	for _, cmd := range []*cobra.Command{usersCreateCmd, usersUpdateCmd} {
		cmd.Flags().String("name", "", "Full name")
		cmd.Flags().String("email", "", "Email address")
		cmd.Flags().String("employee-no", "", "Employee number")
		cmd.Flags().String("document-no", "", "Document employee number")
		cmd.Flags().StringSlice("role", nil, "Role name, repeatable (Admin, Manager, User)")
	}
	usersUpdateCmd.Flags().Bool("active", true, "Whether the account is active")

	_ = usersCreateCmd.MarkFlagRequired("name")
	_ = usersCreateCmd.MarkFlagRequired("email")
}

func parseUserID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user ID %q", arg)
	}
	return id, nil
}

// resolveRoles maps role names to IDs, defaulting to User
func resolveRoles(roles []string) ([]int64, error) {
	if len(roles) == 0 {
		roles = []string{types.RoleUser}
	}
	ids := make([]int64, 0, len(roles))
	for _, role := range roles {
		id, ok := lookupRole(role)
		if !ok {
			return nil, fmt.Errorf("unknown role %q (want Admin, Manager or User)", role)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func lookupRole(role string) (int64, bool) {
	for name, id := range types.RoleIDs {
		if strings.EqualFold(name, role) {
			return id, true
		}
	}
	return 0, false
}

func printUser(u *types.User) {
	fmt.Printf("ID:            %d\n", u.UserID)
	fmt.Printf("Name:          %s\n", u.FullName)
	fmt.Printf("Email:         %s\n", u.Email)
	if u.EmployeeNo != "" {
		fmt.Printf("Employee No:   %s\n", u.EmployeeNo)
	}
	if u.DocumentEmployeeNo != "" {
		fmt.Printf("Document No:   %s\n", u.DocumentEmployeeNo)
	}
	fmt.Printf("Roles:         %s\n", strings.Join(u.Roles, ", "))
	fmt.Printf("Active:        %t\n", u.IsActive)
	fmt.Printf("Temp password: %t\n", u.IsTempPassword)
	fmt.Printf("Created:       %s\n", types.FormatDateTime(u.CreatedDate.Format(time.RFC3339)))
	if u.LastLoginDate != nil {
		fmt.Printf("Last login:    %s\n", types.FormatTimeAgo(*u.LastLoginDate, time.Now()))
	} else {
		fmt.Println("Last login:    never")
	}
}

func printStat(label string, value *int) {
	if value == nil {
		return
	}
	fmt.Printf("  %-24s %d\n", label, *value)
}
