package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/cuemby/swms/pkg/console"
	"github.com/cuemby/swms/pkg/events"
	"github.com/cuemby/swms/pkg/health"
	"github.com/cuemby/swms/pkg/session"
	"github.com/cuemby/swms/pkg/types"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var notificationsCmd = &cobra.Command{
	Use:     "notifications",
	Aliases: []string{"notif", "n"},
	Short:   "Read and follow notifications",
}

var notificationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		unreadOnly, _ := cmd.Flags().GetBool("unread")

		return withConsole(cmd, func(ctx context.Context, c *console.Console) error {
			if err := requireSession(c); err != nil {
				return err
			}
			if out := c.Inbox.Refresh(ctx); !out.OK {
				return errors.New(out.Message)
			}

			items := c.Inbox.Items()
			now := time.Now()

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tTITLE\tRECEIVED\tREAD")
			shown := 0
			for _, n := range items {
				if unreadOnly && n.IsRead {
					continue
				}
				read := "no"
				if n.IsRead {
					read = "yes"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", n.ID, n.Kind, n.Title, types.FormatTimeAgo(n.CreatedAt, now), read)
				shown++
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if shown == 0 {
				fmt.Println("No notifications")
			}
			fmt.Printf("\nUnread: %d\n", c.Inbox.UnreadCount())
			return nil
		})
	},
}

var notificationsReadCmd = &cobra.Command{
	Use:   "read ID",
	Short: "Mark a notification as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid notification ID %q", args[0])
		}

		return withConsole(cmd, func(ctx context.Context, c *console.Console) error {
			if err := requireSession(c); err != nil {
				return err
			}
			if out := c.Inbox.MarkRead(ctx, id); !out.OK {
				return errors.New(out.Message)
			}
			fmt.Printf("✓ Notification %d marked as read\n", id)
			return nil
		})
	},
}

var notificationsReadAllCmd = &cobra.Command{
	Use:   "read-all",
	Short: "Mark every notification as read",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConsole(cmd, func(ctx context.Context, c *console.Console) error {
			if err := requireSession(c); err != nil {
				return err
			}
			if out := c.Inbox.MarkAllRead(ctx); !out.OK {
				return errors.New(out.Message)
			}
			fmt.Println("✓ All notifications marked as read")
			return nil
		})
	},
}

var notificationsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow live notifications until interrupted",
	Long: `Connect to the notification hub and print every notification as it
arrives. The connection is re-established automatically; the command ends
on Ctrl+C or when the session can no longer be refreshed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConsole(cmd, func(ctx context.Context, c *console.Console) error {
			if err := requireSession(c); err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			lost := make(chan session.Change, 1)
			sub := c.Session.Subscribe(func(change session.Change) {
				if change == session.AuthLost || change == session.LoggedOut {
					select {
					case lost <- change:
					default:
					}
				}
			})
			defer c.Session.Unsubscribe(sub)

			c.Inbox.OnNotice(printNotice)

			serveMetrics(ctx, cfg.MetricsAddr)
			go health.Monitor(ctx, "backend", health.NewReachabilityChecker(cfg.APIBaseURL, "/"), health.DefaultConfig())

			c.Start(ctx)
			c.Realtime.On(events.EventStateChanged, func(event *events.Event) {
				if state, ok := event.Payload.(types.ConnectionState); ok {
					fmt.Fprintf(os.Stderr, "[%s] connection %s\n", time.Now().Format("15:04:05"), state)
				}
			})

			fmt.Printf("Watching notifications (unread: %d). Press Ctrl+C to stop.\n", c.Inbox.UnreadCount())

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			select {
			case <-sigCh:
				fmt.Println("\nStopping...")
				return nil
			case change := <-lost:
				if change == session.AuthLost {
					return errors.New("session expired, run 'swms login' again")
				}
				return errors.New("logged out")
			}
		})
	},
}

func init() {
	notificationsCmd.AddCommand(notificationsListCmd)
	notificationsCmd.AddCommand(notificationsReadCmd)
	notificationsCmd.AddCommand(notificationsReadAllCmd)
	notificationsCmd.AddCommand(notificationsWatchCmd)

	notificationsListCmd.Flags().Bool("unread", false, "Only show unread notifications")
}

var noticeColors = map[types.NotificationKind]*color.Color{
	types.NotificationInfo:    color.New(color.FgCyan),
	types.NotificationSuccess: color.New(color.FgGreen),
	types.NotificationWarning: color.New(color.FgYellow),
	types.NotificationError:   color.New(color.FgRed, color.Bold),
}

func printNotice(n types.Notification) {
	c, ok := noticeColors[n.Kind]
	if !ok {
		c = noticeColors[types.NotificationInfo]
	}
	label := c.Sprintf("%-7s", n.Kind)
	fmt.Printf("[%s] %s #%d %s: %s\n", time.Now().Format("15:04:05"), label, n.ID, n.Title, n.Message)
}
