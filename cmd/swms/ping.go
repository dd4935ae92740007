package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/swms/pkg/console"
	"github.com/cuemby/swms/pkg/guard"
	"github.com/cuemby/swms/pkg/health"
	"github.com/cuemby/swms/pkg/security"
	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the backend is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		var hc *http.Client
		if cfg.CAFile != "" {
			tlsConfig, err := security.ClientTLSConfig(cfg.CAFile)
			if err != nil {
				return err
			}
			hc = &http.Client{Transport: &http.Transport{TLSClientConfig: tlsConfig}}
		}

		fmt.Printf("Checking %s\n", cfg.APIBaseURL)
		healthy := true
		for _, result := range health.Probe(ctx, cfg.APIBaseURL, hc) {
			mark := "✓"
			if !result.Healthy {
				mark = "✗"
				healthy = false
			}
			fmt.Printf("  %s %-22s %s (%s)\n", mark, result.Check, result.Message, result.Duration.Round(time.Millisecond))
		}

		if !healthy {
			return errors.New("backend check failed")
		}
		fmt.Println("Backend is reachable")
		return nil
	},
}

var openCmd = &cobra.Command{
	Use:   "open ROUTE",
	Short: "Check whether the current session may open a console route",
	Long: `Run the route guard for ROUTE against the stored session and print the
decision and the location it leads to.

Routes: /login, /change-password, /dashboard, /admin/dashboard,
/user/dashboard, /admin/users, /notifications, /profile`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConsole(cmd, func(ctx context.Context, c *console.Console) error {
			decision, at := c.Navigator.Navigate(args[0])
			fmt.Printf("%s -> %s (at %s)\n", guard.Resolve(args[0]), decision, at)
			if decision == guard.Allow && at == guard.RouteLogin && c.Session.IsAuthenticated() {
				fmt.Println("Already logged in.")
			}
			return nil
		})
	},
}
