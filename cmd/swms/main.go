package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/cuemby/swms/pkg/config"
	"github.com/cuemby/swms/pkg/console"
	"github.com/cuemby/swms/pkg/log"
	"github.com/cuemby/swms/pkg/metrics"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// cfg is loaded once per invocation by the root command
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "swms",
	Short: "swms - SWMS administration console",
	Long: `swms is the command line console for the SWMS backend.

It keeps an authenticated session on disk, refreshes access tokens
transparently, follows live notifications over the notification hub and
exposes the administrator user management API.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"swms version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to a YAML config file")
	flags.String("api", "", "REST API base URL (overrides config)")
	flags.String("hub", "", "Notification hub URL (overrides config)")
	flags.String("store", "", "Token store: bolt, redis or memory (overrides config)")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.Bool("json-logs", false, "Emit logs as JSON")
	flags.String("metrics-addr", "", "Serve /metrics, /health and /ready on this address while running")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(passwdCmd)
	rootCmd.AddCommand(notificationsCmd)
	rootCmd.AddCommand(usersCmd)
	rootCmd.AddCommand(dashboardCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(openCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")

	loaded, err := config.Load(path)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if v, _ := flags.GetString("api"); v != "" {
		loaded.APIBaseURL = v
	}
	if v, _ := flags.GetString("hub"); v != "" {
		loaded.HubURL = v
	}
	if v, _ := flags.GetString("store"); v != "" {
		loaded.Store = v
	}
	if v, _ := flags.GetString("log-level"); v != "" {
		loaded.LogLevel = v
	}
	if v, _ := flags.GetBool("json-logs"); v {
		loaded.JSONLogs = true
	}
	if v, _ := flags.GetString("metrics-addr"); v != "" {
		loaded.MetricsAddr = v
	}
	if err := loaded.Validate(); err != nil {
		return err
	}

	log.Init(log.Config{
		Level:      log.Level(loaded.LogLevel),
		JSONOutput: loaded.JSONLogs,
	})
	metrics.SetVersion(Version)

	cfg = loaded
	return nil
}

// openConsole builds a console over the configured store. The caller must
// Close it.
func openConsole(ctx context.Context) (*console.Console, error) {
	c, err := console.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open console: %w", err)
	}
	return c, nil
}

// withConsole runs fn with a console that is closed afterwards
func withConsole(cmd *cobra.Command, fn func(ctx context.Context, c *console.Console) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	c, err := openConsole(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger := log.WithComponent("cli")
			logger.Warn().Err(err).Msg("Failed to close console")
		}
	}()
	return fn(ctx, c)
}

// requireSession fails unless a usable session is stored
func requireSession(c *console.Console) error {
	if !c.Session.IsAuthenticated() {
		if _, ok := c.Tokens.RefreshToken(); !ok {
			return errors.New("not logged in, run 'swms login' first")
		}
	}
	return nil
}

// serveMetrics exposes the metrics mux until ctx is done
func serveMetrics(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	logger := log.WithComponent("cli")
	srv := &http.Server{Addr: addr, Handler: metrics.Mux(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info().Str("addr", addr).Msg("Serving metrics")
}
