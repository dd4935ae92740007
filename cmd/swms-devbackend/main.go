package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/swms/pkg/devbackend"
	"github.com/cuemby/swms/pkg/log"
	"github.com/cuemby/swms/pkg/metrics"
	"github.com/cuemby/swms/pkg/security"
	"github.com/cuemby/swms/pkg/storage"
	"github.com/cuemby/swms/pkg/types"
	"github.com/spf13/cobra"
)

// certRenewWarning is how close to expiry the dev certificate chain may get
// before startup warns about it
const certRenewWarning = 30 * 24 * time.Hour

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "swms-devbackend",
	Short: "In-memory SWMS backend for local development",
	Long: `swms-devbackend serves the SWMS REST API and notification hub from
memory. It is seeded with one administrator:

  email:    ` + devbackend.SeedAdminEmail + `
  password: ` + devbackend.SeedAdminPassword + `

State is lost on exit.`,
	Version:      Version,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"swms-devbackend version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	flags := rootCmd.Flags()
	flags.String("addr", "127.0.0.1:7001", "Listen address")
	flags.String("secret", devbackend.DefaultSecret, "HMAC secret for signing tokens")
	flags.Duration("access-ttl", devbackend.DefaultAccessTTL, "Access token lifetime")
	flags.Duration("refresh-ttl", devbackend.DefaultRefreshTTL, "Refresh token lifetime")
	flags.Duration("demo-interval", 0, "Push a demo notification to the administrator at this interval (0 disables)")
	flags.Bool("tls", false, "Serve HTTPS and WSS with a certificate from a local development CA")
	flags.String("ca-file", "swms-dev-ca.crt", "Where to write the development root certificate for clients (with --tls)")
	flags.String("ca-dir", "", "Directory persisting the development CA across restarts (with --tls)")
	flags.String("metrics-addr", "", "Serve /metrics, /health and /ready on this address")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")
	flags.Bool("json-logs", false, "Emit logs as JSON")
}

func run(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	secret, _ := cmd.Flags().GetString("secret")
	accessTTL, _ := cmd.Flags().GetDuration("access-ttl")
	refreshTTL, _ := cmd.Flags().GetDuration("refresh-ttl")
	demoInterval, _ := cmd.Flags().GetDuration("demo-interval")
	useTLS, _ := cmd.Flags().GetBool("tls")
	caFile, _ := cmd.Flags().GetString("ca-file")
	caDir, _ := cmd.Flags().GetString("ca-dir")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	logLevel, _ := cmd.Flags().GetString("log-level")
	jsonLogs, _ := cmd.Flags().GetBool("json-logs")

	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: jsonLogs})
	metrics.SetVersion(Version)
	logger := log.WithComponent("devbackend")

	srv, err := devbackend.New(
		devbackend.WithSecret(secret),
		devbackend.WithAccessTTL(accessTTL),
		devbackend.WithRefreshTTL(refreshTTL),
	)
	if err != nil {
		return fmt.Errorf("failed to create backend: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	httpServer := &http.Server{Addr: addr, Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}
	scheme, wsScheme := "http", "ws"
	if useTLS {
		tlsConfig, err := devTLS(addr, secret, caDir, caFile)
		if err != nil {
			return err
		}
		httpServer.TLSConfig = tlsConfig
		scheme, wsScheme = "https", "wss"
	}

	errCh := make(chan error, 2)
	go func() {
		var err error
		if useTLS {
			err = httpServer.ListenAndServeTLS("", "")
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("API server error: %w", err)
		}
	}()
	metrics.UpdateComponent(metrics.ComponentStore, true, "memory")
	metrics.UpdateComponent(metrics.ComponentBackend, true, "serving")

	var metricsServer *http.Server
	if metricsAddr != "" {
		metricsServer = &http.Server{Addr: metricsAddr, Handler: metrics.Mux(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	if demoInterval > 0 {
		go pushDemo(ctx, srv, demoInterval)
	}

	fmt.Printf("SWMS dev backend listening on %s://%s\n", scheme, addr)
	fmt.Printf("  Hub:   %s://%s/hubs/notification\n", wsScheme, addr)
	fmt.Printf("  Login: %s / %s\n", devbackend.SeedAdminEmail, devbackend.SeedAdminPassword)
	if useTLS {
		fmt.Printf("  Trust: SWMS_CA_FILE=%s\n", caFile)
	}
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		logger.Error().Err(err).Msg("Server failed")
		return err
	}

	cancel()
	srv.Hub().DropAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown: %w", err)
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	fmt.Println("✓ Shutdown complete")
	return nil
}

// devTLS issues a serving certificate for addr from the development CA and
// writes the root to caFile. With caDir set the CA is kept in a bolt store
// sealed with secret, so clients keep trusting it across restarts.
func devTLS(addr, secret, caDir, caFile string) (*tls.Config, error) {
	var store storage.Store
	var sealer *security.Sealer
	if caDir != "" {
		bolt, err := storage.NewBoltStore(caDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open CA store: %w", err)
		}
		defer bolt.Close()
		store = bolt

		if sealer, err = security.NewSealerFromPassphrase(secret); err != nil {
			return nil, err
		}
	}

	ca := security.NewCertAuthority(store, sealer)
	if err := ca.LoadOrInitialize(); err != nil {
		return nil, fmt.Errorf("failed to prepare development CA: %w", err)
	}

	hosts := []string{"localhost", "127.0.0.1", "::1"}
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" && host != "localhost" && host != "127.0.0.1" && host != "::1" {
		hosts = append(hosts, host)
	}
	cert, err := ca.IssueServerCertificate(hosts...)
	if err != nil {
		return nil, err
	}
	remaining, err := ca.ValidityRemaining(cert)
	if err != nil {
		return nil, fmt.Errorf("issued certificate does not verify: %w", err)
	}
	logger := log.WithComponent("devbackend")
	if remaining < certRenewWarning {
		logger.Warn().
			Dur("remaining", remaining).
			Str("ca_dir", caDir).
			Msg("Development CA expires soon, remove the CA store to rotate it")
	} else {
		logger.Debug().Dur("remaining", remaining).Msg("Development certificate chain verified")
	}
	if err := security.WriteCAFile(caFile, ca.RootCertPEM()); err != nil {
		return nil, err
	}
	return security.ServerTLSConfig(cert), nil
}

var demoKinds = []types.NotificationKind{
	types.NotificationInfo,
	types.NotificationSuccess,
	types.NotificationWarning,
	types.NotificationError,
}

func pushDemo(ctx context.Context, srv *devbackend.Server, interval time.Duration) {
	admin, ok := srv.UserByEmail(devbackend.SeedAdminEmail)
	if !ok {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 1; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			kind := demoKinds[i%len(demoKinds)]
			srv.Push(admin.UserID, types.Notification{
				Title:   fmt.Sprintf("Demo notification %d", i),
				Message: fmt.Sprintf("This is a %s notification from the dev backend.", kind),
				Kind:    kind,
			})
		}
	}
}
