package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/fleetedge/deployd/pkg/daemonconfig"
	"github.com/fleetedge/deployd/pkg/engine"
	"github.com/fleetedge/deployd/pkg/log"
	"github.com/fleetedge/deployd/pkg/metrics"
	"github.com/fleetedge/deployd/pkg/runtime"
)

var appViper = viper.New()

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "deployengine",
	Short:   "Edge device component deployment engine",
	Long:    `deployengine resolves, configures, and runs an edge device's component set against LOCAL, SHADOW, and CLOUD_JOBS deployment documents.`,
	Version: Version,
	RunE:    runEngine,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("deployengine version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to a deployengine config file (yaml)")
	rootCmd.PersistentFlags().String("root", "./deployd-data", "Persisted-state root directory (§6 layout)")
	rootCmd.PersistentFlags().String("api-addr", "127.0.0.1:7780", "Address for the local management API (POST /v1/local/deployments, GET /v1/deployments/{id}/status, GET /metrics)")
	rootCmd.PersistentFlags().String("ipc-socket", "./deployd-data/ipc.sock", "Unix domain socket path for the in-process component IPC surface")
	rootCmd.PersistentFlags().String("containerd-socket", runtime.DefaultSocketPath, "containerd socket for container-kind artifacts; left unreachable degrades to subprocess-only")
	rootCmd.PersistentFlags().Int("shadow-rate-limit", 5, "Max SHADOW-source submissions per second (0 disables the limiter)")
	rootCmd.PersistentFlags().Int("shadow-burst", 10, "SHADOW-source submission burst size")
	rootCmd.PersistentFlags().Duration("gc-interval", engine.DefaultGCInterval, "Periodic component-store GC safety sweep interval")
	rootCmd.PersistentFlags().Duration("validation-timeout", engine.DefaultValidationTimeout, "Default dynamic-validation round trip timeout")

	appViper.BindPFlag("root", rootCmd.PersistentFlags().Lookup("root"))
	appViper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	appViper.BindPFlag("log-json", rootCmd.PersistentFlags().Lookup("log-json"))
	appViper.BindPFlag("api-addr", rootCmd.PersistentFlags().Lookup("api-addr"))
	appViper.BindPFlag("ipc-socket", rootCmd.PersistentFlags().Lookup("ipc-socket"))
	appViper.BindPFlag("containerd-socket", rootCmd.PersistentFlags().Lookup("containerd-socket"))
	appViper.BindPFlag("shadow-rate-limit", rootCmd.PersistentFlags().Lookup("shadow-rate-limit"))
	appViper.BindPFlag("shadow-burst", rootCmd.PersistentFlags().Lookup("shadow-burst"))
	appViper.BindPFlag("gc-interval", rootCmd.PersistentFlags().Lookup("gc-interval"))
	appViper.BindPFlag("validation-timeout", rootCmd.PersistentFlags().Lookup("validation-timeout"))
}

// loadDaemonConfig resolves a daemonconfig.Config from the bound cobra
// flags, DEPLOYD_-prefixed env vars, and an optional --config YAML file,
// in that descending precedence order.
func loadDaemonConfig(cmd *cobra.Command) (daemonconfig.Config, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	return daemonconfig.Load(appViper, cfgFile)
}

func runEngine(cmd *cobra.Command, args []string) error {
	dcfg, err := loadDaemonConfig(cmd)
	if err != nil {
		return fmt.Errorf("loading daemon config: %w", err)
	}

	log.Init(log.Config{
		Level:      log.Level(dcfg.LogLevel),
		JSONOutput: dcfg.LogJSON,
	})

	cfg := engine.Config{
		Root:                dcfg.Root,
		Logger:              log.Logger,
		ShadowRateLimit:     rate.Limit(dcfg.ShadowRateLimit),
		ShadowBurst:         dcfg.ShadowBurst,
		GCInterval:          dcfg.GCInterval,
		ValidationTimeout:   dcfg.ValidationTimeout,
		ContainerSocketPath: dcfg.ContainerdSocket,
	}

	eng, err := engine.New(cfg)
	if err != nil {
		return fmt.Errorf("constructing engine: %w", err)
	}
	metrics.SetVersion(Version)
	defer func() {
		if err := eng.Close(); err != nil {
			log.Logger.Warn().Err(err).Msg("closing engine")
		}
	}()

	apiAddr := dcfg.APIAddr
	apiServer := &http.Server{Addr: apiAddr, Handler: eng.Router()}

	ipcSocket := dcfg.IPCSocket
	os.Remove(ipcSocket)
	ipcListener, err := net.Listen("unix", ipcSocket)
	if err != nil {
		return fmt.Errorf("listening on ipc socket %s: %w", ipcSocket, err)
	}
	ipcServer := &http.Server{Handler: eng.IPCRouter()}

	errCh := make(chan error, 2)
	go func() {
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("local management API: %w", err)
		}
	}()
	go func() {
		if err := ipcServer.Serve(ipcListener); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("ipc surface: %w", err)
		}
	}()

	log.Logger.Info().Str("root", cfg.Root).Str("api_addr", apiAddr).Str("ipc_socket", ipcSocket).Msg("deployengine starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- eng.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Logger.Info().Msg("shutting down")
	case err := <-errCh:
		log.Logger.Error().Err(err).Msg("server error, shutting down")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	apiServer.Shutdown(shutdownCtx)
	ipcServer.Shutdown(shutdownCtx)

	<-runErrCh
	log.Logger.Info().Msg("deployengine stopped")
	return nil
}
