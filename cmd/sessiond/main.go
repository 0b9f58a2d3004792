package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/cuemby/raftsession/pkg/log"
	"github.com/cuemby/raftsession/pkg/metrics"
	"github.com/cuemby/raftsession/pkg/service"
	"github.com/cuemby/raftsession/pkg/transport"
)

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
	Use:     "sessiond",
	Short:   "sessiond runs one node of a Raft-replicated client-session service",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("sessiond version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("config", "", "path to a cluster config YAML file")
	rootCmd.PersistentFlags().String("node-id", "", "Raft server ID for this node (generated if empty)")
	rootCmd.PersistentFlags().String("bind-addr", "", "Raft transport bind address")
	rootCmd.PersistentFlags().String("api-addr", "", "grpc address the session service listens on")
	rootCmd.PersistentFlags().String("metrics-addr", "", "http address for /metrics, /health, /ready, /live")
	rootCmd.PersistentFlags().String("data-dir", "", "directory for Raft log, stable store, and snapshots")
	rootCmd.PersistentFlags().String("service-type", "", "domain service type this node hosts")
	rootCmd.PersistentFlags().String("service-name", "", "domain service name this node hosts")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "output logs as JSON")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(joinCmd)
	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOutput})
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "start a new single-member cluster",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd)
		if err != nil {
			return err
		}
		host, err := newHost(cfg)
		if err != nil {
			return err
		}
		if err := host.Bootstrap(); err != nil {
			return fmt.Errorf("sessiond: bootstrap: %w", err)
		}
		return serve(cfg, host)
	},
}

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "start this node and join an existing cluster",
	RunE: func(cmd *cobra.Command, args []string) error {
		leader, _ := cmd.Flags().GetString("leader")
		if leader == "" {
			return fmt.Errorf("sessiond: join requires --leader")
		}
		cfg, err := resolveConfig(cmd)
		if err != nil {
			return err
		}
		host, err := newHost(cfg)
		if err != nil {
			return err
		}
		if err := host.Join(leader); err != nil {
			return fmt.Errorf("sessiond: join: %w", err)
		}
		return serve(cfg, host)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "restart this node from an existing data directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd)
		if err != nil {
			return err
		}
		host, err := newHost(cfg)
		if err != nil {
			return err
		}
		if err := host.Resume(); err != nil {
			return fmt.Errorf("sessiond: resume: %w", err)
		}
		return serve(cfg, host)
	},
}

func init() {
	joinCmd.Flags().String("leader", "", "address of the existing cluster's leader (logged; no configuration change is sent to it)")
}

// resolveConfig loads the config file named by --config, if any, then lets
// any explicitly set flag override the corresponding field. A freshly
// generated UUID backs the node ID when neither the flag nor the config
// file supplies one, so every bootstrap gets a distinct Raft server ID
// without operator bookkeeping.
func resolveConfig(cmd *cobra.Command) (clusterConfig, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(configPath)
	if err != nil {
		return cfg, err
	}

	overrideString := func(flag string, dst *string) {
		if v, _ := cmd.Flags().GetString(flag); v != "" {
			*dst = v
		}
	}
	overrideString("node-id", &cfg.NodeID)
	overrideString("bind-addr", &cfg.BindAddr)
	overrideString("api-addr", &cfg.APIAddr)
	overrideString("metrics-addr", &cfg.MetricsAddr)
	overrideString("data-dir", &cfg.DataDir)
	overrideString("service-type", &cfg.ServiceType)
	overrideString("service-name", &cfg.ServiceName)

	if cfg.NodeID == "" {
		cfg.NodeID = uuid.New().String()
	}
	return cfg, nil
}

func newHost(cfg clusterConfig) (*service.Host, error) {
	return service.New(service.Config{
		NodeID:      cfg.NodeID,
		BindAddr:    cfg.BindAddr,
		DataDir:     cfg.DataDir,
		ServiceType: cfg.ServiceType,
		ServiceName: cfg.ServiceName,
		Handler:     service.EchoHandler{},
	})
}

// serve wires host up to the grpc transport and the metrics/health HTTP
// server, then blocks until an interrupt or SIGTERM arrives.
func serve(cfg clusterConfig, host *service.Host) error {
	hub := transport.NewHub()
	host.SetProtocol(hub)

	lis, err := net.Listen("tcp", cfg.APIAddr)
	if err != nil {
		return fmt.Errorf("sessiond: listen %s: %w", cfg.APIAddr, err)
	}
	grpcServer := grpc.NewServer()
	transport.Register(grpcServer, host, hub)

	grpcErrCh := make(chan error, 1)
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			grpcErrCh <- err
		}
	}()
	log.WithComponent("service").Info().Str("node_id", cfg.NodeID).Str("api_addr", cfg.APIAddr).Msg("session service listening")

	metrics.SetVersion(Version)
	metrics.RegisterComponent("raft", true, "started")
	metrics.RegisterComponent("service", true, "started")
	metrics.RegisterComponent("transport", true, "started")

	metrics.SetSource(host)

	collector := metrics.NewCollector(host)
	collector.Start()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithComponent("service").Warn().Err(err).Msg("metrics server stopped")
		}
	}()
	log.WithComponent("service").Info().Str("metrics_addr", cfg.MetricsAddr).Msg("metrics endpoint listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.WithComponent("service").Info().Msg("shutting down")
	case err := <-grpcErrCh:
		log.WithComponent("service").Error().Err(err).Msg("grpc server failed")
	}

	collector.Stop()
	grpcServer.GracefulStop()
	_ = metricsServer.Close()
	return host.Shutdown()
}
