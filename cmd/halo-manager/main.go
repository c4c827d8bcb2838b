// Command halo-manager runs the HALO control plane: one Resource Group
// Engine per configured group, the Host State Tracker, the Fencing
// Subsystem, the Manager↔CLI control RPC server, and a Prometheus metrics
// endpoint.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/noahj-LANL/halo/internal/audit"
	"github.com/noahj-LANL/halo/internal/config"
	"github.com/noahj-LANL/halo/internal/fencing"
	"github.com/noahj-LANL/halo/internal/hoststate"
	"github.com/noahj-LANL/halo/internal/manager"
	"github.com/noahj-LANL/halo/internal/resourcegroup"
	"github.com/noahj-LANL/halo/internal/rpc"
	"github.com/noahj-LANL/halo/pkg/log"
	"github.com/noahj-LANL/halo/pkg/metrics"
)

var (
	flagConfig      string
	flagSocket      string
	flagVerbose     bool
	flagNetwork     string
	flagPort        int
	flagTestID      string
	flagMetricsAddr string
	flagDataDir     string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "halo-manager",
	Short: "HALO cluster manager daemon",
	RunE:  runManager,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&flagConfig, "config", envOr("HALO_CONFIG", config.DefaultPath), "cluster configuration file")
	flags.StringVar(&flagSocket, "socket", "0.0.0.0:"+envOr("HALO_PORT", "8000"), "Manager-CLI control socket address")
	flags.BoolVar(&flagVerbose, "verbose", false, "enable debug logging")
	flags.StringVar(&flagNetwork, "network", envOr("HALO_NET", "192.168.1.0/24"), "cluster network CIDR")
	flags.IntVar(&flagPort, "port", 8000, "default remote-agent rpc port")
	flags.StringVar(&flagTestID, "test-id", os.Getenv("HALO_TEST_ID"), "test-environment identity override")
	flags.StringVar(&flagMetricsAddr, "metrics-addr", "", "Prometheus metrics listen address (disabled if empty)")
	flags.StringVar(&flagDataDir, "data-dir", "/var/lib/halo", "directory for the audit log")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runManager(cmd *cobra.Command, args []string) error {
	level := log.InfoLevel
	if flagVerbose {
		level = log.DebugLevel
	}
	log.Init(log.Config{Level: level})

	cluster, err := config.Load(flagConfig)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	tracker := hoststate.New(hoststate.DefaultConfig())
	for _, h := range cluster.Hosts {
		tracker.Register(h)
	}

	testDir := os.Getenv("HALO_TEST_DIRECTORY")

	var fencer interface {
		resourcegroup.Fencer
		manager.FenceController
	}
	if testDir != "" {
		fencer = fencing.NewTestModeAgent(testDir)
	} else {
		fencer = fencing.New()
	}

	auditLog, err := audit.Open(flagDataDir)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer auditLog.Close()

	clientCreds, err := rpc.MaybeClientCredentials(rpc.TLSFiles{
		CertFile: os.Getenv("HALO_CLIENT_CERT"),
		KeyFile:  os.Getenv("HALO_CLIENT_KEY"),
		CAFile:   os.Getenv("HALO_CA_CERT"),
	}, "")
	if err != nil {
		return fmt.Errorf("client tls credentials: %w", err)
	}
	operator := rpc.NewOperator(clientCreds)

	mgr := manager.New(cluster.Name, tracker, fencer)
	for _, group := range cluster.Groups {
		engine := resourcegroup.NewEngine(group, resourcegroup.DefaultConfig(), tracker, fencer, operator, cluster.ManageResources)
		engine.SetAuditor(auditLog)
		mgr.AddEngine(engine)
	}
	defer mgr.Stop()

	if flagMetricsAddr != "" {
		go func() {
			if err := metrics.Serve(flagMetricsAddr); err != nil {
				log.WithComponent("metrics").Error().Err(err).Msg("metrics server exited")
			}
		}()
	}

	serverCreds, err := rpc.MaybeServerCredentials(rpc.TLSFiles{
		CertFile: os.Getenv("HALO_SERVER_CERT"),
		KeyFile:  os.Getenv("HALO_SERVER_KEY"),
		CAFile:   os.Getenv("HALO_CA_CERT"),
	})
	if err != nil {
		return fmt.Errorf("server tls credentials: %w", err)
	}

	srv, gs, err := rpc.NewServer(flagSocket, grpc.Creds(serverCreds))
	if err != nil {
		return fmt.Errorf("start control server: %w", err)
	}
	rpc.RegisterControlServer(gs, mgr)

	log.WithComponent("manager").Info().Msg("halo-manager started")
	return srv.Serve()
}
