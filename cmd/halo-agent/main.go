// Command halo-agent runs the Remote Agent (§4.2): the per-host RPC
// endpoint that dispatches OCF operations on behalf of the manager.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/noahj-LANL/halo/internal/agent"
	"github.com/noahj-LANL/halo/internal/rpc"
	"github.com/noahj-LANL/halo/pkg/log"
)

var (
	flagListen  string
	flagOCFRoot string
	flagAgentID string
	flagVerbose bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "halo-agent",
	Short: "HALO remote agent daemon",
	RunE:  runAgent,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&flagListen, "listen", "0.0.0.0:"+envOr("HALO_PORT", "8000"), "remote agent listen address")
	flags.StringVar(&flagOCFRoot, "ocf-root", envOr("OCF_ROOT", "/usr/lib/ocf"), "OCF resource-agent root directory")
	flags.StringVar(&flagAgentID, "agent-id", envOr("HALO_TEST_ID", hostnameOrDefault()), "this host's agent identifier")
	flags.BoolVar(&flagVerbose, "verbose", false, "enable debug logging")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

func runAgent(cmd *cobra.Command, args []string) error {
	level := log.InfoLevel
	if flagVerbose {
		level = log.DebugLevel
	}
	log.Init(log.Config{Level: level})

	a := agent.New(flagAgentID, flagOCFRoot, os.Getenv("HALO_TEST_DIRECTORY"))
	if err := a.AdvertiseIdentity(); err != nil {
		return fmt.Errorf("advertise identity: %w", err)
	}

	creds, err := rpc.MaybeServerCredentials(rpc.TLSFiles{
		CertFile: os.Getenv("HALO_SERVER_CERT"),
		KeyFile:  os.Getenv("HALO_SERVER_KEY"),
		CAFile:   os.Getenv("HALO_CA_CERT"),
	})
	if err != nil {
		return fmt.Errorf("server tls credentials: %w", err)
	}

	srv, gs, err := rpc.NewServer(flagListen, grpc.Creds(creds))
	if err != nil {
		return fmt.Errorf("start agent server: %w", err)
	}
	rpc.RegisterAgentServer(gs, a)

	log.WithComponent("agent").Info().Str("agent_id", flagAgentID).Msg("halo-agent started")
	return srv.Serve()
}
