// Command halo is the cluster-status and power-control CLI: it dials a
// halo-manager's Control RPC surface and renders the response (§6).
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/noahj-LANL/halo/internal/rpc"
	"github.com/noahj-LANL/halo/pkg/log"
)

// Exit codes per §6: 0 success, 1 generic failure, 2 unreachable manager, 3
// fence failure.
const (
	exitSuccess            = 0
	exitGenericFailure     = 1
	exitManagerUnreachable = 2
	exitFenceFailure       = 3
)

var (
	flagConfig          string
	flagSocket          string
	flagManageResources bool
	flagVerbose         bool
	flagNetwork         string
	flagPort            int
	flagTestID          string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitGenericFailure)
	}
}

var rootCmd = &cobra.Command{
	Use:   "halo",
	Short: "HALO cluster status and power control",
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagConfig, "config", envOr("HALO_CONFIG", "/etc/halo/halo.conf"), "cluster configuration file")
	flags.StringVar(&flagSocket, "socket", envOr("HALO_SOCKET", "127.0.0.1:"+envOr("HALO_PORT", "8000")), "manager control socket address")
	flags.BoolVar(&flagManageResources, "manage-resources", true, "whether the manager should actively place resources")
	flags.BoolVar(&flagVerbose, "verbose", false, "enable debug logging")
	flags.StringVar(&flagNetwork, "network", envOr("HALO_NET", "192.168.1.0/24"), "cluster network CIDR")
	flags.IntVar(&flagPort, "port", 8000, "default remote-agent rpc port")
	flags.StringVar(&flagTestID, "test-id", os.Getenv("HALO_TEST_ID"), "test-environment identity override")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(powerCmd)
	powerCmd.AddCommand(powerStatusCmd)
	powerCmd.AddCommand(powerOffCmd)
	powerCmd.AddCommand(powerOnCmd)
}

func initLogging() {
	level := log.InfoLevel
	if flagVerbose {
		level = log.DebugLevel
	}
	log.Init(log.Config{Level: level})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func dialControl() (*rpc.ControlClient, func(), error) {
	creds, err := rpc.MaybeClientCredentials(rpc.TLSFiles{
		CertFile: os.Getenv("HALO_CLIENT_CERT"),
		KeyFile:  os.Getenv("HALO_CLIENT_KEY"),
		CAFile:   os.Getenv("HALO_CA_CERT"),
	}, "")
	if err != nil {
		return nil, nil, err
	}
	cc, err := rpc.Dial(flagSocket, creds)
	if err != nil {
		return nil, nil, err
	}
	return rpc.NewControlClient(cc), func() { cc.Close() }, nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "show cluster and resource status",
	Run: func(cmd *cobra.Command, args []string) {
		client, closeFn, err := dialControl()
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot reach manager: %v\n", err)
			os.Exit(exitManagerUnreachable)
		}
		defer closeFn()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		snap, err := client.Monitor(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot reach manager: %v\n", err)
			os.Exit(exitManagerUnreachable)
		}

		fmt.Printf("cluster: %s\n", snap.ClusterName)
		fmt.Println("hosts:")
		for _, h := range snap.Hosts {
			fmt.Printf("  %-20s %s\n", h.HostID, h.View)
		}
		fmt.Println("resources:")
		for _, r := range snap.Resources {
			fmt.Printf("  %-30s %-16s host=%s\n", r.ResourceID, r.Status, r.CurrentHost)
			if r.LastError != "" {
				fmt.Printf("    last_error: %s\n", r.LastError)
			}
		}
	},
}

var powerCmd = &cobra.Command{
	Use:   "power",
	Short: "host power control",
}

var powerStatusCmd = &cobra.Command{
	Use:   "status <host>",
	Short: "query a host's fenced power state",
	Args:  cobra.ExactArgs(1),
	// A status query that can't be answered is a generic failure, not a
	// fence failure: no fence action was attempted.
	Run: runPowerVerb((*rpc.ControlClient).PowerStatus, exitGenericFailure),
}

var powerOffCmd = &cobra.Command{
	Use:   "off <host>",
	Short: "fence a host off",
	Args:  cobra.ExactArgs(1),
	Run:   runPowerVerb((*rpc.ControlClient).PowerOff, exitFenceFailure),
}

var powerOnCmd = &cobra.Command{
	Use:   "on <host>",
	Short: "fence a host on",
	Args:  cobra.ExactArgs(1),
	Run:   runPowerVerb((*rpc.ControlClient).PowerOn, exitFenceFailure),
}

func runPowerVerb(verb func(*rpc.ControlClient, context.Context, string) (*rpc.PowerResponse, error), failureExitCode int) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		client, closeFn, err := dialControl()
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot reach manager: %v\n", err)
			os.Exit(exitManagerUnreachable)
		}
		defer closeFn()

		ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
		defer cancel()

		resp, err := verb(client, ctx, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot reach manager: %v\n", err)
			os.Exit(exitManagerUnreachable)
		}
		if !resp.Ok {
			fmt.Fprintf(os.Stderr, "%s\n", resp.Diagnostic)
			os.Exit(failureExitCode)
		}
		fmt.Println(resp.Diagnostic)
	}
}
