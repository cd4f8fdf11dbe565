package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func invalidConfig(err error) error {
	return &exitError{code: exitInvalidConfig, err: err}
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := newRootCmd()
	root.SetArgs(args)

	err := root.Execute()
	if err == nil {
		return exitSuccess
	}

	fmt.Fprintf(os.Stderr, "%v\n", err)
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitRuntimeError
}

const envHelp = `Environment Variables:
  DATABASE_URL               PostgreSQL connection string (required)
  EXPRESSION_SERVICE_URL     Platform data-model base URL (required)
  REDIS_ADDR                 Redis address for outcome analytics (optional)
  HTTP_ADDR                  HTTP server address (default: ":8080", or ":$PORT")

  DB_OP_TIMEOUT              Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS          Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS          Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME       Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME      Max connection idle time (default: "5m")
  HTTP_SHUTDOWN_TIMEOUT      Graceful HTTP shutdown timeout (default: "10s")

  PLUGIN_CALL_TIMEOUT        Timeout of one plugin call (default: "30s")
  BATCH_WORKERS              Jobs of a batch run concurrently (default: "1")
  CIRCUIT_BREAKER_THRESHOLD  Consecutive failures that open an instance (default: "5", 0 disables)
  CIRCUIT_BREAKER_COOLDOWN   Time an open instance is skipped (default: "2m")

  EXPRESSION_TIMEOUT         Expression service request timeout (default: "10s")
  EXPRESSION_CACHE_SIZE      Cached expression results (default: "1024", 0 disables)
  EXPRESSION_CACHE_TTL       Expression cache entry lifetime (default: "30s")

  METRICS_ENABLED            Enable Prometheus metrics (default: "false")
  METRICS_PATH               Metrics endpoint path (default: "/metrics")
  METRICS_PORT               Serve metrics on a separate port (optional)

  RECONCILE_ENABLED          Mark stale batches abandoned (default: "false")
  RECONCILE_SCHEDULE         Cron schedule of the sweep (default: "*/5 * * * *")
  RECONCILE_THRESHOLD        Age before an open batch is stale (default: "1h")
  RECONCILE_BATCH_SIZE       Max batches per sweep (default: "100")
  LEADER_LOCK_KEY            Advisory lock shared by all instances (default: "728379")
  LEADER_RETRY_INTERVAL      Follower lock retry interval (default: "5s")
  LEADER_HEARTBEAT_INTERVAL  Leader connection ping interval (default: "2s")

  ANALYTICS_RETENTION        Outcome counter retention (default: "168h")
  LOG_LEVEL                  debug, info, warn, error (default: "info")
  LOG_FORMAT                 text or json (default: "text")`

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "wecube-batch",
		Short:         "wecube-batch - batch plugin execution service",
		Long:          "wecube-batch runs one plugin interface against many resource entities.\n\n" + envHelp,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newValidateCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "wecube-batch version %s (commit: %s)\n", version, commit)
			return nil
		},
	}
}
