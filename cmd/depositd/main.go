package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oabridge/depositd/pkg/builder"
	"github.com/oabridge/depositd/pkg/cri"
	"github.com/oabridge/depositd/pkg/log"
	"github.com/oabridge/depositd/pkg/packager"
	"github.com/oabridge/depositd/pkg/registry"
	"github.com/oabridge/depositd/pkg/sotclient"
	"github.com/oabridge/depositd/pkg/status"
	"github.com/oabridge/depositd/pkg/task"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Exit codes: 0 ok, 1 invalid argument or configuration, 2 transient
// failure, 3 fatal.
const (
	exitOK              = 0
	exitInvalidArgument = 1
	exitTransient       = 2
	exitFatal           = 3
)

// exitError carries an exit code alongside the cause.
type exitError struct {
	code  int
	cause error
}

func (e *exitError) Error() string { return e.cause.Error() }

func exitWith(code int, cause error) error {
	return &exitError{code: code, cause: cause}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(exitFatal)
	}
	os.Exit(exitOK)
}

var rootCmd = &cobra.Command{
	Use:   "depositd",
	Short: "Depositd - scholarly submission deposit engine",
	Long: `Depositd watches a repository event stream for completed submissions,
assembles deposit packages for each configured target repository, and
streams them over FTP, SWORDv2 or the filesystem, tracking every deposit
to its terminal outcome.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Depositd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "depositd.yaml", "path to the configuration file")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", true, "emit JSON log lines")

	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(retryCmd)
}

// engine is the composition root shared by every subcommand.
type engine struct {
	registry *registry.Registry
	store    sotclient.Store
	critical *cri.Critical
	builder  *builder.Builder
	runner   *task.Runner
	resolver *status.Resolver
}

func newEngine(cmd *cobra.Command) (*engine, error) {
	level, _ := cmd.Flags().GetString("log-level")
	jsonOut, _ := cmd.Flags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})

	configPath, _ := cmd.Flags().GetString("config")
	reg, err := registry.Load(configPath)
	if err != nil {
		return nil, exitWith(exitInvalidArgument, err)
	}

	src := reg.SourceRepo()
	store, err := sotclient.New(src.BaseURL, sotclient.WithBasicAuth(src.Username, src.Password))
	if err != nil {
		return nil, exitWith(exitInvalidArgument, err)
	}

	critical := cri.New(store)
	b := builder.New(store)
	opener := packager.NewHTTPOpener(src.Username, src.Password)

	return &engine{
		registry: reg,
		store:    store,
		critical: critical,
		builder:  b,
		runner:   task.NewRunner(critical, b, reg, opener),
		resolver: status.NewResolver(),
	}, nil
}

func (e *engine) close() {
	if err := e.store.Close(); err != nil {
		log.WithComponent("main").Debug().Err(err).Msg("store close failed")
	}
}
