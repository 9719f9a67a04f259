package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/loykin/redeployr"
	"github.com/loykin/redeployr/pkg/client"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		reportFailure(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
	LogFile    string
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createDeployCommand(globalFlags),
		createPipelineCommand(globalFlags),
		createStopCommand(globalFlags),
		createStatusCommand(globalFlags),
		createHistoryCommand(globalFlags),
		createServeCommand(globalFlags),
		createHashTokenCommand(),
	)
	return root
}

// createRootCommand creates the root command with the persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "redeployr",
		Short: "Restart the application listening on a TCP port",
		Long: `Redeployr replaces the process listening on a TCP port with a freshly
launched command: it stops the current owner, waits for the port to be
released and starts the new process detached from the caller.

Examples:
  redeployr deploy --port 5000 --command "python3 -m waitress --port=5000 app:app"
  redeployr pipeline --config redeployr.toml
  redeployr status --port 5000
  redeployr serve --listen :8090`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&flags.LogFormat, "log-format", "color", "log format: color, text, json")
	root.PersistentFlags().StringVar(&flags.LogFile, "log-file", "", "write logs to a rotated file instead of stderr")

	return root
}

// exitCode maps a command error to the process exit status: 2 when the port
// lookup failed, 3 when the previous process did not release the port, 4 when
// the new process could not be started and 1 otherwise.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ExitCode()
	}
	return redeployr.ExitCode(err)
}
