// Command evmcl encodes governance scripts into transactions, forwards them,
// and inspects encoded batches.
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opal-lang/evmcl/core/batchfmt/formatter"
	"github.com/opal-lang/evmcl/internal/redact"
	"github.com/opal-lang/evmcl/runtime/config"
)

// app holds what every subcommand shares.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	configPath string
	debug      bool
	noColor    bool
	offline    bool
	rpcURL     string
	fixtures   string

	cfg config.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{stdin: os.Stdin, stdout: os.Stdout, stderr: redact.New(os.Stderr)}
	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		FormatError(a.stderr, err, a.useColor())
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "evmcl [command]",
		Short:         "Encode and forward organization governance scripts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig(cmd)
		},
	}
	rootCmd.SetIn(a.stdin)
	rootCmd.SetOut(a.stdout)
	rootCmd.SetErr(a.stderr)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Path to config file (default $HOME/"+config.FileName+")")
	flags.BoolVar(&a.debug, "debug", false, "Enable debug output")
	flags.BoolVar(&a.noColor, "no-color", false, "Disable colored output")
	flags.BoolVar(&a.offline, "offline", false, "Use the embedded sample organization instead of the network")
	flags.StringVar(&a.rpcURL, "rpc", "", "JSON-RPC endpoint")
	flags.StringVar(&a.fixtures, "fixtures", "", "Load organizations and repos from a YAML fixtures file")

	rootCmd.AddCommand(newEncodeCmd(a), newForwardCmd(a), newInspectCmd(a))
	return rootCmd
}

// loadConfig applies the config file and environment, then explicit flags.
func (a *app) loadConfig(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return &CLIError{Type: "config", Message: err.Error(), Hint: "check --config or the EVMCL_* environment variables"}
	}
	flags := cmd.Flags()
	if flags.Changed("rpc") {
		cfg.RPCURL = a.rpcURL
	}
	if flags.Changed("fixtures") {
		cfg.Fixtures = a.fixtures
	}
	if a.debug {
		cfg.Debug = true
	}
	if a.noColor {
		cfg.NoColor = true
	}
	a.cfg = cfg

	// Errors and debug logs can echo the endpoint or the key.
	if r, ok := a.stderr.(*redact.Writer); ok {
		r.RegisterURL(cfg.RPCURL, "<redacted:rpc>")
		r.Register(os.Getenv(cfg.KeyEnv), "<redacted:key>")
	}
	return nil
}

func (a *app) useColor() bool {
	return formatter.ShouldUseColor(a.stderr, a.noColor || a.cfg.NoColor)
}
