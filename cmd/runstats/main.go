package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds minimal global/persistent flags for CLI commands
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags holds the connection settings of commands that talk to a server.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
	CACert     string
	Insecure   bool
}

// ReportFlags holds flags for the report command
type ReportFlags struct {
	APIFlags
	Client string
	File   string
	Format string
}

// ShowFlags holds flags for the show command
type ShowFlags struct {
	File   string
	Format string
	Client string
	Output string
}

// FlushFlags holds flags for the flush command
type FlushFlags struct {
	APIFlags
	Force bool
}

// buildRoot creates the root command with every subcommand attached
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createReportCommand(&ReportFlags{}),
		createShowCommand(&ShowFlags{}),
		createValidateCommand(globalFlags),
		createClientsCommand(&APIFlags{}),
		createFlushCommand(&FlushFlags{}),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "runstats",
		Short: "Per-client run statistics store",
		Long: `Runstats keeps the latest run statistics of every configuration client
and persists them to a structured file with a write throttle.

Examples:
  runstats serve config.toml
  runstats report --client=web1 --file=report.xml
  runstats show --file=/var/lib/runstats/statistics.xml
  runstats clients --api-url=http://remote:8080/api`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")

	return root
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "http://localhost:8080/api", "runstats API base URL")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "API request timeout")
	cmd.Flags().StringVar(&f.CACert, "ca-cert", "", "CA certificate used to verify an https server")
	cmd.Flags().BoolVar(&f.Insecure, "insecure", false, "skip TLS certificate verification")
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the statistics server",
		Long: `Run the HTTP server that ingests client reports.
Configuration is read from the TOML file (argument or --config); without one
the defaults and RUNSTATS_* environment variables apply.

Examples:
  runstats serve
  runstats serve /etc/runstats/config.toml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configArg(globalFlags, args))
		},
	}
}

func createReportCommand(flags *ReportFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Upload a run report for a client",
		Long: `Upload a report file to a running server.

Examples:
  runstats report --client=web1 --file=report.xml
  runstats report --client=db1 --file=report.yaml --format=yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd.Context(), cmd.OutOrStdout(), *flags)
		},
	}
	addAPIFlags(cmd, &flags.APIFlags)
	cmd.Flags().StringVar(&flags.Client, "client", "", "client name (required)")
	cmd.Flags().StringVar(&flags.File, "file", "", "report file, '-' for stdin (required)")
	cmd.Flags().StringVar(&flags.Format, "format", "", "report format: xml or yaml (default from file extension)")
	_ = cmd.MarkFlagRequired("client")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func createShowCommand(flags *ShowFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the nodes of a statistics file",
		Long: `Read a statistics file directly, without a server.

Examples:
  runstats show --file=statistics.xml
  runstats show --file=statistics.xml --client=web1 --output=json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd.OutOrStdout(), *flags)
		},
	}
	cmd.Flags().StringVar(&flags.File, "file", "", "statistics file (required)")
	cmd.Flags().StringVar(&flags.Format, "format", "", "file format: xml or yaml (default from file extension)")
	cmd.Flags().StringVar(&flags.Client, "client", "", "only show this client")
	cmd.Flags().StringVar(&flags.Output, "output", "text", "output: text, json or document")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func createValidateCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [config.toml]",
		Short: "Validate a configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.OutOrStdout(), configArg(globalFlags, args))
		},
	}
}

func createClientsCommand(flags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clients [name]",
		Short: "List clients known to a running server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			return runClients(cmd.Context(), cmd.OutOrStdout(), *flags, name)
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createFlushCommand(flags *FlushFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Ask a running server to write its statistics file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFlush(cmd.Context(), cmd.OutOrStdout(), *flags)
		},
	}
	addAPIFlags(cmd, &flags.APIFlags)
	cmd.Flags().BoolVar(&flags.Force, "force", false, "write even when nothing changed or the throttle is active")
	return cmd
}

func configArg(g *GlobalFlags, args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return g.ConfigPath
}
