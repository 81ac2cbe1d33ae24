package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/haivivi/bigrid/pkg/cli"
)

var (
	// Global flags
	cfgFile    string
	outputFile string
	query      string
	outputJSON bool
	verbose    bool

	// Global configuration
	globalConfig *cli.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bigrid",
	Short: "Bigraph grid model and live position tool",
	Long: `bigrid - turns bigraph model documents into grid cells and follows
live position feeds.

Model documents are bigraph XMI files whose Locale nodes carry grid
coordinates, either through the outer names their ports link to or through
CO-typed children. Live feeds are per-channel WebSocket servers, an MQTT
control topic and rosbridge drone poses.

Configuration is stored in ~/.bigrid/config.yaml.

Examples:
  # Parse a model and print its cells
  bigrid parse model.xmi

  # Pipe the points of every cell to another command
  bigrid parse model.xmi --json -q '[.cells[].point]'

  # Follow the live feeds with an in-process broker
  bigrid listen --embedded-broker :9090
`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.bigrid/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFile, "output", "o", "", "output file (default: stdout)")
	rootCmd.PersistentFlags().StringVarP(&query, "query", "q", "", "jq expression applied to the result")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output as JSON (for piping)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(parseCmd)
	rootCmd.AddCommand(coordCmd)
	rootCmd.AddCommand(gridCmd)
	rootCmd.AddCommand(listenCmd)
}

func initConfig() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	var err error
	globalConfig, err = cli.LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing config: %v\n", err)
		os.Exit(1)
	}
}

// getConfig returns the global configuration
func getConfig() *cli.Config {
	return globalConfig
}

// outputResult outputs the result using cli package
func outputResult(result any) error {
	format := cli.FormatYAML
	if outputJSON {
		format = cli.FormatJSON
	}
	return cli.Output(result, cli.OutputOptions{
		Format: format,
		File:   outputFile,
		Query:  query,
	})
}

// printVerbose prints verbose output if enabled
func printVerbose(format string, args ...any) {
	cli.PrintVerbose(verbose, format, args...)
}
