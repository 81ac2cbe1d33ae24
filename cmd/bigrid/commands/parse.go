package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/haivivi/bigrid/pkg/bigraph"
	"github.com/haivivi/bigrid/pkg/cli"
	"github.com/haivivi/bigrid/pkg/metrics"
)

// parseOutput is what parse prints.
type parseOutput struct {
	Layout      string          `json:"layout" yaml:"layout"`
	Coordinates string          `json:"coordinates" yaml:"coordinates"`
	Cells       []bigraph.Cell  `json:"cells" yaml:"cells"`
	Links       bigraph.LinkMap `json:"links" yaml:"links"`
	Skipped     []string        `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

var parseCmd = &cobra.Command{
	Use:   "parse <file>",
	Short: "Parse a bigraph model document into grid cells",
	Long: `Parse a bigraph XMI model document and print its grid cells.

Use "-" to read the document from stdin. Flags override the parser section
of the config file.

Examples:
  bigrid parse model.xmi
  bigrid parse model.xmi --layout single --coordinates co
  bigrid parse model.xmi --best-effort --json -q '.cells | length'
  cat model.xmi | bigrid parse -`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := parseOptions(cmd)
		if err != nil {
			return err
		}
		printVerbose("Layout: %s, links: %v, preferred port: %d", opts.Layout, opts.CoordinatesAsLinks, opts.PreferredPort)

		res, err := parseFile(args[0], opts)
		if err != nil {
			return err
		}

		out := parseOutput{
			Layout:      opts.Layout.String(),
			Coordinates: cli.CoordinatesCO,
			Cells:       res.Cells,
			Links:       res.Links,
		}
		if opts.CoordinatesAsLinks {
			out.Coordinates = cli.CoordinatesLinks
		}
		for _, e := range res.Errors {
			out.Skipped = append(out.Skipped, e.Error())
		}
		if len(out.Skipped) > 0 {
			cli.PrintWarning("skipped %d malformed coordinates", len(out.Skipped))
		}
		return outputResult(out)
	},
}

func init() {
	parseCmd.Flags().String("layout", "", "document layout: multi or single")
	parseCmd.Flags().String("coordinates", "", "coordinate source: links or co")
	parseCmd.Flags().Int("port", bigraph.DefaultPreferredPort, "preferred port index in links mode, -1 for none")
	parseCmd.Flags().Bool("scan-all", false, "inspect every child of each root (multi layout)")
	parseCmd.Flags().Bool("best-effort", false, "skip malformed coordinates instead of failing")
}

// parseOptions merges the parser config section with the flags that were set.
func parseOptions(cmd *cobra.Command) (bigraph.Options, error) {
	pc := getConfig().Parser
	flags := cmd.Flags()
	if flags.Changed("layout") {
		pc.Layout, _ = flags.GetString("layout")
	}
	if flags.Changed("coordinates") {
		pc.Coordinates, _ = flags.GetString("coordinates")
	}
	if flags.Changed("port") {
		pc.PreferredPort, _ = flags.GetInt("port")
	}
	if flags.Changed("scan-all") {
		pc.ScanAllChildren, _ = flags.GetBool("scan-all")
	}
	if flags.Changed("best-effort") {
		pc.BestEffort, _ = flags.GetBool("best-effort")
	}
	return pc.Options()
}

func parseFile(path string, opts bigraph.Options) (*bigraph.Result, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open model: %w", err)
		}
		defer f.Close()
		r = f
	}
	res, err := bigraph.Parse(r, opts)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	metrics.CellsParsed(len(res.Cells))
	return res, nil
}
