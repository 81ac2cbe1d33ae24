package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/haivivi/bigrid/pkg/coord"
)

var coordCmd = &cobra.Command{
	Use:   "coord",
	Short: "Decode and encode coordinate names",
	Long: `Decode and encode the coordinate names used as outer names and CO
types in model documents.

A name is "C_" followed by two numbers separated by "__", where "N" stands
for a minus sign and "_" for a decimal point: C_1_5__N0_25 is (1.5, -0.25).`,
}

type decoded struct {
	Name  string      `json:"name" yaml:"name"`
	Point coord.Point `json:"point" yaml:"point"`
}

var coordDecodeCmd = &cobra.Command{
	Use:   "decode <name>...",
	Short: "Decode coordinate names",
	Long: `Decode one or more coordinate names.

Examples:
  bigrid coord decode C_1_5__N0_25
  bigrid coord decode C_0__0 C_0__0_5 --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := make([]decoded, 0, len(args))
		for _, name := range args {
			p, err := coord.Decode(name)
			if err != nil {
				return err
			}
			out = append(out, decoded{Name: name, Point: p})
		}
		return outputResult(out)
	},
}

var coordEncodeCmd = &cobra.Command{
	Use:   "encode <x> <y>",
	Short: "Encode a point as a coordinate name",
	Long: `Encode a point as a coordinate name.

Examples:
  bigrid coord encode 1.5 2
  bigrid coord encode -- 1.5 -0.25`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		x, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid x %q: %w", args[0], err)
		}
		y, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid y %q: %w", args[1], err)
		}
		name, err := coord.Encode(coord.Point{X: x, Y: y})
		if err != nil {
			return err
		}
		fmt.Println(name)
		return nil
	},
}

func init() {
	coordCmd.AddCommand(coordDecodeCmd)
	coordCmd.AddCommand(coordEncodeCmd)
}
