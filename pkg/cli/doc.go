// Package cli holds the pieces shared by the bigrid commands: the YAML
// configuration file, result output with optional jq filtering, and the
// styled live event printer.
//
// Configuration is stored in ~/.bigrid/config.yaml:
//
//	parser:
//	  layout: multi
//	  coordinates: links
//	  preferred_port: 4
//	rawsock:
//	  enabled: true
//	  addr: ws://localhost:8765
//	  channels: 4
//	pubsub:
//	  enabled: true
//	  addr: ws://localhost:9090
//	  topic: world/blocks
//
// Example usage:
//
//	cfg, err := cli.LoadConfig("")
//	opts, err := cfg.Parser.Options()
//
//	cli.Output(result, cli.OutputOptions{
//	    Format: cli.FormatJSON,
//	    Query:  ".cells[].point",
//	})
package cli
