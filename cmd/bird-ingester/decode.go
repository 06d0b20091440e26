package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/route-beacon/bird-ingester/internal/birdc"
	"github.com/route-beacon/bird-ingester/internal/state"
	"github.com/spf13/cobra"
)

type decodeOptions struct {
	kind     string
	name     string
	flatten  bool
	routerID string
	table    string
}

func newDecodeCommand() *cobra.Command {
	opts := &decodeOptions{}
	cmd := &cobra.Command{
		Use:   "decode [file]",
		Short: "Decode a captured control socket reply and print it as JSON",
		Long: "Decode a captured control socket reply read from file (or stdin when the\n" +
			"file is omitted or \"-\") and print the result as JSON.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return runDecode(in, cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.kind, "kind", "routes", "reply kind: routes, status, protocols or protocol")
	cmd.Flags().StringVar(&opts.name, "name", "", "protocol name (with --kind protocol)")
	cmd.Flags().BoolVar(&opts.flatten, "flatten", false, "print routes as storage rows instead of the decoded table")
	cmd.Flags().StringVar(&opts.routerID, "router-id", "", "router ID recorded in flattened rows")
	cmd.Flags().StringVar(&opts.table, "table", "", "table name recorded in flattened rows")
	return cmd
}

func runDecode(r io.Reader, w io.Writer, opts *decodeOptions) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading reply: %w", err)
	}
	lines := birdc.Lines(string(raw))

	var out any
	switch opts.kind {
	case "routes", "route":
		rt, err := birdc.DecodeRouteTable(lines)
		if err != nil {
			return err
		}
		out = rt
		if opts.flatten {
			out = state.FlattenTable(opts.routerID, opts.table, rt)
		}
	case "status":
		out, err = birdc.DecodeStatus(lines)
	case "protocols":
		out, err = birdc.DecodeProtocols(lines)
	case "protocol":
		if opts.name == "" {
			return fmt.Errorf("--name is required with --kind protocol")
		}
		out, err = birdc.DecodeProtocol(opts.name, lines)
	default:
		return fmt.Errorf("unknown reply kind %q", opts.kind)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
