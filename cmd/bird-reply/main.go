// Command bird-reply sends a command to the daemon, or reads a captured
// reply, and prints the raw lines together with the decoded result.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/route-beacon/bird-ingester/internal/birdc"
	"github.com/route-beacon/bird-ingester/internal/history"
	flag "github.com/spf13/pflag"
)

func main() {
	var (
		socket     = flag.StringP("socket", "s", birdc.DefaultSocketPath, "control socket path")
		command    = flag.StringP("command", "c", "show status", "command to send")
		file       = flag.StringP("file", "f", "", "read a captured reply from file instead of the socket")
		compressed = flag.Bool("zstd", false, "the captured reply is zstd compressed (as stored in raw_replies)")
		rawOnly    = flag.Bool("raw", false, "print the reply lines without decoding")
		timeout    = flag.Duration("timeout", 10*time.Second, "query timeout")
	)
	flag.Parse()

	lines, err := readReply(*socket, *command, *file, *compressed, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bird-reply: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("=== %d reply lines ===\n", len(lines))
	for i, l := range lines {
		rl := birdc.SplitLine(l)
		fmt.Printf("%4d code=%-4s cont=%-5v final=%-5v %q\n", i, rl.Code, rl.Continuation, rl.Final(), rl.Payload)
	}
	if *rawOnly {
		return
	}

	fmt.Println()
	if err := decode(os.Stdout, *command, lines); err != nil {
		var pe *birdc.ParseError
		if errors.As(err, &pe) && pe.Line != "" {
			fmt.Fprintf(os.Stderr, "bird-reply: decode failed at line %q: %s\n", pe.Line, pe.Reason)
		} else {
			fmt.Fprintf(os.Stderr, "bird-reply: decode failed: %v\n", err)
		}
		os.Exit(1)
	}
}

func readReply(socket, command, file string, compressed bool, timeout time.Duration) ([]string, error) {
	if file == "" {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return birdc.NewClient(socket).Query(ctx, command)
	}

	var r io.Reader = os.Stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if compressed {
		return history.DecodeRawReply(data, true)
	}
	return birdc.Lines(string(data)), nil
}

// decode picks the decoder from the command the reply answers.
func decode(w io.Writer, command string, lines []string) error {
	fields := strings.Fields(command)
	var (
		out any
		err error
	)
	switch {
	case len(fields) >= 2 && fields[0] == "show" && fields[1] == "route":
		out, err = birdc.DecodeRouteTable(lines)
	case len(fields) >= 2 && fields[0] == "show" && fields[1] == "status":
		out, err = birdc.DecodeStatus(lines)
	case len(fields) >= 4 && fields[0] == "show" && fields[1] == "protocols" && fields[2] == "all":
		out, err = birdc.DecodeProtocol(fields[3], lines)
	case len(fields) >= 2 && fields[0] == "show" && fields[1] == "protocols":
		out, err = birdc.DecodeProtocols(lines)
	default:
		return fmt.Errorf("no decoder for command %q", command)
	}
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
