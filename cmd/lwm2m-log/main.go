// Command lwm2m-log views and analyzes protocol log files written by
// lwm2m-client with the -protocol-log flag.
//
// Usage:
//
//	lwm2m-log <command> [flags] <file.rlog>
//
// Commands:
//
//	view     View log file in human-readable format
//	export   Export log file to JSON lines or CSV
//	filter   Filter log file and write to new file
//	stats    Show statistics about the log file
//
// Examples:
//
//	# View only exchange-layer events
//	lwm2m-log view -layer exchange client.rlog
//
//	# Show Update exchanges and the responses that matched nothing
//	lwm2m-log view -operation update client.rlog
//	lwm2m-log view -strays client.rlog
//
//	# Keep one session's events
//	lwm2m-log filter -session 3f2a9c1e-... -o one.rlog client.rlog
//
//	# Show statistics
//	lwm2m-log stats client.rlog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/lwm2m-go/regsync/cmd/lwm2m-log/commands"
)

const usage = `lwm2m-log - registration protocol log analyzer

Usage:
  lwm2m-log <command> [flags] <file.rlog>

Commands:
  view     View log file in human-readable format
  export   Export log file to JSON lines or CSV
  filter   Filter log file and write to new file
  stats    Show statistics about the log file

Use "lwm2m-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

// selection holds the flags shared by view and filter.
type selection struct {
	layer     *string
	direction *string
	category  *string
	operation *string
	strays    *bool
}

func addSelectionFlags(fs *flag.FlagSet) selection {
	return selection{
		layer:     fs.String("layer", "", "Filter by layer (transport, exchange, session)"),
		direction: fs.String("direction", "", "Filter by direction (in, out)"),
		category:  fs.String("category", "", "Filter by category (message, state, error)"),
		operation: fs.String("operation", "", "Filter by operation (register, update, deregister)"),
		strays:    fs.Bool("strays", false, "Only show inbound messages that matched no exchange"),
	}
}

func (s selection) options() commands.FilterOptions {
	return commands.FilterOptions{
		Layer:      *s.layer,
		Direction:  *s.direction,
		Category:   *s.category,
		Operation:  *s.operation,
		StraysOnly: *s.strays,
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func requirePath(fs *flag.FlagSet) string {
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: log file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func runView(args []string) {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `lwm2m-log view - View log file in human-readable format

Usage:
  lwm2m-log view [flags] <file.rlog>

Flags:
`)
		fs.PrintDefaults()
	}
	sel := addSelectionFlags(fs)

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := requirePath(fs)

	filter, err := commands.BuildFilter(sel.options())
	if err != nil {
		fail(err)
	}
	if err := commands.RunView(path, filter, os.Stdout); err != nil {
		fail(err)
	}
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `lwm2m-log export - Export log file to JSON lines or CSV

Usage:
  lwm2m-log export [flags] <file.rlog>

Flags:
`)
		fs.PrintDefaults()
	}

	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := requirePath(fs)

	if err := commands.RunExport(path, *format, *output); err != nil {
		fail(err)
	}
}

func runFilter(args []string) {
	fs := flag.NewFlagSet("filter", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `lwm2m-log filter - Filter log file and write to new file

Usage:
  lwm2m-log filter [flags] <file.rlog>

Flags:
`)
		fs.PrintDefaults()
	}

	output := fs.String("o", "", "Output file (required)")
	sessionID := fs.String("session", "", "Filter by session ID")
	endpoint := fs.String("endpoint", "", "Filter by endpoint name")
	timeStart := fs.String("time-start", "", "Filter by start time (RFC3339)")
	timeEnd := fs.String("time-end", "", "Filter by end time (RFC3339)")
	sel := addSelectionFlags(fs)

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := requirePath(fs)

	if *output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}

	opts := sel.options()
	opts.Output = *output
	opts.SessionID = *sessionID
	opts.Endpoint = *endpoint
	opts.TimeStart = *timeStart
	opts.TimeEnd = *timeEnd

	count, err := commands.RunFilter(path, opts)
	if err != nil {
		fail(err)
	}
	fmt.Printf("Filtered %d events to %s\n", count, opts.Output)
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `lwm2m-log stats - Show statistics about the log file

Usage:
  lwm2m-log stats <file.rlog>

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := requirePath(fs)

	if err := commands.RunStats(path, os.Stdout); err != nil {
		fail(err)
	}
}
