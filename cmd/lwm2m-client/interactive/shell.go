// Package interactive provides the command shell of lwm2m-client.
package interactive

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/lwm2m-go/regsync/pkg/client"
	"github.com/lwm2m-go/regsync/pkg/dm"
)

// Shell reads commands from the terminal.
type Shell struct {
	rl *readline.Instance
}

// New creates a shell on the terminal.
func New() (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "lwm2m> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Shell{rl: rl}, nil
}

// Stdout returns a writer that does not disturb the prompt.
func (s *Shell) Stdout() io.Writer {
	return s.rl.Stdout()
}

// Stderr returns a writer that does not disturb the prompt. Use it for log
// output.
func (s *Shell) Stderr() io.Writer {
	return s.rl.Stderr()
}

// Run reads and executes commands until quit, EOF or ctx is done.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc, c *client.Client) {
	defer s.rl.Close()

	out := s.rl.Stdout()
	printHelp(out)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(out, "Exiting...")
			cancel()
			return
		}

		if quit := Execute(ctx, out, c, line); quit {
			cancel()
			return
		}
	}
}

// Execute runs one command line against c and reports whether the shell
// should exit.
func Execute(ctx context.Context, w io.Writer, c *client.Client, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		printHelp(w)

	case "list", "ls":
		fmt.Fprintln(w, c.Registry().Current().Listing())

	case "add", "add-instance":
		cmdMutate(w, args, "add", c.Registry().Add)

	case "remove", "rm", "remove-instance":
		cmdMutate(w, args, "remove", c.Registry().Remove)

	case "create":
		cmdCreate(w, c, args)

	case "remove-object", "unregister-object":
		cmdRemoveObject(w, c, args)

	case "register", "reg":
		cmdRegister(ctx, w, c, args)

	case "deregister", "dereg":
		cmdDeregister(ctx, w, c, args)

	case "reset":
		cmdReset(w, c, args)

	case "status", "st":
		cmdStatus(w, c)

	case "quit", "exit", "q":
		fmt.Fprintln(w, "Exiting...")
		return true

	default:
		fmt.Fprintf(w, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, `
Registration Client Commands:
  Instances:
    list                 - Show the enabled instances
    add <path>...        - Enable instances, e.g. add /3303/0 /3303/1
    remove <path>...     - Disable instances
    create <oid>         - Enable a new instance with the lowest free id
    remove-object <oid>  - Disable every instance of an object

  Sessions:
    status               - Show every session
    register [server]    - Register one server (or all)
    deregister [server]  - Deregister one server (or all)
    reset <server>       - Abandon a session without telling the server

  General:
    help                 - Show this help
    quit                 - Exit client`)
}

func cmdMutate(w io.Writer, args []string, verb string, apply func(...dm.Ref) bool) {
	if len(args) == 0 {
		fmt.Fprintf(w, "Usage: %s <path>...\n", verb)
		return
	}
	refs := make([]dm.Ref, 0, len(args))
	for _, a := range args {
		ref, err := dm.ParsePath(a)
		if err != nil {
			fmt.Fprintf(w, "Invalid path: %v\n", err)
			return
		}
		refs = append(refs, ref)
	}
	if !apply(refs...) {
		fmt.Fprintln(w, "No change")
		return
	}
	fmt.Fprintf(w, "OK: %s %s\n", verb, dm.NewSet(refs...).Listing())
}

func parseObjectID(s string) (dm.ObjectID, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "/"), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid object id %q", s)
	}
	return dm.ObjectID(v), nil
}

func cmdCreate(w io.Writer, c *client.Client, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(w, "Usage: create <oid>")
		return
	}
	oid, err := parseObjectID(args[0])
	if err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}
	ref, err := c.Registry().Create(oid)
	if err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(w, "Created %s\n", ref.Path())
}

func cmdRemoveObject(w io.Writer, c *client.Client, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(w, "Usage: remove-object <oid>")
		return
	}
	oid, err := parseObjectID(args[0])
	if err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}
	if !c.Registry().RemoveObject(oid) {
		fmt.Fprintf(w, "Object %d has no instances\n", oid)
		return
	}
	fmt.Fprintf(w, "Removed object %d\n", oid)
}

func cmdRegister(ctx context.Context, w io.Writer, c *client.Client, args []string) {
	var err error
	if len(args) == 0 {
		err = c.Start(ctx)
	} else {
		err = c.Register(ctx, args[0])
	}
	if err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(w, "Registered")
}

func cmdDeregister(ctx context.Context, w io.Writer, c *client.Client, args []string) {
	names := args
	if len(names) == 0 {
		for _, s := range c.Sessions() {
			names = append(names, s.Server())
		}
	}
	for _, name := range names {
		if err := c.Deregister(ctx, name); err != nil {
			fmt.Fprintf(w, "%s: %v\n", name, err)
			continue
		}
		fmt.Fprintf(w, "%s: deregistered\n", name)
	}
}

func cmdReset(w io.Writer, c *client.Client, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(w, "Usage: reset <server>")
		return
	}
	s, ok := c.Session(args[0])
	if !ok {
		fmt.Fprintf(w, "Unknown server: %s\n", args[0])
		return
	}
	s.Reset()
	fmt.Fprintf(w, "%s: reset\n", args[0])
}

func cmdStatus(w io.Writer, c *client.Client) {
	fmt.Fprintf(w, "Instances: %s\n", c.Registry().Current().Listing())
	for _, st := range c.Status() {
		fmt.Fprintf(w, "\n%s [%s]\n", st.Server, shortID(st.SessionID))
		fmt.Fprintf(w, "  State:        %s\n", st.State)
		if st.Location != "" {
			fmt.Fprintf(w, "  Location:     %s\n", st.Location)
		}
		fmt.Fprintf(w, "  Acknowledged: %s\n", st.Acknowledged)
		if st.Orphaned {
			fmt.Fprintln(w, "  Orphaned:     server instance removed")
		}
		if st.LastError != nil {
			fmt.Fprintf(w, "  Last error:   %v\n", st.LastError)
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
