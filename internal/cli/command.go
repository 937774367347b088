package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"
)

// Usage errors, reported together with the command's help.
var (
	errMissingArg    = errors.New("missing required argument")
	errUnexpectedArg = errors.New("unexpected argument")
)

// Command is one kanbus subcommand.
type Command struct {
	// Flags are the command's own flags. Its name is ignored.
	Flags *flag.FlagSet

	// Usage follows "kanbus" in help and starts with the command name,
	// e.g. "show <id>" or "daemon --root <dir>".
	Usage string

	// Args names the positional arguments the command takes, all required.
	// Anything beyond them is a usage error.
	Args []string

	// Short is the line shown in the command listing; Long, when set,
	// replaces it in the command's own help.
	Short string
	Long  string

	// Exec runs the command with len(Args) positional arguments.
	Exec func(ctx context.Context, o *IO, args []string) error
}

// Name is the first word of Usage.
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")

	return name
}

// HelpLine is the command's entry in the top-level help.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-24s %s", c.Usage, c.Short)
}

// PrintHelp prints the help for "kanbus <cmd> --help".
func (c *Command) PrintHelp(o *IO) {
	o.Println("Usage: kanbus", c.Usage)
	o.Println()

	desc := c.Long
	if desc == "" {
		desc = c.Short
	}

	o.Println(desc)

	if len(c.Args) > 0 {
		o.Println()
		o.Println("Arguments:")

		for _, name := range c.Args {
			o.Printf("  <%s>\n", name)
		}
	}

	if c.Flags != nil && c.Flags.HasFlags() {
		o.Println()
		o.Println("Flags:")
		o.Printf("%s", c.Flags.FlagUsages())
	}
}

// Run parses args, executes the command and returns its exit code. Usage
// errors print the command's help to stderr; other errors print only the
// error.
func (c *Command) Run(ctx context.Context, o *IO, args []string) int {
	c.Flags.SetOutput(&strings.Builder{})

	err := c.Flags.Parse(args)
	if errors.Is(err, flag.ErrHelp) {
		c.PrintHelp(o)

		return 0
	}

	if err == nil {
		err = c.checkArgs(c.Flags.Args())
	}

	if err != nil {
		o.ErrPrintln("error:", err)
		o.ErrPrintln()
		c.PrintHelp(o.Stderr())

		return 1
	}

	err = c.Exec(ctx, o, c.Flags.Args())
	if err != nil {
		o.ErrPrintln("error:", err)

		return 1
	}

	return o.Finish()
}

func (c *Command) checkArgs(args []string) error {
	if len(args) < len(c.Args) {
		return fmt.Errorf("%w <%s>", errMissingArg, c.Args[len(args)])
	}

	if len(args) > len(c.Args) {
		return fmt.Errorf("%w %q", errUnexpectedArg, args[len(c.Args)])
	}

	return nil
}
