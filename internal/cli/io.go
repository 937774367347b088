package cli

import (
	"fmt"
	"io"
)

// Warning is a problem found while a command still produced a result, such
// as an issue that points at a dependency missing from the project.
type Warning struct {
	// Subject says what is wrong, naming the issue involved.
	Subject string
	// Fix tells the reader what to change to clear the warning.
	Fix string
}

func (w Warning) String() string {
	if w.Fix == "" {
		return "warning: " + w.Subject
	}

	return "warning: " + w.Subject + " (fix: " + w.Fix + ")"
}

// IO is the output of one command invocation.
//
// Warnings go to stderr before the first line of stdout and are repeated
// after the last one, so they survive output cut short by head or tail. A
// command that collected warnings exits 1 even though its output is printed.
type IO struct {
	out    io.Writer
	errOut io.Writer

	warnings []Warning
	// wroteOut is set once stdout received output.
	wroteOut bool
}

// NewIO writes results to out and diagnostics to errOut.
func NewIO(out, errOut io.Writer) *IO {
	return &IO{out: out, errOut: errOut}
}

// Stderr returns an IO whose results also go to stderr, for help printed
// after a usage error.
func (o *IO) Stderr() *IO {
	return &IO{out: o.errOut, errOut: o.errOut}
}

// Warn records w for printing around the command's output.
func (o *IO) Warn(w Warning) {
	o.warnings = append(o.warnings, w)
}

// Warnings returns the warnings recorded so far.
func (o *IO) Warnings() []Warning {
	return o.warnings
}

// Println writes a result line to stdout.
func (o *IO) Println(a ...any) {
	o.beforeOutput()
	_, _ = fmt.Fprintln(o.out, a...)
}

// Printf writes formatted results to stdout.
func (o *IO) Printf(format string, a ...any) {
	o.beforeOutput()
	_, _ = fmt.Fprintf(o.out, format, a...)
}

// ErrPrintln writes a diagnostic line to stderr.
func (o *IO) ErrPrintln(a ...any) {
	_, _ = fmt.Fprintln(o.errOut, a...)
}

// ErrPrintf writes a formatted diagnostic to stderr.
func (o *IO) ErrPrintf(format string, a ...any) {
	_, _ = fmt.Fprintf(o.errOut, format, a...)
}

// Finish prints the warnings after the output and returns the exit code: 1
// when there were warnings, 0 otherwise.
func (o *IO) Finish() int {
	if len(o.warnings) == 0 {
		return 0
	}

	// Without stdout nothing was announced, so this is the only block.
	o.printWarnings(o.warnings)

	return 1
}

func (o *IO) beforeOutput() {
	if !o.wroteOut && len(o.warnings) > 0 {
		o.printWarnings(o.warnings)
	}

	o.wroteOut = true
}

func (o *IO) printWarnings(warnings []Warning) {
	for _, w := range warnings {
		_, _ = fmt.Fprintln(o.errOut, w.String())
	}
}
