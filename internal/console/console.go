// Package console prints the operator-facing progress of a provisioning run.
// Diagnostic detail goes to the log package instead.
package console

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

var (
	heading = color.New(color.Bold, color.FgCyan)
	info    = color.New(color.FgGreen)
	comment = color.New(color.FgYellow)
	failure = color.New(color.FgRed)
	yell    = color.New(color.Bold, color.FgWhite, color.BgRed)
)

// Console writes progress to Out and failures to Err.
type Console struct {
	Out io.Writer
	Err io.Writer
}

func New(stdout, stderr io.Writer) *Console {
	return &Console{Out: stdout, Err: stderr}
}

// Heading announces a pipeline step.
func (c *Console) Heading(format string, args ...interface{}) {
	heading.Fprintf(c.Out, "==> "+format+"\n", args...)
}

// Info reports something which was done.
func (c *Console) Info(format string, args ...interface{}) {
	info.Fprintf(c.Out, format+"\n", args...)
}

// Comment reports something which was skipped or needed no action.
func (c *Console) Comment(format string, args ...interface{}) {
	comment.Fprintf(c.Out, format+"\n", args...)
}

func (c *Console) Error(format string, args ...interface{}) {
	failure.Fprintf(c.Err, format+"\n", args...)
}

// Yell prints msg in a box, for things the operator must not miss.
func (c *Console) Yell(msg string) {
	border := strings.Repeat("-", len(msg)+4)
	yell.Fprintln(c.Out, border)
	yell.Fprintln(c.Out, "| "+msg+" |")
	yell.Fprintln(c.Out, border)
}

// Printf writes uncolored output, e.g. command output the operator asked for.
func (c *Console) Printf(format string, args ...interface{}) {
	fmt.Fprintf(c.Out, format, args...)
}
