// Package output renders command results as tables, JSON or YAML.
package output

import (
	"fmt"
	"io"
	"strings"
)

// Format represents the output format type.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a string into a Format, returning an error if invalid.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "table", "":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("invalid output format: %q (valid: table, json, yaml)", s)
	}
}

func (f Format) String() string {
	return string(f)
}

// Printer writes results to out and human-facing status lines to msg.
// The two differ when out carries file contents, as with cat.
type Printer struct {
	out    io.Writer
	msg    io.Writer
	format Format
	color  bool
}

// NewPrinter creates a Printer. Status lines go to msg; a nil msg reuses out.
func NewPrinter(out, msg io.Writer, format Format, color bool) *Printer {
	if msg == nil {
		msg = out
	}
	return &Printer{out: out, msg: msg, format: format, color: color}
}

func (p *Printer) Format() Format { return p.format }

func (p *Printer) Writer() io.Writer { return p.out }

func (p *Printer) ColorEnabled() bool { return p.color }

// Print outputs data in the configured format. Tables need a
// TableRenderer; anything else falls back to JSON.
func (p *Printer) Print(data any) error {
	switch p.format {
	case FormatTable:
		if renderer, ok := data.(TableRenderer); ok {
			return PrintTable(p.out, renderer)
		}
		return PrintJSON(p.out, data)
	case FormatJSON:
		return PrintJSON(p.out, data)
	case FormatYAML:
		return PrintYAML(p.out, data)
	default:
		return fmt.Errorf("unknown format: %s", p.format)
	}
}

// Status prints a status line unless a machine-readable format is selected,
// where it would corrupt the document on out when out and msg coincide.
func (p *Printer) Status(format string, args ...any) {
	if p.format != FormatTable && p.msg == p.out {
		return
	}
	_, _ = fmt.Fprintf(p.msg, format+"\n", args...)
}

func (p *Printer) Success(msg string) { p.colored("32", msg) }

func (p *Printer) Warning(msg string) { p.colored("33", msg) }

func (p *Printer) Error(msg string) { p.colored("31", msg) }

func (p *Printer) colored(code, msg string) {
	if p.color {
		_, _ = fmt.Fprintf(p.msg, "\033[%sm%s\033[0m\n", code, msg)
		return
	}
	_, _ = fmt.Fprintln(p.msg, msg)
}
