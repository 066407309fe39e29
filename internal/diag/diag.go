// Package diag collects the diagnostics produced while compiling annotated
// sources. Recoverable problems are accumulated in a List; structural
// problems that make further lexing meaningless are returned as a
// *FatalError and abort the run.
package diag

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/sirupsen/logrus"
)

// Severity of a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is one message tied to a source position.
type Diagnostic struct {
	File     string   `json:"file"`
	Line     int      `json:"line"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// String renders the diagnostic in the file:line: severity: message form.
func (d Diagnostic) String() string {
	return fmt.Sprintf("%s:%d: %s: %s", d.File, d.Line, d.Severity, d.Message)
}

// List accumulates diagnostics for one or more files. The zero value is
// ready to use.
type List struct {
	items  []Diagnostic
	errors int
	// Log receives warnings as they are recorded. Nil means the standard
	// logrus logger.
	Log logrus.FieldLogger
}

// Errorf records an error at file:line.
func (l *List) Errorf(file string, line int, format string, args ...interface{}) {
	l.items = append(l.items, Diagnostic{
		File:     file,
		Line:     line,
		Severity: SeverityError,
		Message:  fmt.Sprintf(format, args...),
	})
	l.errors++
}

// Warnf records an advisory warning. Warnings are logged and kept for
// reporting but never counted as errors.
func (l *List) Warnf(file string, line int, format string, args ...interface{}) {
	d := Diagnostic{
		File:     file,
		Line:     line,
		Severity: SeverityWarning,
		Message:  fmt.Sprintf(format, args...),
	}
	l.items = append(l.items, d)
	l.logger().WithFields(logrus.Fields{"file": file, "line": line}).Warn(d.Message)
}

func (l *List) logger() logrus.FieldLogger {
	if l.Log != nil {
		return l.Log
	}
	return logrus.StandardLogger()
}

// ErrorCount returns the number of errors recorded.
func (l *List) ErrorCount() int { return l.errors }

// WarningCount returns the number of warnings recorded.
func (l *List) WarningCount() int { return len(l.items) - l.errors }

// All returns every diagnostic in recording order.
func (l *List) All() []Diagnostic { return l.items }

// Errors returns only the error diagnostics.
func (l *List) Errors() []Diagnostic {
	return l.filter(SeverityError)
}

// Warnings returns only the warning diagnostics.
func (l *List) Warnings() []Diagnostic {
	return l.filter(SeverityWarning)
}

func (l *List) filter(sev Severity) []Diagnostic {
	var out []Diagnostic
	for _, d := range l.items {
		if d.Severity == sev {
			out = append(out, d)
		}
	}
	return out
}

// Since returns the diagnostics recorded after the first n.
func (l *List) Since(n int) []Diagnostic {
	if n >= len(l.items) {
		return nil
	}
	return l.items[n:]
}

// Len returns the total number of diagnostics.
func (l *List) Len() int { return len(l.items) }

// Sort orders diagnostics by file then line, keeping recording order for
// ties.
func (l *List) Sort() {
	sort.SliceStable(l.items, func(i, j int) bool {
		if l.items[i].File != l.items[j].File {
			return l.items[i].File < l.items[j].File
		}
		return l.items[i].Line < l.items[j].Line
	})
}

// Print writes every error diagnostic, one per line.
func Print(w io.Writer, diags []Diagnostic) {
	for _, d := range diags {
		fmt.Fprintln(w, d.String())
	}
}

// FatalError is a structural failure that desynchronizes the lexer.
type FatalError struct {
	File string
	Line int
	Msg  string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s:%d: fatal: %s", e.File, e.Line, e.Msg)
}

// Fatalf builds a *FatalError.
func Fatalf(file string, line int, format string, args ...interface{}) error {
	return &FatalError{File: file, Line: line, Msg: fmt.Sprintf(format, args...)}
}

// IsFatal reports whether err carries a *FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// NewLogger returns a text logger writing to stderr. verbosity 0 logs
// warnings, 1 info, 2 and above debug.
func NewLogger(verbosity int) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	switch {
	case verbosity >= 2:
		log.SetLevel(logrus.DebugLevel)
	case verbosity == 1:
		log.SetLevel(logrus.InfoLevel)
	default:
		log.SetLevel(logrus.WarnLevel)
	}
	return log
}
