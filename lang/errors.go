package lang

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/alecthomas/participle/v2/lexer"
)

type FaultKind int

const (
	FaultRun FaultKind = iota
	FaultType
	FaultValue
	FaultAssert
	FaultBlock
	FaultStack
	FaultOperand
	FaultFrozen
)

func (k FaultKind) String() string {
	switch k {
	case FaultType:
		return "type error"
	case FaultValue:
		return "invalid value"
	case FaultAssert:
		return "assertion failed"
	case FaultBlock:
		return "blocking not allowed"
	case FaultStack:
		return "stack underflow"
	case FaultOperand:
		return "bad operand"
	case FaultFrozen:
		return "script frozen"
	default:
		return "script error"
	}
}

// ScriptFault is raised by handlers and the fetch engine. UpdateVM folds
// every fault into a RunError.
type ScriptFault struct {
	Kind    FaultKind
	Message string
}

func (f *ScriptFault) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func newFault(kind FaultKind, format string, args ...any) error {
	return &ScriptFault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Fault is the constructor handlers outside this package use to report
// script failures.
func Fault(kind FaultKind, format string, args ...any) error {
	return newFault(kind, format, args...)
}

// RunError is the single error kind UpdateVM reports for script failures.
type RunError struct {
	Script    string
	IP        int
	CommandIP int
	Command   string
	Line      int
	Cause     error
}

func (e *RunError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run error in %q", e.Script)
	if e.Command != "" {
		fmt.Fprintf(&b, " at %s", e.Command)
	}
	fmt.Fprintf(&b, " (ip %d", e.CommandIP)
	if e.Line > 0 {
		fmt.Fprintf(&b, ", line %d", e.Line)
	}
	fmt.Fprintf(&b, "): %v", e.Cause)
	return b.String()
}

func (e *RunError) Unwrap() error { return e.Cause }

// Kind returns the fault kind behind the error, FaultRun when the cause is
// not a ScriptFault.
func (e *RunError) Kind() FaultKind {
	if f, ok := e.Cause.(*ScriptFault); ok {
		return f.Kind
	}
	return FaultRun
}

// InvalidAgentHandleError is returned when a handle is null, stale or refers
// to a killed agent. UpdateVM passes it through unwrapped so callers can treat
// it separately from RunError.
type InvalidAgentHandleError struct {
	Handle AgentHandle
	Reason string
}

func (e *InvalidAgentHandleError) Error() string {
	return fmt.Sprintf("invalid agent handle %s: %s", e.Handle, e.Reason)
}

type AssembleErrorKind int

const (
	ErrorSyntax AssembleErrorKind = iota
	ErrorUnknownName
	ErrorOperand
)

type AssembleError struct {
	Kind    AssembleErrorKind
	Message string
	Pos     lexer.Position
	Source  string
	Help    string
	Snippet string
}

func (e *AssembleError) Error() string {
	return formatError(e)
}

func formatError(err *AssembleError) string {
	var b strings.Builder

	var errorType string
	switch err.Kind {
	case ErrorSyntax:
		errorType = "syntax error"
	case ErrorUnknownName:
		errorType = "unknown name"
	case ErrorOperand:
		errorType = "operand error"
	default:
		errorType = "assembly error"
	}

	fmt.Fprintf(&b, "\x1b[1;31m%s\x1b[0m: %s\n", errorType, err.Message)

	lines := strings.Split(err.Source, "\n")
	if err.Pos.Line > 0 && err.Pos.Line <= len(lines) {
		lineNum := err.Pos.Line
		line := lines[lineNum-1]

		fmt.Fprintf(&b, "\x1b[1;34m-->\x1b[0m %s:%d:%d\n", err.Pos.Filename, err.Pos.Line, err.Pos.Column)

		if lineNum > 1 {
			fmt.Fprintf(&b, "%4d | %s\n", lineNum-1, lines[lineNum-2])
		}
		fmt.Fprintf(&b, "%4d | %s\n", lineNum, line)

		pointer := strings.Repeat(" ", max(err.Pos.Column-1, 0)) + "\x1b[1;31m^"
		if n := utf8.RuneCountInString(err.Snippet); n > 1 {
			pointer += strings.Repeat("~", n-1)
		}
		fmt.Fprintf(&b, "     | %s\x1b[0m\n", pointer)

		if lineNum < len(lines) {
			fmt.Fprintf(&b, "%4d | %s\n", lineNum+1, lines[lineNum])
		}
	}

	if err.Help != "" {
		fmt.Fprintf(&b, "\n\x1b[1;32mhelp\x1b[0m: %s\n", err.Help)
	}

	return b.String()
}

func newAssembleError(kind AssembleErrorKind, pos lexer.Position, source, snippet, message, help string) error {
	return &AssembleError{
		Kind:    kind,
		Message: message,
		Pos:     pos,
		Source:  source,
		Help:    help,
		Snippet: snippet,
	}
}
