package util

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
	"tlog.app/go/errors"

	"github.com/xplshn/vibec/pkg/token"
)

// Kind classifies a diagnostic. Refinements report their parent through Parent.
type Kind int

const (
	LexicalError Kind = iota
	SyntaxError
	SemanticError
	NameError
	TypeError
	ScopeError
	CodeGenerationError
	OptimizationError
	RuntimeError
	DivisionByZero
	IndexOutOfBounds
	Warning
)

var kindNames = map[Kind]string{
	LexicalError:        "LexicalError",
	SyntaxError:         "SyntaxError",
	SemanticError:       "SemanticError",
	NameError:           "NameError",
	TypeError:           "TypeError",
	ScopeError:          "ScopeError",
	CodeGenerationError: "CodeGenerationError",
	OptimizationError:   "OptimizationError",
	RuntimeError:        "RuntimeError",
	DivisionByZero:      "DivisionByZero",
	IndexOutOfBounds:    "IndexOutOfBounds",
	Warning:             "Warning",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) Parent() Kind {
	switch k {
	case NameError, TypeError, ScopeError:
		return SemanticError
	case DivisionByZero, IndexOutOfBounds:
		return RuntimeError
	}
	return k
}

// Code is the wire-level error code.
func (k Kind) Code() string {
	switch k.Parent() {
	case LexicalError:
		return "LEX_ERROR"
	case SyntaxError:
		return "SYNTAX_ERROR"
	case SemanticError:
		return "SEM_ERROR"
	case CodeGenerationError:
		return "CODEGEN_ERROR"
	case RuntimeError:
		return "RUNTIME_ERROR"
	case Warning:
		return "WARNING"
	}
	return "INTERNAL"
}

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is the structured error value every phase returns.
// Line and Column are 1-based; zero means the position is unknown.
type Diagnostic struct {
	Kind     Kind
	Line     int
	Column   int
	Len      int
	Message  string
	Severity Severity
}

func (d *Diagnostic) Error() string {
	if d.Line == 0 {
		return fmt.Sprintf("%s: %s", d.Kind, d.Message)
	}
	return fmt.Sprintf("%d:%d: %s: %s", d.Line, d.Column, d.Kind, d.Message)
}

func (d *Diagnostic) Code() string { return d.Kind.Code() }

func (d *Diagnostic) MarshalJSON() ([]byte, error) {
	type wire struct {
		Line     *int     `json:"line"`
		Column   *int     `json:"column"`
		Message  string   `json:"message"`
		Code     string   `json:"code"`
		Kind     string   `json:"kind"`
		Severity Severity `json:"severity"`
	}
	w := wire{Message: d.Message, Code: d.Code(), Kind: d.Kind.String(), Severity: d.Severity}
	if d.Line > 0 {
		line, col := d.Line, d.Column
		w.Line, w.Column = &line, &col
	}
	return json.Marshal(w)
}

// Errorf builds an error diagnostic positioned at tok.
func Errorf(kind Kind, tok token.Token, format string, args ...interface{}) *Diagnostic {
	return &Diagnostic{
		Kind: kind, Line: tok.Line, Column: tok.Column, Len: tok.Len,
		Message: fmt.Sprintf(format, args...), Severity: SeverityError,
	}
}

// ErrorAt builds an error diagnostic from a raw position. A zero line leaves it unpositioned.
func ErrorAt(kind Kind, line, column int, format string, args ...interface{}) *Diagnostic {
	return &Diagnostic{
		Kind: kind, Line: line, Column: column, Len: 1,
		Message: fmt.Sprintf(format, args...), Severity: SeverityError,
	}
}

// Warnf builds a non-fatal diagnostic.
func Warnf(line, column int, format string, args ...interface{}) *Diagnostic {
	return &Diagnostic{
		Kind: Warning, Line: line, Column: column, Len: 1,
		Message: fmt.Sprintf(format, args...), Severity: SeverityWarning,
	}
}

// AsDiagnostic digs the structured diagnostic out of a wrapped error chain.
func AsDiagnostic(err error) (*Diagnostic, bool) {
	var d *Diagnostic
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}

// IsKind reports whether err carries a diagnostic of kind or of a refinement of kind.
func IsKind(err error, kind Kind) bool {
	d, ok := AsDiagnostic(err)
	if !ok {
		return false
	}
	return d.Kind == kind || d.Kind.Parent() == kind
}

// ColorEnabled reports whether f is a terminal that should receive ANSI colors.
func ColorEnabled(f *os.File) bool { return term.IsTerminal(int(f.Fd())) }

// Render writes the human-readable form of err with a caret excerpt from source.
func Render(w io.Writer, err error, source string, color bool) {
	d, ok := AsDiagnostic(err)
	if !ok {
		fmt.Fprintf(w, "%s: %v\n", paint("ERROR", "\033[31m", color), err)
		return
	}

	head, code := "ERROR", "\033[31m"
	if d.Severity == SeverityWarning {
		head, code = "WARNING", "\033[33m"
	}
	if d.Line == 0 {
		fmt.Fprintf(w, "%s: %s\n", paint(head, code, color), d.Message)
		return
	}
	fmt.Fprintf(w, "%s at line %d, column %d: %s\n", paint(head, code, color), d.Line, d.Column, d.Message)
	printErrorLine(w, source, d, color)
}

// printErrorLine prints the source line and a caret indicating the error position
func printErrorLine(w io.Writer, source string, d *Diagnostic, color bool) {
	lines := strings.Split(source, "\n")
	if d.Line < 1 || d.Line > len(lines) {
		return
	}
	line := strings.TrimRight(lines[d.Line-1], "\r")
	fmt.Fprintf(w, "  %s\n", line)

	col := d.Column
	if col < 1 {
		col = 1
	}
	caret := "^"
	if d.Len > 1 {
		caret += strings.Repeat("~", d.Len-1)
	}
	fmt.Fprintf(w, "  %s%s\n", strings.Repeat(" ", col-1), paint(caret, "\033[32m", color))
}

func paint(s, code string, color bool) string {
	if !color {
		return s
	}
	return code + s + "\033[0m"
}
