// Package suite reads golden programs out of markdown documents.
//
// A case starts at a heading "Test: <name>" and is followed by one `vibe`
// fence holding the program and one expectation fence: `output` for the
// exact VM output or `error` for "<Kind>: <message>".
package suite

import (
	"bytes"
	"os"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"tlog.app/go/errors"

	"github.com/xplshn/vibec/pkg/util"
)

const (
	FenceSource = "vibe"
	FenceOutput = "output"
	FenceError  = "error"
)

type Case struct {
	Name   string
	Source string
	// Output is the expected VM output when WantOutput is set.
	Output     string
	WantOutput bool
	// Error is the expected "<Kind>: <message>" of a failing program.
	Error string
	Line  int
}

// WantError reports whether the case expects compilation or execution to fail.
func (c *Case) WantError() bool { return c.Error != "" }

// Describe renders err the way error fences spell it.
func Describe(err error) string {
	if d, ok := util.AsDiagnostic(err); ok {
		return d.Kind.String() + ": " + d.Message
	}
	return err.Error()
}

// Load reads and extracts every case in the markdown file at path.
func Load(path string) ([]Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read suite")
	}
	cases, err := Extract(data)
	if err != nil {
		return nil, errors.Wrap(err, "%v", path)
	}
	return cases, nil
}

// Extract walks a markdown document and collects its cases in order.
func Extract(source []byte) ([]Case, error) {
	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	var cases []Case
	var cur *Case
	names := make(map[string]bool)

	flush := func() error {
		if cur == nil {
			return nil
		}
		if err := validate(cur); err != nil {
			return err
		}
		cases = append(cases, *cur)
		return nil
	}

	err := ast.Walk(doc, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch n := node.(type) {
		case *ast.Heading:
			heading := nodeText(n, source)
			if !strings.HasPrefix(heading, "Test: ") {
				return ast.WalkContinue, nil
			}
			if err := flush(); err != nil {
				return ast.WalkStop, err
			}
			name := strings.TrimSpace(strings.TrimPrefix(heading, "Test: "))
			if names[name] {
				return ast.WalkStop, errors.New("duplicate test name '%s'", name)
			}
			names[name] = true
			cur = &Case{Name: name}

		case *ast.FencedCodeBlock:
			lang := string(n.Language(source))
			line := lineOf(n, source)
			if cur == nil {
				if lang != "" {
					return ast.WalkStop, errors.New("line %d: %s fence outside of a test", line, lang)
				}
				return ast.WalkContinue, nil
			}

			content := strings.TrimRight(blockText(n, source), "\n")
			switch lang {
			case FenceSource:
				if cur.Source != "" {
					return ast.WalkStop, errors.New("line %d: multiple %s fences in test '%s'", line, lang, cur.Name)
				}
				cur.Source, cur.Line = content, line
			case FenceOutput:
				if cur.WantOutput {
					return ast.WalkStop, errors.New("line %d: multiple %s fences in test '%s'", line, lang, cur.Name)
				}
				cur.Output, cur.WantOutput = content, true
			case FenceError:
				if cur.Error != "" {
					return ast.WalkStop, errors.New("line %d: multiple %s fences in test '%s'", line, lang, cur.Name)
				}
				cur.Error = content
			default:
				return ast.WalkStop, errors.New("line %d: unknown fence language '%s' in test '%s'", line, lang, cur.Name)
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "walk markdown")
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return cases, nil
}

func validate(c *Case) error {
	switch {
	case c.Source == "":
		return errors.New("test '%s' has no %s fence", c.Name, FenceSource)
	case c.WantOutput && c.WantError():
		return errors.New("test '%s' expects both output and an error", c.Name)
	case !c.WantOutput && !c.WantError():
		return errors.New("test '%s' has no expectation fence", c.Name)
	}
	return nil
}

func nodeText(node ast.Node, source []byte) string {
	var buf bytes.Buffer
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if t, ok := n.(*ast.Text); ok && entering {
			buf.Write(t.Segment.Value(source))
		}
		return ast.WalkContinue, nil
	})
	return buf.String()
}

func blockText(block *ast.FencedCodeBlock, source []byte) string {
	var buf bytes.Buffer
	lines := block.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(source))
	}
	return buf.String()
}

// lineOf returns the 1-based line of the first content line of node.
func lineOf(node ast.Node, source []byte) int {
	if node.Lines().Len() == 0 {
		return 1
	}
	start := node.Lines().At(0).Start
	if start > len(source) {
		start = len(source)
	}
	return bytes.Count(source[:start], []byte{'\n'}) + 1
}
