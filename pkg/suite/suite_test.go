package suite

import (
	"strings"
	"testing"

	"github.com/nalgeon/be"
)

const fence = "```"

func TestExtract_Basic(t *testing.T) {
	markdown := `# Programs

## Test: sum
` + fence + `vibe
starterPack P {
    shoutout(1 + 2);
}
` + fence + `
` + fence + `output
3
` + fence + `

## Test: bad
` + fence + `vibe
starterPack P { shoutout(y); }
` + fence + `
` + fence + `error
NameError: Undeclared variable: y
` + fence

	cases, err := Extract([]byte(markdown))
	be.Err(t, err, nil)
	be.Equal(t, len(cases), 2)

	be.Equal(t, cases[0].Name, "sum")
	be.Equal(t, cases[0].Source, "starterPack P {\n    shoutout(1 + 2);\n}")
	be.True(t, cases[0].WantOutput)
	be.Equal(t, cases[0].Output, "3")
	be.True(t, !cases[0].WantError())
	be.Equal(t, cases[0].Line, 5)

	be.Equal(t, cases[1].Name, "bad")
	be.True(t, !cases[1].WantOutput)
	be.Equal(t, cases[1].Error, "NameError: Undeclared variable: y")
}

func TestExtract_EmptyOutput(t *testing.T) {
	markdown := "## Test: silent\n" + fence + "vibe\nstarterPack P {}\n" + fence + "\n" + fence + "output\n" + fence + "\n"

	cases, err := Extract([]byte(markdown))
	be.Err(t, err, nil)
	be.Equal(t, len(cases), 1)
	be.True(t, cases[0].WantOutput)
	be.Equal(t, cases[0].Output, "")
}

func TestExtract_IgnoresPlainFences(t *testing.T) {
	markdown := "Some prose.\n\n" + fence + "\nnot a test\n" + fence + "\n"

	cases, err := Extract([]byte(markdown))
	be.Err(t, err, nil)
	be.Equal(t, len(cases), 0)
}

func TestExtract_Errors(t *testing.T) {
	tests := []struct {
		name     string
		markdown string
		want     string
	}{
		{
			name:     "fence outside test",
			markdown: fence + "vibe\nstarterPack P {}\n" + fence + "\n",
			want:     "outside of a test",
		},
		{
			name: "unknown fence",
			markdown: "## Test: x\n" + fence + "vibe\nstarterPack P {}\n" + fence + "\n" +
				fence + "wasm\n(module)\n" + fence + "\n",
			want: "unknown fence language 'wasm'",
		},
		{
			name:     "no source",
			markdown: "## Test: x\n" + fence + "output\n1\n" + fence + "\n",
			want:     "has no vibe fence",
		},
		{
			name:     "no expectation",
			markdown: "## Test: x\n" + fence + "vibe\nstarterPack P {}\n" + fence + "\n",
			want:     "has no expectation fence",
		},
		{
			name: "both expectations",
			markdown: "## Test: x\n" + fence + "vibe\nstarterPack P {}\n" + fence + "\n" +
				fence + "output\n1\n" + fence + "\n" + fence + "error\nSyntaxError: x\n" + fence + "\n",
			want: "expects both output and an error",
		},
		{
			name: "two sources",
			markdown: "## Test: x\n" + fence + "vibe\nstarterPack P {}\n" + fence + "\n" +
				fence + "vibe\nstarterPack Q {}\n" + fence + "\n",
			want: "multiple vibe fences",
		},
		{
			name: "duplicate name",
			markdown: "## Test: x\n" + fence + "vibe\nstarterPack P {}\n" + fence + "\n" + fence + "output\n" + fence + "\n" +
				"## Test: x\n" + fence + "vibe\nstarterPack P {}\n" + fence + "\n" + fence + "output\n" + fence + "\n",
			want: "duplicate test name 'x'",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Extract([]byte(tc.markdown))
			if err == nil {
				t.Fatalf("expected an error containing %q", tc.want)
			}
			be.True(t, strings.Contains(err.Error(), tc.want))
		})
	}
}

func TestLoad_Programs(t *testing.T) {
	cases, err := Load("testdata/programs.md")
	be.Err(t, err, nil)
	be.True(t, len(cases) > 10)
	for _, c := range cases {
		be.True(t, c.Source != "")
		be.True(t, strings.HasPrefix(c.Source, "starterPack"))
	}
}
