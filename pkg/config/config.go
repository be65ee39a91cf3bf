package config

import (
	"fmt"
	"strings"

	"modernc.org/libqbe"

	"github.com/xplshn/vibec/pkg/cli"
)

type Feature int

const (
	FeatOptimize Feature = iota
	FeatFold
	FeatDCE
	FeatCSE
	FeatStrength
	FeatPeephole
	FeatCount
)

type Warning int

const (
	WarnUnusedVar Warning = iota
	WarnUnusedFunc
	WarnCount
)

type Info struct {
	Name        string
	Enabled     bool
	Description string
}

const (
	BackendAsm = "asm"
	BackendQBE = "qbe"
)

const (
	DefaultMaxDepth  = 256
	DefaultRegisters = 8
)

type Config struct {
	Features   map[Feature]Info
	Warnings   map[Warning]Info
	FeatureMap map[string]Feature
	WarningMap map[string]Warning
	Backend    string
	TargetArch string
	QbeTarget  string
	WordSize   int
	WordType   string
	// Registers is the size of the allocatable register file of the asm backend.
	Registers int
	// MaxDepth bounds statement and expression nesting in the parser and checker.
	MaxDepth int
	// MaxSteps bounds VM execution; zero means unlimited.
	MaxSteps int
}

func NewConfig() *Config {
	cfg := &Config{
		Features:   make(map[Feature]Info),
		Warnings:   make(map[Warning]Info),
		FeatureMap: make(map[string]Feature),
		WarningMap: make(map[string]Warning),
		Backend:    BackendAsm,
		WordSize:   8,
		WordType:   "l",
		Registers:  DefaultRegisters,
		MaxDepth:   DefaultMaxDepth,
	}

	features := map[Feature]Info{
		FeatOptimize: {"optimize", true, "Run the IR optimizer before code generation and execution."},
		FeatFold:     {"fold", true, "Fold arithmetic and comparisons over literal operands."},
		FeatDCE:      {"dce", true, "Drop computations whose result is never read."},
		FeatCSE:      {"cse", true, "Reuse the result of an identical earlier computation."},
		FeatStrength: {"strength", true, "Replace power-of-two multiply/divide with shifts and collapse identities."},
		FeatPeephole: {"peephole", true, "Remove redundant moves from the generated assembly."},
	}

	warnings := map[Warning]Info{
		WarnUnusedVar:  {"unused-var", true, "Warn about variables that are assigned but never read."},
		WarnUnusedFunc: {"unused-func", true, "Warn about functions that are never called."},
	}

	cfg.Features, cfg.Warnings = features, warnings
	for ft, info := range features {
		cfg.FeatureMap[info.Name] = ft
	}
	for wt, info := range warnings {
		cfg.WarningMap[info.Name] = wt
	}

	return cfg
}

// SetTarget configures the QBE target. An empty target selects the host.
func (c *Config) SetTarget(goos, goarch, qbeTarget string) error {
	if qbeTarget == "" {
		qbeTarget = libqbe.DefaultTarget(goos, goarch)
	}
	c.QbeTarget = qbeTarget
	c.TargetArch = goarch

	switch c.QbeTarget {
	case "amd64_sysv", "amd64_apple", "arm64", "arm64_apple", "rv64":
		c.WordSize, c.WordType = 8, "l"
	default:
		return fmt.Errorf("unsupported QBE target '%s'", c.QbeTarget)
	}
	return nil
}

func (c *Config) SetBackend(name string) error {
	switch name {
	case BackendAsm, BackendQBE:
		c.Backend = name
		return nil
	}
	return fmt.Errorf("unsupported backend '%s'. Supported: '%s', '%s'", name, BackendAsm, BackendQBE)
}

func (c *Config) SetFeature(ft Feature, enabled bool) {
	if info, ok := c.Features[ft]; ok {
		info.Enabled = enabled
		c.Features[ft] = info
	}
}

func (c *Config) IsFeatureEnabled(ft Feature) bool { return c.Features[ft].Enabled }

func (c *Config) SetWarning(wt Warning, enabled bool) {
	if info, ok := c.Warnings[wt]; ok {
		info.Enabled = enabled
		c.Warnings[wt] = info
	}
}

func (c *Config) IsWarningEnabled(wt Warning) bool { return c.Warnings[wt].Enabled }

// ApplyOptLevel maps -O0/-O1 onto the optimizer feature set.
func (c *Config) ApplyOptLevel(level int) error {
	switch level {
	case 0:
		for ft := Feature(0); ft < FeatCount; ft++ {
			c.SetFeature(ft, false)
		}
	case 1:
		for ft := Feature(0); ft < FeatCount; ft++ {
			c.SetFeature(ft, true)
		}
	default:
		return fmt.Errorf("unsupported optimization level '%d'. Supported: 0, 1", level)
	}
	return nil
}

func (c *Config) applyFlag(flag string) {
	trimmed := strings.TrimPrefix(flag, "-")
	isNo := strings.HasPrefix(trimmed, "Wno-") || strings.HasPrefix(trimmed, "Fno-")
	enable := !isNo

	var name string
	var isWarning bool

	switch {
	case strings.HasPrefix(trimmed, "W"):
		name = strings.TrimPrefix(trimmed, "W")
		if isNo {
			name = strings.TrimPrefix(name, "no-")
		}
		isWarning = true
	case strings.HasPrefix(trimmed, "F"):
		name = strings.TrimPrefix(trimmed, "F")
		if isNo {
			name = strings.TrimPrefix(name, "no-")
		}
	default:
		name = trimmed
		isWarning = true
	}

	if name == "all" && isWarning {
		for i := Warning(0); i < WarnCount; i++ {
			c.SetWarning(i, enable)
		}
		return
	}

	if isWarning {
		if w, ok := c.WarningMap[name]; ok {
			c.SetWarning(w, enable)
		}
	} else {
		if f, ok := c.FeatureMap[name]; ok {
			c.SetFeature(f, enable)
		}
	}
}

// ProcessFlags applies -W/-F style flags. -Wall and -Wno-all go first so that
// specific flags can override them.
func (c *Config) ProcessFlags(visitFlag func(fn func(name string))) {
	visitFlag(func(name string) {
		if name == "Wall" || name == "Wno-all" {
			c.applyFlag("-" + name)
		}
	})
	visitFlag(func(name string) {
		if name != "Wall" && name != "Wno-all" {
			c.applyFlag("-" + name)
		}
	})
}

// ApplyFlags applies a flat list of -W/-F flags in order.
func (c *Config) ApplyFlags(flags ...string) {
	c.ProcessFlags(func(fn func(name string)) {
		for _, f := range flags {
			fn(strings.TrimPrefix(f, "-"))
		}
	})
}

// SetupFlagGroups registers -W<name>/-Wno-<name> for every warning, plus
// -Wall, and -F<name>/-Fno-<name> for every feature. The returned entries are
// indexed by Warning and Feature; the last warning entry is "all".
func (c *Config) SetupFlagGroups(fs *cli.FlagSet) (warnings, features []cli.FlagGroupEntry) {
	for i := Warning(0); i < WarnCount; i++ {
		info := c.Warnings[i]
		on, off := info.Enabled, false
		warnings = append(warnings, cli.FlagGroupEntry{Name: info.Name, Prefix: "W", Usage: info.Description, Enabled: &on, Disabled: &off})
	}
	all, noAll := false, false
	warnings = append(warnings, cli.FlagGroupEntry{Name: "all", Prefix: "W", Usage: "Enable every warning.", Enabled: &all, Disabled: &noAll})

	for i := Feature(0); i < FeatCount; i++ {
		info := c.Features[i]
		on, off := info.Enabled, false
		features = append(features, cli.FlagGroupEntry{Name: info.Name, Prefix: "F", Usage: info.Description, Enabled: &on, Disabled: &off})
	}

	fs.AddFlagGroup("Warning Flags", "warning", "Available Warning Flags:", warnings)
	fs.AddFlagGroup("Feature Flags", "feature", "Available Features Flags:", features)
	return warnings, features
}

// ApplyFlagGroups copies parsed group switches back into c. -Wall and
// -Wno-all apply first so that specific switches override them. An enable
// switch only counts when it differs from the default shown in the help.
func (c *Config) ApplyFlagGroups(warnings, features []cli.FlagGroupEntry) {
	defaults := make(map[Warning]bool, WarnCount)
	for i := Warning(0); i < WarnCount; i++ {
		defaults[i] = c.IsWarningEnabled(i)
	}

	if n := len(warnings); n > int(WarnCount) {
		all := warnings[n-1]
		for i := Warning(0); i < WarnCount; i++ {
			switch {
			case *all.Disabled:
				c.SetWarning(i, false)
			case *all.Enabled:
				c.SetWarning(i, true)
			}
		}
		warnings = warnings[:WarnCount]
	}
	for i, e := range warnings {
		switch {
		case *e.Disabled:
			c.SetWarning(Warning(i), false)
		case *e.Enabled && !defaults[Warning(i)]:
			c.SetWarning(Warning(i), true)
		}
	}
	for i, e := range features {
		switch {
		case *e.Disabled:
			c.SetFeature(Feature(i), false)
		case *e.Enabled:
			c.SetFeature(Feature(i), true)
		}
	}
}
