package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xplshn/vibec/pkg/cli"
)

func TestNewConfig(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, BackendAsm, cfg.Backend)
	assert.Equal(t, DefaultRegisters, cfg.Registers)
	assert.Equal(t, DefaultMaxDepth, cfg.MaxDepth)
	assert.Zero(t, cfg.MaxSteps)

	for ft := Feature(0); ft < FeatCount; ft++ {
		assert.True(t, cfg.IsFeatureEnabled(ft), cfg.Features[ft].Name)
		assert.Equal(t, ft, cfg.FeatureMap[cfg.Features[ft].Name])
	}
	for wt := Warning(0); wt < WarnCount; wt++ {
		assert.True(t, cfg.IsWarningEnabled(wt), cfg.Warnings[wt].Name)
		assert.Equal(t, wt, cfg.WarningMap[cfg.Warnings[wt].Name])
	}
}

func TestSetBackend(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.SetBackend(BackendQBE))
	assert.Equal(t, BackendQBE, cfg.Backend)

	err := cfg.SetBackend("llvm")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported backend 'llvm'")
	assert.Equal(t, BackendQBE, cfg.Backend)
}

func TestSetTarget(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.SetTarget("linux", "amd64", "amd64_sysv"))
	assert.Equal(t, "amd64_sysv", cfg.QbeTarget)
	assert.Equal(t, 8, cfg.WordSize)

	require.Error(t, cfg.SetTarget("linux", "386", "i386"))
}

func TestApplyOptLevel(t *testing.T) {
	cfg := NewConfig()

	require.NoError(t, cfg.ApplyOptLevel(0))
	for ft := Feature(0); ft < FeatCount; ft++ {
		assert.False(t, cfg.IsFeatureEnabled(ft))
	}

	require.NoError(t, cfg.ApplyOptLevel(1))
	for ft := Feature(0); ft < FeatCount; ft++ {
		assert.True(t, cfg.IsFeatureEnabled(ft))
	}

	require.Error(t, cfg.ApplyOptLevel(3))
}

func TestApplyFlags(t *testing.T) {
	cfg := NewConfig()
	cfg.ApplyFlags("-Fno-fold", "-Wno-unused-var", "-Fno-unknown")

	assert.False(t, cfg.IsFeatureEnabled(FeatFold))
	assert.True(t, cfg.IsFeatureEnabled(FeatDCE))
	assert.False(t, cfg.IsWarningEnabled(WarnUnusedVar))
	assert.True(t, cfg.IsWarningEnabled(WarnUnusedFunc))
}

func TestApplyFlags_AllGoesFirst(t *testing.T) {
	cfg := NewConfig()
	cfg.ApplyFlags("-Wunused-func", "-Wno-all")

	assert.False(t, cfg.IsWarningEnabled(WarnUnusedVar))
	assert.True(t, cfg.IsWarningEnabled(WarnUnusedFunc))
}

func TestFlagGroups(t *testing.T) {
	cfg := NewConfig()
	fs := cli.NewFlagSet("vibec")
	warnings, features := cfg.SetupFlagGroups(fs)

	require.Len(t, warnings, int(WarnCount)+1)
	require.Len(t, features, int(FeatCount))
	assert.Equal(t, "all", warnings[len(warnings)-1].Name)
	assert.NotNil(t, fs.Lookup("Wno-unused-var"))
	assert.NotNil(t, fs.Lookup("Fpeephole"))

	require.NoError(t, fs.Parse([]string{"-Wno-all", "-Wunused-func", "-Fno-cse", "prog.vibe"}))
	cfg.ApplyFlagGroups(warnings, features)

	assert.Equal(t, []string{"prog.vibe"}, fs.Args())
	assert.False(t, cfg.IsWarningEnabled(WarnUnusedVar))
	assert.False(t, cfg.IsFeatureEnabled(FeatCSE))
	assert.True(t, cfg.IsFeatureEnabled(FeatFold))
}
