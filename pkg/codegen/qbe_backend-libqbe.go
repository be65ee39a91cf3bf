//go:build !windows

package codegen

import (
	"bytes"
	"runtime"
	"strings"

	"github.com/xplshn/vibec/pkg/config"
	"github.com/xplshn/vibec/pkg/ir"
	"github.com/xplshn/vibec/pkg/util"
	"modernc.org/libqbe"
)

func (b *qbeBackend) Generate(prog *ir.Program, cfg *config.Config) (*bytes.Buffer, error) {
	qbeIL, err := b.GenerateIL(prog, cfg)
	if err != nil {
		return nil, err
	}

	target := cfg.QbeTarget
	if target == "" {
		target = libqbe.DefaultTarget(runtime.GOOS, runtime.GOARCH)
	}

	var asmBuf bytes.Buffer
	if err := libqbe.Main(target, "input.ssa", strings.NewReader(qbeIL), &asmBuf, nil); err != nil {
		return nil, util.ErrorAt(util.CodeGenerationError, 0, 0, "qbe compilation failed: %v\n--- generated IL ---\n%s", err, qbeIL)
	}
	return &asmBuf, nil
}
