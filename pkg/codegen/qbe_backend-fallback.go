//go:build windows

package codegen

import (
	"bytes"
	"io"
	"os"
	"os/exec"

	"github.com/xplshn/vibec/pkg/config"
	"github.com/xplshn/vibec/pkg/ir"
	"github.com/xplshn/vibec/pkg/util"
)

// Generate shells out to the system qbe; libqbe is not available on Windows.
func (b *qbeBackend) Generate(prog *ir.Program, cfg *config.Config) (*bytes.Buffer, error) {
	if _, err := exec.LookPath("qbe"); err != nil {
		return nil, util.ErrorAt(util.CodeGenerationError, 0, 0, "qbe not found in PATH: %v", err)
	}

	qbeIL, err := b.GenerateIL(prog, cfg)
	if err != nil {
		return nil, err
	}

	inputFile, err := os.CreateTemp("", "vibec-qbe-*.ssa")
	if err != nil {
		return nil, err
	}
	defer os.Remove(inputFile.Name())
	defer inputFile.Close()

	if _, err = inputFile.WriteString(qbeIL); err != nil {
		return nil, err
	}

	outputName := inputFile.Name() + ".s"
	args := []string{"-o", outputName}
	if cfg.QbeTarget != "" {
		args = append(args, "-t", cfg.QbeTarget)
	}
	args = append(args, inputFile.Name())
	if err := exec.Command("qbe", args...).Run(); err != nil {
		return nil, util.ErrorAt(util.CodeGenerationError, 0, 0, "qbe compilation failed: %v\n--- generated IL ---\n%s", err, qbeIL)
	}
	defer os.Remove(outputName)

	outputFile, err := os.Open(outputName)
	if err != nil {
		return nil, err
	}
	defer outputFile.Close()

	var asmBuf bytes.Buffer
	if _, err = io.Copy(&asmBuf, outputFile); err != nil {
		return nil, err
	}
	return &asmBuf, nil
}
