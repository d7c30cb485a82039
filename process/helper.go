package process

import (
	"bytes"
	"compress/zlib"
	_ "embed"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// getProcAddress32Exe is a zlib-compressed, base64-encoded 32-bit
// executable whose exit code is the address of GetProcAddress in
// 32-bit processes.
//
//go:embed getprocaddress32.b64
var getProcAddress32Exe string

// Helper finds the address of kernel32!GetProcAddress as seen by
// 32-bit processes. A 64-bit program cannot ask the operating system
// for it directly.
type Helper interface {
	GetProcAddress32() (uintptr, error)
}

// ExecutableHelper is a Helper that runs the embedded 32-bit
// executable once per call.
type ExecutableHelper struct {
	// OptTempDir is where the executable is written. The default
	// temporary directory is used when empty.
	OptTempDir string
}

func (o *ExecutableHelper) GetProcAddress32() (uintptr, error) {
	exe, err := helperExecutable()
	if err != nil {
		return 0, err
	}

	f, err := os.CreateTemp(o.OptTempDir, "getprocaddress32-*.exe")
	if err != nil {
		return 0, fmt.Errorf("failed to create helper executable file - %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	_, err = f.Write(exe)
	_ = f.Close()
	if err != nil {
		return 0, fmt.Errorf("failed to write helper executable - %w", err)
	}

	err = exec.Command(path).Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return 0, errors.New("helper executable exited with status 0")
	case errors.As(err, &exitErr):
		return uintptr(uint32(exitErr.ExitCode())), nil
	default:
		return 0, fmt.Errorf("failed to run helper executable - %w", err)
	}
}

func helperExecutable() ([]byte, error) {
	compressed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(getProcAddress32Exe))
	if err != nil {
		return nil, fmt.Errorf("failed to decode helper executable - %w", err)
	}

	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress helper executable - %w", err)
	}
	defer r.Close()

	exe, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress helper executable - %w", err)
	}

	return exe, nil
}
