package hook

import (
	"fmt"
	"path/filepath"

	"gitlab.com/stephen-fox/gammahook/process"
)

const (
	// StartExport is called with a Config record. It returns
	// non-zero once the companion is forwarding requests.
	StartExport = "HookStart"

	// StopExport stops forwarding. It returns non-zero on success.
	StopExport = "HookStop"

	// TrampolineExport is where the patched function jumps to.
	TrampolineExport = "Hook"

	// PatchModule and PatchSymbol name the patched function.
	PatchModule = "gdi32.dll"
	PatchSymbol = "SetDeviceGammaRamp"
)

// Companion describes the directory holding the companion modules,
// which are named hook32.dll and hook64.dll.
type Companion struct {
	Dir string
}

// Path returns the companion module path for a target with the given
// pointer width.
func (o Companion) Path(bits int) string {
	return filepath.Join(o.Dir, fmt.Sprintf("hook%d.dll", bits))
}

// Inspect checks that the companion for bits exists, has the right
// bitness and exports the hook entry points. It returns the module's
// resolved path.
func (o Companion) Inspect(platform process.Platform, bits int) (string, error) {
	path, err := process.ResolveModulePath(o.Path(bits))
	if err != nil {
		return "", fmt.Errorf("failed to find %d-bit companion module - %w", bits, err)
	}

	info, err := platform.InspectImage(path)
	if err != nil {
		return "", fmt.Errorf("failed to inspect companion module - %w", err)
	}

	if info.Bits != bits {
		return "", fmt.Errorf("%w - companion module %q is %d-bit - target is %d-bit",
			process.ErrBitnessMismatch, path, info.Bits, bits)
	}

	for _, export := range []string{StartExport, StopExport, TrampolineExport} {
		if !info.HasExport(export) {
			return "", fmt.Errorf("%w - companion module %q does not export %q",
				ErrHookProtocol, path, export)
		}
	}

	return path, nil
}
