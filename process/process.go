package process

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf16"
)

// InjectStatus reports what Inject did.
type InjectStatus int

const (
	// NewlyLoaded means Inject loaded the module into the target.
	NewlyLoaded InjectStatus = iota

	// AlreadyPresent means the module was already loaded, either by
	// an earlier Inject call or by someone else.
	AlreadyPresent
)

func (o InjectStatus) String() string {
	switch o {
	case NewlyLoaded:
		return "newly-loaded"
	case AlreadyPresent:
		return "already-present"
	default:
		return "unknown"
	}
}

// OpenConfig configures Open.
type OpenConfig struct {
	// Platform is the operating system facade. It is required.
	Platform Platform

	// OptResolver overrides the Symbol Resolver. Sharing one
	// resolver between processes avoids running the cross-bitness
	// helper more than once.
	OptResolver *SymbolResolver

	// OptLogger, when set, receives verbose messages.
	OptLogger *log.Logger
}

type trackedModule struct {
	path      string
	autoEject bool
}

// Process is an open handle to a foreign process along with the
// modules injected into it.
type Process struct {
	pid      uint32
	handle   Handle
	bits     int
	platform Platform
	resolver *SymbolResolver
	logger   *log.Logger
	injected []trackedModule
	closed   bool
}

func OpenOrExit(pid uint32, config OpenConfig) *Process {
	p, err := Open(pid, config)
	if err != nil {
		DefaultExitFn(fmt.Errorf("failed to open process - %w", err))
	}
	return p
}

// Open opens the process identified by pid and measures its bitness.
func Open(pid uint32, config OpenConfig) (*Process, error) {
	if config.Platform == nil {
		return nil, fmt.Errorf("%w - platform cannot be nil", ErrProcessOpen)
	}

	handle, err := config.Platform.OpenProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("%w - failed to open process %d - %w", ErrProcessOpen, pid, err)
	}

	bits, err := measureBits(config.Platform, handle)
	if err != nil {
		config.Platform.CloseHandle(handle)
		return nil, fmt.Errorf("%w - failed to measure bitness of process %d - %w",
			ErrProcessOpen, pid, err)
	}

	hostBits := config.Platform.HostBits()
	if hostBits == 32 && bits == 64 {
		config.Platform.CloseHandle(handle)
		return nil, fmt.Errorf("%w - a 32-bit process cannot control 64-bit process %d",
			ErrBitnessMismatch, pid)
	}

	resolver := config.OptResolver
	if resolver == nil {
		resolver = NewSymbolResolver(SymbolResolverConfig{
			Platform: config.Platform,
		})
	}

	p := &Process{
		pid:      pid,
		handle:   handle,
		bits:     bits,
		platform: config.Platform,
		resolver: resolver,
		logger:   config.OptLogger,
	}

	p.logf("opened process %d (%d-bit, host is %d-bit)", pid, bits, hostBits)

	return p, nil
}

func measureBits(platform Platform, handle Handle) (int, error) {
	emulated, err := platform.IsEmulated(handle)
	switch {
	case errors.Is(err, ErrEmulationQueryUnsupported):
		return platform.HostBits(), nil
	case err != nil:
		return 0, err
	case emulated:
		return 32, nil
	default:
		return platform.SystemBits(), nil
	}
}

func (o *Process) PID() uint32 {
	return o.pid
}

// Bits returns the target's pointer width: 32 or 64.
func (o *Process) Bits() int {
	return o.bits
}

func (o *Process) Platform() Platform {
	return o.platform
}

func (o *Process) SetLogger(logger *log.Logger) {
	o.logger = logger
}

func (o *Process) logf(format string, args ...interface{}) {
	if o.logger != nil {
		o.logger.Printf(format, args...)
	}
}

// ExitCode returns the target's exit code, which is StillActive
// while it runs.
func (o *Process) ExitCode() (uint32, error) {
	if o.closed {
		return 0, ErrClosed
	}

	code, err := o.platform.ExitCode(o.handle)
	if err != nil {
		return 0, fmt.Errorf("failed to get exit code of process %d - %w", o.pid, err)
	}

	return code, nil
}

// IsAlive reports whether the target is still running.
func (o *Process) IsAlive() (bool, error) {
	code, err := o.ExitCode()
	if err != nil {
		return false, err
	}

	return code == StillActive, nil
}

// Injected returns the tracked module paths in injection order.
func (o *Process) Injected() []string {
	paths := make([]string, len(o.injected))
	for i, m := range o.injected {
		paths[i] = m.path
	}
	return paths
}

func (o *Process) trackedIndex(path string) int {
	for i, m := range o.injected {
		if strings.EqualFold(m.path, path) {
			return i
		}
	}
	return -1
}

// Inject loads the module at path into the target. It is idempotent:
// a module that is already loaded is returned with AlreadyPresent.
//
// When autoEject is true and Inject loaded the module, Close ejects
// it. Modules that were loaded by someone else are never ejected
// automatically.
func (o *Process) Inject(path string, autoEject bool) (*Module, InjectStatus, error) {
	if o.closed {
		return nil, 0, ErrClosed
	}

	path, err := ResolveModulePath(path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w - %w", ErrModuleLoad, err)
	}

	if i := o.trackedIndex(path); i >= 0 {
		if !autoEject {
			o.injected[i].autoEject = false
		}

		module, err := o.ModuleByPath(path)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to find tracked module %q - %w", path, err)
		}

		return module, AlreadyPresent, nil
	}

	info, err := o.platform.InspectImage(path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w - failed to inspect %q - %w", ErrModuleLoad, path, err)
	}

	if info.Bits != o.bits {
		return nil, 0, fmt.Errorf("%w - cannot load %d-bit module %q into %d-bit process %d",
			ErrBitnessMismatch, info.Bits, path, o.bits, o.pid)
	}

	module, err := o.ModuleByPath(path)
	switch {
	case err == nil:
		o.logf("module %q is already loaded in process %d", path, o.pid)
		o.injected = append(o.injected, trackedModule{path: path})
		return module, AlreadyPresent, nil
	case !errors.Is(err, ErrModuleNotFound):
		return nil, 0, err
	}

	err = o.loadLibrary(path)
	if err != nil {
		return nil, 0, err
	}

	module, err = o.ModuleByPath(path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w - module %q is not loaded after LoadLibraryW - %w",
			ErrModuleLoad, path, err)
	}

	o.injected = append(o.injected, trackedModule{path: path, autoEject: autoEject})

	o.logf("injected %q into process %d at 0x%x", path, o.pid, module.Base)

	return module, NewlyLoaded, nil
}

func (o *Process) loadLibrary(path string) error {
	kernel32, err := o.ModuleByName("kernel32.dll")
	if err != nil {
		return fmt.Errorf("%w - %w", ErrModuleLoad, err)
	}

	loadLibrary, err := kernel32.Proc("LoadLibraryW")
	if err != nil {
		return fmt.Errorf("%w - %w", ErrModuleLoad, err)
	}

	return o.WithRegion(len(utf16Z(path))*2, func(region *Region) error {
		err := region.Write(utf16Bytes(path))
		if err != nil {
			return err
		}

		_, err = loadLibrary.Call(region.Address())
		if err != nil {
			return fmt.Errorf("%w - failed to call LoadLibraryW - %w", ErrModuleLoad, err)
		}

		return nil
	})
}

// Adopt tracks a module that is already loaded in the target so
// that Close ejects it.
func (o *Process) Adopt(path string) (*Module, error) {
	if o.closed {
		return nil, ErrClosed
	}

	path, err := ResolveModulePath(path)
	if err != nil {
		return nil, err
	}

	module, err := o.ModuleByPath(path)
	if err != nil {
		return nil, err
	}

	if i := o.trackedIndex(path); i >= 0 {
		o.injected[i].autoEject = true
	} else {
		o.injected = append(o.injected, trackedModule{path: path, autoEject: true})
	}

	return module, nil
}

// Release stops tracking path without unloading it. It returns false
// if path was not tracked.
func (o *Process) Release(path string) (bool, error) {
	if o.closed {
		return false, ErrClosed
	}

	path, err := ResolveModulePath(path)
	if err != nil {
		return false, err
	}

	i := o.trackedIndex(path)
	if i < 0 {
		return false, nil
	}

	o.injected = append(o.injected[:i], o.injected[i+1:]...)

	return true, nil
}

// Eject stops tracking path and unloads it from the target. It
// returns false if path was not tracked.
func (o *Process) Eject(path string) (bool, error) {
	if o.closed {
		return false, ErrClosed
	}

	path, err := ResolveModulePath(path)
	if err != nil {
		return false, fmt.Errorf("%w - %w", ErrModuleUnload, err)
	}

	i := o.trackedIndex(path)
	if i < 0 {
		return false, nil
	}

	o.injected = append(o.injected[:i], o.injected[i+1:]...)

	module, err := o.ModuleByPath(path)
	switch {
	case errors.Is(err, ErrModuleNotFound):
		return true, nil
	case err != nil:
		return true, fmt.Errorf("%w - %w", ErrModuleUnload, err)
	}

	kernel32, err := o.ModuleByName("kernel32.dll")
	if err != nil {
		return true, fmt.Errorf("%w - %w", ErrModuleUnload, err)
	}

	result, err := kernel32.CallProc("FreeLibrary", module.Handle)
	if err != nil {
		return true, fmt.Errorf("%w - failed to call FreeLibrary for %q - %w",
			ErrModuleUnload, path, err)
	}

	if result == 0 {
		return true, fmt.Errorf("%w - FreeLibrary reported failure for %q", ErrModuleUnload, path)
	}

	o.logf("ejected %q from process %d", path, o.pid)

	return true, nil
}

// Close ejects auto-eject modules in reverse injection order and
// releases the process handle. Modules are left alone when the
// target has already exited.
func (o *Process) Close() error {
	if o.closed {
		return ErrClosed
	}

	var errs []error

	alive, err := o.IsAlive()
	if err != nil {
		errs = append(errs, err)
	}

	if alive {
		tracked := append([]trackedModule(nil), o.injected...)
		for i := len(tracked) - 1; i >= 0; i-- {
			m := tracked[i]
			if !m.autoEject {
				continue
			}

			_, err := o.Eject(m.path)
			if err != nil {
				errs = append(errs, err)
			}
		}
	} else {
		o.logf("process %d has exited - not ejecting %d module(s)", o.pid, len(o.injected))
	}

	o.injected = nil
	o.closed = true

	err = o.platform.CloseHandle(o.handle)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to close handle of process %d - %w", o.pid, err))
	}

	return errors.Join(errs...)
}

// ReadMemory reads len(p) bytes at address.
func (o *Process) ReadMemory(address uintptr, p []byte) (int, error) {
	if o.closed {
		return 0, ErrClosed
	}

	n, err := o.platform.ReadMemory(o.handle, address, p)
	if err != nil {
		return n, fmt.Errorf("%w - failed to read %d bytes at 0x%x - %w", ErrMemory, len(p), address, err)
	}

	if n != len(p) {
		return n, fmt.Errorf("%w - short read at 0x%x - %d of %d bytes", ErrMemory, address, n, len(p))
	}

	return n, nil
}

// WriteMemory writes p at address.
func (o *Process) WriteMemory(address uintptr, p []byte) (int, error) {
	if o.closed {
		return 0, ErrClosed
	}

	n, err := o.platform.WriteMemory(o.handle, address, p)
	if err != nil {
		return n, fmt.Errorf("%w - failed to write %d bytes at 0x%x - %w", ErrMemory, len(p), address, err)
	}

	if n != len(p) {
		return n, fmt.Errorf("%w - short write at 0x%x - %d of %d bytes", ErrMemory, address, n, len(p))
	}

	return n, nil
}

// WriteCode writes p at address and flushes the instruction cache
// for that range.
func (o *Process) WriteCode(address uintptr, p []byte) (int, error) {
	n, err := o.WriteMemory(address, p)
	if err != nil {
		return n, err
	}

	err = o.platform.FlushInstructionCache(o.handle, address, uintptr(len(p)))
	if err != nil {
		return n, fmt.Errorf("%w - failed to flush instruction cache at 0x%x - %w", ErrMemory, address, err)
	}

	return n, nil
}

// ResolveModulePath returns the absolute, canonical path of a module
// file, appending ".dll" when path has no extension.
func ResolveModulePath(path string) (string, error) {
	if path == "" {
		return "", errors.New("module path cannot be empty")
	}

	if filepath.Ext(path) == "" {
		path += ".dll"
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path of %q - %w", path, err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %q - %w", abs, err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}

	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%q is not a regular file", resolved)
	}

	return resolved, nil
}

func utf16Z(s string) []uint16 {
	return append(utf16.Encode([]rune(s)), 0)
}

func utf16Bytes(s string) []byte {
	units := utf16Z(s)
	b := make([]byte, len(units)*2)
	for i, u := range units {
		b[i*2] = byte(u)
		b[i*2+1] = byte(u >> 8)
	}
	return b
}
