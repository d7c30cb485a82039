package process

import "gitlab.com/stephen-fox/gammahook/peimage"

// StillActive is the exit code reported for a process or thread
// that has not terminated.
const StillActive = 259

// Handle is an operating system handle.
type Handle uintptr

// Protection is the access granted to a page of memory.
type Protection int

const (
	ReadWrite Protection = iota
	Execute
)

func (o Protection) String() string {
	switch o {
	case ReadWrite:
		return "read-write"
	case Execute:
		return "execute"
	default:
		return "unknown"
	}
}

// ModuleEntry is one element of a module snapshot.
type ModuleEntry struct {
	Handle uintptr
	Name   string
	Path   string
	Base   uintptr
	Size   uint32
}

// Platform is the set of operating system facilities needed to
// manipulate a foreign process. Addresses are in the target's
// address space unless stated otherwise.
type Platform interface {
	// HostBits is the pointer width of the calling process.
	HostBits() int

	// SystemBits is the native pointer width of the operating system.
	SystemBits() int

	OpenProcess(pid uint32) (Handle, error)

	// IsEmulated reports whether the process runs under a 32-bit
	// emulation layer on a 64-bit system. It returns
	// ErrEmulationQueryUnsupported when no such query exists.
	IsEmulated(process Handle) (bool, error)

	// ExitCode returns StillActive for a running process.
	ExitCode(process Handle) (uint32, error)

	CloseHandle(h Handle) error

	AllocateMemory(process Handle, size uintptr, protection Protection) (uintptr, error)
	ProtectMemory(process Handle, address uintptr, size uintptr, protection Protection) error
	FreeMemory(process Handle, address uintptr) error
	ReadMemory(process Handle, address uintptr, p []byte) (int, error)
	WriteMemory(process Handle, address uintptr, p []byte) (int, error)
	FlushInstructionCache(process Handle, address uintptr, size uintptr) error

	CreateThread(process Handle, start uintptr, arg uintptr) (Handle, error)
	WaitThread(thread Handle) error

	// ThreadExitCode returns StillActive for a running thread.
	ThreadExitCode(thread Handle) (uint32, error)

	// Modules returns a new snapshot of the modules loaded in the
	// process identified by pid.
	Modules(pid uint32) ([]ModuleEntry, error)

	// LocalProcAddress returns the address of an export of a module
	// in the calling process.
	LocalProcAddress(module string, symbol string) (uintptr, error)

	// InspectImage reads a module image from disk.
	InspectImage(path string) (peimage.Info, error)
}

// NativeHostBits is the pointer width of this program.
const NativeHostBits = 32 << (^uintptr(0) >> 63)
