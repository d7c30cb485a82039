//go:build windows

package process

import (
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"

	"gitlab.com/stephen-fox/gammahook/peimage"
)

const (
	openRights = windows.PROCESS_VM_OPERATION |
		windows.PROCESS_VM_READ |
		windows.PROCESS_VM_WRITE |
		windows.PROCESS_CREATE_THREAD |
		windows.PROCESS_QUERY_INFORMATION

	snapshotAttempts = 5
)

var (
	modKernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procVirtualAllocEx        = modKernel32.NewProc("VirtualAllocEx")
	procVirtualFreeEx         = modKernel32.NewProc("VirtualFreeEx")
	procCreateRemoteThread    = modKernel32.NewProc("CreateRemoteThread")
	procGetExitCodeThread     = modKernel32.NewProc("GetExitCodeThread")
	procFlushInstructionCache = modKernel32.NewProc("FlushInstructionCache")
	procIsWow64Process        = modKernel32.NewProc("IsWow64Process")
)

// DefaultPlatform returns the Windows Platform.
func DefaultPlatform() (Platform, error) {
	return &WindowsPlatform{}, nil
}

// WindowsPlatform implements Platform using the Win32 API.
type WindowsPlatform struct{}

func (o *WindowsPlatform) HostBits() int {
	return NativeHostBits
}

func (o *WindowsPlatform) SystemBits() int {
	if NativeHostBits == 64 {
		return 64
	}

	emulated, err := o.IsEmulated(Handle(windows.CurrentProcess()))
	if err == nil && emulated {
		return 64
	}

	return 32
}

func (o *WindowsPlatform) OpenProcess(pid uint32) (Handle, error) {
	h, err := windows.OpenProcess(openRights, false, pid)
	if err != nil {
		return 0, errors.Wrap(err, "OpenProcess failed - maybe running without elevated integrity?")
	}

	return Handle(h), nil
}

func (o *WindowsPlatform) IsEmulated(process Handle) (bool, error) {
	if procIsWow64Process.Find() != nil {
		return false, ErrEmulationQueryUnsupported
	}

	var wow64 bool
	err := windows.IsWow64Process(windows.Handle(process), &wow64)
	if err != nil {
		return false, errors.Wrap(err, "IsWow64Process failed")
	}

	return wow64, nil
}

func (o *WindowsPlatform) ExitCode(process Handle) (uint32, error) {
	var code uint32
	err := windows.GetExitCodeProcess(windows.Handle(process), &code)
	if err != nil {
		return 0, errors.Wrap(err, "GetExitCodeProcess failed")
	}

	return code, nil
}

func (o *WindowsPlatform) CloseHandle(h Handle) error {
	err := windows.CloseHandle(windows.Handle(h))
	if err != nil {
		return errors.Wrap(err, "CloseHandle failed")
	}

	return nil
}

func (o *WindowsPlatform) AllocateMemory(process Handle, size uintptr, protection Protection) (uintptr, error) {
	protect, err := pageProtection(protection)
	if err != nil {
		return 0, err
	}

	addr, _, lastErr := procVirtualAllocEx.Call(
		uintptr(process),
		0,
		size,
		uintptr(windows.MEM_COMMIT|windows.MEM_RESERVE),
		uintptr(protect))
	if addr == 0 {
		return 0, errors.Wrap(lastErr, "VirtualAllocEx failed")
	}

	return addr, nil
}

func (o *WindowsPlatform) ProtectMemory(process Handle, address uintptr, size uintptr, protection Protection) error {
	protect, err := pageProtection(protection)
	if err != nil {
		return err
	}

	var old uint32
	err = windows.VirtualProtectEx(windows.Handle(process), address, size, protect, &old)
	if err != nil {
		return errors.Wrap(err, "VirtualProtectEx failed")
	}

	return nil
}

func (o *WindowsPlatform) FreeMemory(process Handle, address uintptr) error {
	ok, _, lastErr := procVirtualFreeEx.Call(
		uintptr(process),
		address,
		0,
		uintptr(windows.MEM_RELEASE))
	if ok == 0 {
		return errors.Wrap(lastErr, "VirtualFreeEx failed")
	}

	return nil
}

func (o *WindowsPlatform) ReadMemory(process Handle, address uintptr, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	var n uintptr
	err := windows.ReadProcessMemory(windows.Handle(process), address, &p[0], uintptr(len(p)), &n)
	if err != nil {
		return int(n), errors.Wrap(err, "ReadProcessMemory failed")
	}

	return int(n), nil
}

func (o *WindowsPlatform) WriteMemory(process Handle, address uintptr, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	var n uintptr
	err := windows.WriteProcessMemory(windows.Handle(process), address, &p[0], uintptr(len(p)), &n)
	if err != nil {
		return int(n), errors.Wrap(err, "WriteProcessMemory failed")
	}

	return int(n), nil
}

func (o *WindowsPlatform) FlushInstructionCache(process Handle, address uintptr, size uintptr) error {
	ok, _, lastErr := procFlushInstructionCache.Call(uintptr(process), address, size)
	if ok == 0 {
		return errors.Wrap(lastErr, "FlushInstructionCache failed")
	}

	return nil
}

func (o *WindowsPlatform) CreateThread(process Handle, start uintptr, arg uintptr) (Handle, error) {
	var threadID uint32
	h, _, lastErr := procCreateRemoteThread.Call(
		uintptr(process),
		0,
		0,
		start,
		arg,
		0,
		uintptr(unsafe.Pointer(&threadID)))
	if h == 0 {
		return 0, errors.Wrap(lastErr, "CreateRemoteThread failed")
	}

	return Handle(h), nil
}

func (o *WindowsPlatform) WaitThread(thread Handle) error {
	_, err := windows.WaitForSingleObject(windows.Handle(thread), windows.INFINITE)
	if err != nil {
		return errors.Wrap(err, "WaitForSingleObject failed")
	}

	return nil
}

func (o *WindowsPlatform) ThreadExitCode(thread Handle) (uint32, error) {
	var code uint32
	ok, _, lastErr := procGetExitCodeThread.Call(uintptr(thread), uintptr(unsafe.Pointer(&code)))
	if ok == 0 {
		return 0, errors.Wrap(lastErr, "GetExitCodeThread failed")
	}

	return code, nil
}

func (o *WindowsPlatform) Modules(pid uint32) ([]ModuleEntry, error) {
	var snap windows.Handle
	var err error

	// The snapshot fails with ERROR_BAD_LENGTH while the target's
	// loader lock is held. The call succeeds when retried.
	for i := 0; i < snapshotAttempts; i++ {
		snap, err = windows.CreateToolhelp32Snapshot(
			windows.TH32CS_SNAPMODULE|windows.TH32CS_SNAPMODULE32, pid)
		if !errors.Is(err, windows.ERROR_BAD_LENGTH) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		return nil, errors.Wrap(err, "CreateToolhelp32Snapshot failed")
	}
	defer windows.CloseHandle(snap)

	var me windows.ModuleEntry32
	me.Size = uint32(unsafe.Sizeof(me))

	err = windows.Module32First(snap, &me)
	if err != nil {
		if errors.Is(err, windows.ERROR_NO_MORE_FILES) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "Module32FirstW failed")
	}

	var modules []ModuleEntry
	for {
		modules = append(modules, ModuleEntry{
			Handle: uintptr(me.ModuleHandle),
			Name:   windows.UTF16ToString(me.Module[:]),
			Path:   windows.UTF16ToString(me.ExePath[:]),
			Base:   me.ModBaseAddr,
			Size:   me.ModBaseSize,
		})

		me.Size = uint32(unsafe.Sizeof(me))
		err = windows.Module32Next(snap, &me)
		if err != nil {
			if errors.Is(err, windows.ERROR_NO_MORE_FILES) {
				break
			}
			return nil, errors.Wrap(err, "Module32NextW failed")
		}
	}

	return modules, nil
}

func (o *WindowsPlatform) LocalProcAddress(module string, symbol string) (uintptr, error) {
	proc := windows.NewLazySystemDLL(module).NewProc(symbol)

	err := proc.Find()
	if err != nil {
		return 0, errors.Wrapf(err, "failed to find %s!%s", module, symbol)
	}

	return proc.Addr(), nil
}

func (o *WindowsPlatform) InspectImage(path string) (peimage.Info, error) {
	return peimage.Inspect(path)
}

func pageProtection(protection Protection) (uint32, error) {
	switch protection {
	case ReadWrite:
		return windows.PAGE_READWRITE, nil
	case Execute:
		return windows.PAGE_EXECUTE, nil
	default:
		return 0, errors.Errorf("unsupported protection: %d", protection)
	}
}
