package process

import "errors"

var (
	ErrProcessOpen         = errors.New("process open error")
	ErrBitnessMismatch     = errors.New("bitness mismatch")
	ErrMemory              = errors.New("memory error")
	ErrThread              = errors.New("thread error")
	ErrThreadRunning       = errors.New("thread is still running")
	ErrModuleLoad          = errors.New("module load error")
	ErrModuleUnload        = errors.New("module unload error")
	ErrModuleNotFound      = errors.New("module not found")
	ErrSymbolResolution    = errors.New("symbol resolution error")
	ErrClosed              = errors.New("process is closed")
	ErrUnsupportedPlatform = errors.New("unsupported platform")

	// ErrEmulationQueryUnsupported is returned by Platform.IsEmulated
	// when the operating system cannot report whether a process runs
	// under an emulation layer.
	ErrEmulationQueryUnsupported = errors.New("emulation query is not supported")
)
