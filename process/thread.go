package process

import (
	"errors"
	"fmt"
)

// Thread is a thread running inside the target process.
type Thread struct {
	process *Process
	handle  Handle
	start   uintptr
	arg     uintptr
	waited  bool
	closed  bool
}

// CreateThread starts a thread at start in the target, passing arg
// as its only parameter. The caller must Wait for it and Close it.
func (o *Process) CreateThread(start uintptr, arg uintptr) (*Thread, error) {
	if o.closed {
		return nil, ErrClosed
	}

	h, err := o.platform.CreateThread(o.handle, start, arg)
	if err != nil {
		return nil, fmt.Errorf("%w - failed to create thread at 0x%x in process %d - %w",
			ErrThread, start, o.pid, err)
	}

	return &Thread{
		process: o,
		handle:  h,
		start:   start,
		arg:     arg,
	}, nil
}

// Call runs start(arg) in the target and returns its exit code.
func (o *Process) Call(start uintptr, arg uintptr) (code uint32, err error) {
	thread, err := o.CreateThread(start, arg)
	if err != nil {
		return 0, err
	}

	defer func() {
		closeErr := thread.Close()
		if closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()

	err = thread.Wait()
	if err != nil {
		return 0, err
	}

	return thread.ExitCode()
}

// Execute copies code into an execute-only region, runs it with arg
// and returns its exit code. The region is freed before returning.
func (o *Process) Execute(code []byte, arg uintptr) (uint32, error) {
	var result uint32

	err := o.WithRegion(len(code), func(region *Region) error {
		err := region.Write(code)
		if err != nil {
			return err
		}

		err = region.MakeExecutable()
		if err != nil {
			return err
		}

		result, err = o.Call(region.Address(), arg)
		return err
	})
	if err != nil {
		return 0, err
	}

	return result, nil
}

func (o *Thread) Start() uintptr {
	return o.start
}

func (o *Thread) Arg() uintptr {
	return o.arg
}

// Wait blocks until the thread exits. There is no timeout.
func (o *Thread) Wait() error {
	if o.closed {
		return fmt.Errorf("%w - thread handle is closed", ErrThread)
	}

	err := o.process.platform.WaitThread(o.handle)
	if err != nil {
		return fmt.Errorf("%w - failed to wait for thread at 0x%x - %w", ErrThread, o.start, err)
	}

	o.waited = true

	return nil
}

// ExitCode returns the thread's exit code. It fails with
// ErrThreadRunning if the thread has not exited and Wait has not
// been called.
func (o *Thread) ExitCode() (uint32, error) {
	code, err := o.poll()
	if err != nil {
		return 0, err
	}

	if code == StillActive && !o.waited {
		return 0, ErrThreadRunning
	}

	return code, nil
}

// IsAlive reports whether the thread is still running.
func (o *Thread) IsAlive() (bool, error) {
	code, err := o.poll()
	if err != nil {
		return false, err
	}

	return code == StillActive, nil
}

func (o *Thread) poll() (uint32, error) {
	if o.closed {
		return 0, fmt.Errorf("%w - thread handle is closed", ErrThread)
	}

	code, err := o.process.platform.ThreadExitCode(o.handle)
	if err != nil {
		return 0, fmt.Errorf("%w - failed to get exit code of thread at 0x%x - %w", ErrThread, o.start, err)
	}

	return code, nil
}

// Close releases the thread handle. It does not stop the thread.
func (o *Thread) Close() error {
	if o.closed {
		return nil
	}

	o.closed = true

	err := o.process.platform.CloseHandle(o.handle)
	if err != nil {
		return fmt.Errorf("%w - failed to close thread handle - %w", ErrThread, err)
	}

	return nil
}
