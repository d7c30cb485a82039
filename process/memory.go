package process

import (
	"errors"
	"fmt"
)

// Region is memory allocated inside the target process. It must be
// freed exactly once, after which it cannot be used.
type Region struct {
	process    *Process
	address    uintptr
	size       int
	executable bool
	freed      bool
}

// Allocate commits size bytes of read-write memory in the target.
func (o *Process) Allocate(size int) (*Region, error) {
	if o.closed {
		return nil, ErrClosed
	}

	if size <= 0 {
		return nil, fmt.Errorf("%w - region size must be greater than zero - got %d", ErrMemory, size)
	}

	addr, err := o.platform.AllocateMemory(o.handle, uintptr(size), ReadWrite)
	if err != nil {
		return nil, fmt.Errorf("%w - failed to allocate %d bytes in process %d - %w",
			ErrMemory, size, o.pid, err)
	}

	return &Region{
		process: o,
		address: addr,
		size:    size,
	}, nil
}

// WithRegion allocates a Region, passes it to fn, and frees it when fn
// returns or panics. An error from freeing is joined to fn's error.
func (o *Process) WithRegion(size int, fn func(*Region) error) (err error) {
	region, err := o.Allocate(size)
	if err != nil {
		return err
	}

	defer func() {
		freeErr := region.Free()
		if freeErr != nil {
			err = errors.Join(err, freeErr)
		}
	}()

	return fn(region)
}

func (o *Region) Address() uintptr {
	return o.address
}

func (o *Region) Size() int {
	return o.size
}

func (o *Region) IsFreed() bool {
	return o.freed
}

func (o *Region) usable() error {
	if o.freed {
		return fmt.Errorf("%w - region at 0x%x has been freed", ErrMemory, o.address)
	}
	return nil
}

// Write copies p to the start of the region.
func (o *Region) Write(p []byte) error {
	err := o.usable()
	if err != nil {
		return err
	}

	if o.executable {
		return fmt.Errorf("%w - region at 0x%x is executable and cannot be written", ErrMemory, o.address)
	}

	if len(p) > o.size {
		return fmt.Errorf("%w - cannot write %d bytes to a %d byte region", ErrMemory, len(p), o.size)
	}

	_, err = o.process.WriteMemory(o.address, p)
	return err
}

// Read fills p from the start of the region.
func (o *Region) Read(p []byte) error {
	err := o.usable()
	if err != nil {
		return err
	}

	if o.executable {
		return fmt.Errorf("%w - region at 0x%x is execute-only", ErrMemory, o.address)
	}

	if len(p) > o.size {
		return fmt.Errorf("%w - cannot read %d bytes from a %d byte region", ErrMemory, len(p), o.size)
	}

	_, err = o.process.ReadMemory(o.address, p)
	return err
}

// MakeExecutable makes the region execute-only. The region can no
// longer be read or written.
func (o *Region) MakeExecutable() error {
	err := o.usable()
	if err != nil {
		return err
	}

	err = o.process.platform.ProtectMemory(o.process.handle, o.address, uintptr(o.size), Execute)
	if err != nil {
		return fmt.Errorf("%w - failed to make region at 0x%x executable - %w", ErrMemory, o.address, err)
	}

	o.executable = true

	return nil
}

// Free releases the region. Calling Free more than once is an error.
func (o *Region) Free() error {
	err := o.usable()
	if err != nil {
		return err
	}

	o.freed = true

	err = o.process.platform.FreeMemory(o.process.handle, o.address)
	if err != nil {
		return fmt.Errorf("%w - failed to free region at 0x%x - %w", ErrMemory, o.address, err)
	}

	return nil
}
