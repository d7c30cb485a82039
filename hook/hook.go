// Package hook redirects a process's calls to gdi32!SetDeviceGammaRamp
// into a companion module that forwards the requested colour
// temperature to a local HTTP listener.
//
// A Hook moves through Uninstalled, Installing, Installed and
// Uninstalling. Install injects the companion, starts it and patches
// the gamma function. Uninstall undoes all of that, in reverse. An
// installed hook can be saved with Snapshot and rebuilt by another
// program with Resume.
package hook

import (
	"errors"
	"fmt"
	"log"

	"gitlab.com/stephen-fox/gammahook/patch"
	"gitlab.com/stephen-fox/gammahook/process"
)

var (
	// ErrHookProtocol means the companion module rejected a request
	// or does not look like a companion module.
	ErrHookProtocol = errors.New("hook protocol error")

	// ErrState means an operation is not valid in the hook's
	// current state.
	ErrState = errors.New("hook state error")
)

// Status is the lifecycle state of a Hook.
type Status int

const (
	Uninstalled Status = iota
	Installing
	Installed
	Uninstalling
)

func (o Status) String() string {
	switch o {
	case Uninstalled:
		return "uninstalled"
	case Installing:
		return "installing"
	case Installed:
		return "installed"
	case Uninstalling:
		return "uninstalling"
	default:
		return "unknown"
	}
}

// Options configures New.
type Options struct {
	Companion Companion
	OptLogger *log.Logger
}

// New returns an uninstalled Hook.
func New(options Options) *Hook {
	return &Hook{
		companion: options.Companion,
		logger:    options.OptLogger,
	}
}

// Hook manages the gamma hook in one target process.
type Hook struct {
	companion Companion
	logger    *log.Logger
	status    Status

	p       *process.Process
	module  *process.Module
	config  Config
	applied *patch.Applied
}

func (o *Hook) Status() Status {
	return o.status
}

// Process returns the target while the hook is installed.
func (o *Hook) Process() *process.Process {
	return o.p
}

func (o *Hook) logf(format string, args ...interface{}) {
	if o.logger != nil {
		o.logger.Printf(format, args...)
	}
}

// Install hooks p. On success the Hook owns p and closes it in
// Uninstall. On failure the companion is stopped and, if Install
// loaded it, ejected. The caller still owns p.
func (o *Hook) Install(p *process.Process, config Config) error {
	if o.status != Uninstalled {
		return fmt.Errorf("%w - cannot install a hook that is %s", ErrState, o.status)
	}

	configBytes, err := config.Marshal()
	if err != nil {
		return err
	}

	o.status = Installing

	err = o.install(p, config, configBytes)
	if err != nil {
		o.status = Uninstalled
		return err
	}

	o.status = Installed

	return nil
}

func (o *Hook) install(p *process.Process, config Config, configBytes []byte) (err error) {
	path, err := o.companion.Inspect(p.Platform(), p.Bits())
	if err != nil {
		return err
	}

	module, status, err := p.Inject(path, true)
	if err != nil {
		return fmt.Errorf("failed to inject companion module - %w", err)
	}

	o.logf("companion %q is %s in process %d", path, status, p.PID())

	started := false

	defer func() {
		if err == nil {
			return
		}

		if started {
			code, stopErr := module.CallProc(StopExport, 0)
			if stopErr != nil || code == 0 {
				o.logf("failed to stop companion after install error - code: %d, err: %v", code, stopErr)
			}
		}

		if status == process.NewlyLoaded {
			_, ejectErr := p.Eject(path)
			if ejectErr != nil {
				o.logf("failed to eject companion after install error - %v", ejectErr)
			}
		}
	}()

	start, err := module.Proc(StartExport)
	if err != nil {
		return fmt.Errorf("failed to resolve companion start function - %w", err)
	}

	err = p.WithRegion(len(configBytes), func(region *process.Region) error {
		err := region.Write(configBytes)
		if err != nil {
			return err
		}

		code, err := start.Call(region.Address())
		if err != nil {
			return fmt.Errorf("failed to call %s - %w", StartExport, err)
		}

		if code == 0 {
			return fmt.Errorf("%w - %s reported failure for %s", ErrHookProtocol, StartExport, config)
		}

		return nil
	})
	if err != nil {
		return err
	}

	started = true

	gdi32, err := p.ModuleByName(PatchModule)
	if err != nil {
		return fmt.Errorf("failed to find %s - %w", PatchModule, err)
	}

	target, err := gdi32.ProcAddress(PatchSymbol)
	if err != nil {
		return fmt.Errorf("failed to resolve %s!%s - %w", PatchModule, PatchSymbol, err)
	}

	trampoline, err := module.ProcAddress(TrampolineExport)
	if err != nil {
		return fmt.Errorf("failed to resolve companion trampoline - %w", err)
	}

	jump, err := patch.JumpTo(p.Bits(), trampoline)
	if err != nil {
		return err
	}

	applied, err := patch.Apply(p, target, jump)
	if err != nil {
		return fmt.Errorf("failed to patch %s!%s - %w", PatchModule, PatchSymbol, err)
	}

	if status == process.AlreadyPresent {
		_, err = p.Adopt(path)
		if err != nil {
			_, restoreErr := applied.Restore()
			return errors.Join(fmt.Errorf("failed to adopt companion module - %w", err), restoreErr)
		}
	}

	o.logf("patched %s!%s at 0x%x to jump to 0x%x", PatchModule, PatchSymbol, target, trampoline)

	o.p = p
	o.module = module
	o.config = config
	o.applied = applied

	return nil
}

// Resume rebuilds an installed hook from a State saved by another
// Hook. Memory is not touched. On success the Hook owns p.
func (o *Hook) Resume(p *process.Process, state State) error {
	if o.status != Uninstalled {
		return fmt.Errorf("%w - cannot resume a hook that is %s", ErrState, o.status)
	}

	err := state.Validate()
	if err != nil {
		return err
	}

	if state.PID != p.PID() {
		return fmt.Errorf("%w - state is for process %d - got process %d", ErrState, state.PID, p.PID())
	}

	if state.Bits != p.Bits() {
		return fmt.Errorf("%w - state is for a %d-bit process - process %d is %d-bit",
			ErrState, state.Bits, p.PID(), p.Bits())
	}

	record, err := state.Record()
	if err != nil {
		return err
	}

	module, err := p.Adopt(state.Companion)
	if err != nil {
		return fmt.Errorf("failed to find companion module - %w", err)
	}

	applied, err := patch.Resume(p, record)
	if err != nil {
		return err
	}

	o.p = p
	o.module = module
	o.config = Config{Host: state.Host, Port: state.Port}
	o.applied = applied
	o.status = Installed

	return nil
}

// Snapshot returns the State of an installed hook.
func (o *Hook) Snapshot() (State, error) {
	if o.status != Installed {
		return State{}, fmt.Errorf("%w - cannot snapshot a hook that is %s", ErrState, o.status)
	}

	return newState(o.p.PID(), o.p.Bits(), o.module.Path, o.config, o.applied.Record()), nil
}

// Verify reports whether the patch site still jumps to the companion.
func (o *Hook) Verify() (bool, error) {
	if o.status != Installed {
		return false, fmt.Errorf("%w - cannot verify a hook that is %s", ErrState, o.status)
	}

	return o.applied.Verify()
}

// Uninstall restores the patched function, stops the companion and
// closes the process, which ejects the companion. If the target has
// exited, the patch is forgotten and no memory is touched.
//
// When the original bytes cannot be restored the companion is left
// loaded, since the patched function may still jump into it.
func (o *Hook) Uninstall() error {
	if o.status != Installed {
		return fmt.Errorf("%w - cannot uninstall a hook that is %s", ErrState, o.status)
	}

	o.status = Uninstalling

	p := o.p
	defer func() {
		o.p = nil
		o.module = nil
		o.applied = nil
		o.status = Uninstalled
	}()

	alive, err := p.IsAlive()
	if err != nil {
		return errors.Join(fmt.Errorf("failed to check if process %d is alive - %w", p.PID(), err), p.Close())
	}

	if !alive {
		o.logf("process %d has exited - discarding patch", p.PID())

		_, err := o.applied.Discard()
		return errors.Join(err, p.Close())
	}

	var errs []error

	_, err = o.applied.Restore()
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to restore %s!%s - %w", PatchModule, PatchSymbol, err))

		_, releaseErr := p.Release(o.module.Path)
		if releaseErr != nil {
			errs = append(errs, releaseErr)
		}
	} else {
		o.logf("restored %s!%s at 0x%x", PatchModule, PatchSymbol, o.applied.Record().Address)
	}

	code, stopErr := o.module.CallProc(StopExport, 0)

	errs = append(errs, p.Close())

	switch {
	case stopErr != nil:
		errs = append(errs, fmt.Errorf("failed to call %s - %w", StopExport, stopErr))
	case code == 0:
		errs = append(errs, fmt.Errorf("%w - %s reported failure", ErrHookProtocol, StopExport))
	}

	return errors.Join(errs...)
}
