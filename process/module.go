package process

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Module is a module loaded in the target process.
type Module struct {
	process *Process
	Handle  uintptr
	Name    string
	Path    string
	Base    uintptr
	Size    uint32
}

func (o *Module) Process() *Process {
	return o.process
}

// Proc returns the export called name as the target sees it.
func (o *Module) Proc(name string) (*Proc, error) {
	address, err := o.process.resolver.Resolve(o, name)
	if err != nil {
		return nil, err
	}

	return &Proc{
		Module:  o,
		Name:    name,
		Address: address,
	}, nil
}

// ProcAddress returns the address of the export called name.
func (o *Module) ProcAddress(name string) (uintptr, error) {
	proc, err := o.Proc(name)
	if err != nil {
		return 0, err
	}

	return proc.Address, nil
}

// CallProc resolves the export called name and calls it with arg.
func (o *Module) CallProc(name string, arg uintptr) (uint32, error) {
	proc, err := o.Proc(name)
	if err != nil {
		return 0, err
	}

	return proc.Call(arg)
}

// Proc is an exported function of a Module.
type Proc struct {
	Module  *Module
	Name    string
	Address uintptr
}

// Call runs the function in a new thread in the target, passing arg,
// and returns the thread's exit code.
func (o *Proc) Call(arg uintptr) (uint32, error) {
	return o.Module.process.Call(o.Address, arg)
}

func (o *Proc) String() string {
	return fmt.Sprintf("%s!%s@0x%x", o.Module.Name, o.Name, o.Address)
}

// Modules returns a fresh snapshot of the target's modules.
func (o *Process) Modules() ([]*Module, error) {
	if o.closed {
		return nil, ErrClosed
	}

	entries, err := o.platform.Modules(o.pid)
	if err != nil {
		return nil, fmt.Errorf("failed to list modules of process %d - %w", o.pid, err)
	}

	modules := make([]*Module, len(entries))
	for i, e := range entries {
		modules[i] = &Module{
			process: o,
			Handle:  e.Handle,
			Name:    e.Name,
			Path:    e.Path,
			Base:    e.Base,
			Size:    e.Size,
		}
	}

	return modules, nil
}

// ModuleByName finds a module by file name, ignoring case. ".dll"
// is appended when name has no extension.
func (o *Process) ModuleByName(name string) (*Module, error) {
	if filepath.Ext(name) == "" {
		name += ".dll"
	}

	return o.findModule(func(m *Module) bool {
		return strings.EqualFold(m.Name, name)
	}, name)
}

// ModuleByPath finds a module by its full path, ignoring case.
// path must already be resolved, see ResolveModulePath.
func (o *Process) ModuleByPath(path string) (*Module, error) {
	return o.findModule(func(m *Module) bool {
		return strings.EqualFold(m.Path, path)
	}, path)
}

func (o *Process) findModule(match func(*Module) bool, desc string) (*Module, error) {
	modules, err := o.Modules()
	if err != nil {
		return nil, err
	}

	for _, m := range modules {
		if match(m) {
			return m, nil
		}
	}

	return nil, fmt.Errorf("%w - %q in process %d", ErrModuleNotFound, desc, o.pid)
}
