// Package processtest provides an in-memory process.Platform.
//
// A FakePlatform hosts any number of FakeProcess values. Each fake
// process has a sparse address space, a module list that starts with
// kernel32.dll, and threads that run to completion when they are
// created. kernel32's LoadLibraryW, FreeLibrary and GetProcAddress
// are emulated, as is the symbol resolution code run by
// process.SymbolResolver.
//
// Nothing here is safe for concurrent use.
package processtest

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf16"

	"gitlab.com/stephen-fox/gammahook/peimage"
	"gitlab.com/stephen-fox/gammahook/process"
)

const (
	imageSize   = 0x10000
	exportAlign = 0x100
	fillByte    = 0xcc
)

// Func emulates an exported function. Its return value is the
// calling thread's exit code.
type Func func(p *FakeProcess, arg uintptr) uint32

// Export is an exported function of an Image.
type Export struct {
	Name string

	// OptFn runs when a thread starts at the export.
	OptFn Func

	// OptCode is placed at the export's address.
	OptCode []byte
}

// Image is a module that can be loaded into a FakeProcess.
type Image struct {
	// Path is the module's file path. Its base name is the
	// module name.
	Path    string
	Bits    int
	Exports []Export
}

func (o Image) info() peimage.Info {
	info := peimage.Info{Bits: o.Bits}
	for _, e := range o.Exports {
		info.Exports = append(info.Exports, e.Name)
	}
	sort.Strings(info.Exports)
	return info
}

// Stats counts operations performed on a FakeProcess.
type Stats struct {
	Allocs         int
	Frees          int
	Reads          int
	Writes         int
	Flushes        int
	Threads        int
	LoadLibrary    int
	FreeLibrary    int
	GetProcAddress int
}

type segment struct {
	base       uintptr
	data       []byte
	protection process.Protection
	allocated  bool
}

func (o *segment) contains(addr uintptr, n int) bool {
	return addr >= o.base && addr+uintptr(n) <= o.base+uintptr(len(o.data))
}

type loadedModule struct {
	image    Image
	entry    process.ModuleEntry
	refs     int
	exports  map[string]uintptr
	byAddr   map[uintptr]Export
	isSystem bool
}

type thread struct {
	exitCode uint32
	waited   bool
}

// FakeProcess is a process hosted by a FakePlatform.
type FakeProcess struct {
	platform *FakePlatform
	pid      uint32
	bits     int
	emulated bool
	exitCode uint32
	segments []*segment
	modules  []*loadedModule
	nextMem  uintptr
	nextMod  uintptr

	// OptPendingThreads makes threads report process.StillActive
	// until they are waited for.
	OptPendingThreads bool

	// OptExecute runs code copied into an executable region that
	// the fake does not otherwise recognize. ok is false when the
	// code is unknown.
	OptExecute func(p *FakeProcess, code []byte, arg uintptr) (exitCode uint32, ok bool)

	// Unloaded lists the names of unloaded modules in unload order.
	Unloaded []string

	Stats Stats
}

func (o *FakeProcess) PID() uint32 {
	return o.pid
}

func (o *FakeProcess) Bits() int {
	return o.bits
}

// Exit terminates the process with code.
func (o *FakeProcess) Exit(code uint32) {
	o.exitCode = code
}

func (o *FakeProcess) alive() bool {
	return o.exitCode == process.StillActive
}

func (o *FakeProcess) pointerSize() int {
	return o.bits / 8
}

func (o *FakeProcess) segmentAt(addr uintptr, n int) *segment {
	for _, s := range o.segments {
		if s.contains(addr, n) {
			return s
		}
	}
	return nil
}

// Peek reads memory without recording a read. Protection is
// ignored.
func (o *FakeProcess) Peek(addr uintptr, n int) ([]byte, error) {
	s := o.segmentAt(addr, n)
	if s == nil {
		return nil, fmt.Errorf("address 0x%x (%d bytes) is not mapped", addr, n)
	}

	off := addr - s.base
	return append([]byte(nil), s.data[off:off+uintptr(n)]...), nil
}

// Poke writes memory without recording a write. Protection is
// ignored.
func (o *FakeProcess) Poke(addr uintptr, p []byte) error {
	s := o.segmentAt(addr, len(p))
	if s == nil {
		return fmt.Errorf("address 0x%x (%d bytes) is not mapped", addr, len(p))
	}

	copy(s.data[addr-s.base:], p)
	return nil
}

// ProtectionAt returns the protection of the page holding addr.
func (o *FakeProcess) ProtectionAt(addr uintptr) (process.Protection, bool) {
	s := o.segmentAt(addr, 1)
	if s == nil {
		return 0, false
	}
	return s.protection, true
}

// LiveRegions returns the number of allocated regions not yet freed.
func (o *FakeProcess) LiveRegions() int {
	n := 0
	for _, s := range o.segments {
		if s.allocated {
			n++
		}
	}
	return n
}

// ReadPointer reads a pointer sized for the process.
func (o *FakeProcess) ReadPointer(addr uintptr) (uintptr, error) {
	b, err := o.Peek(addr, o.pointerSize())
	if err != nil {
		return 0, err
	}

	if o.bits == 32 {
		return uintptr(binary.LittleEndian.Uint32(b)), nil
	}
	return uintptr(binary.LittleEndian.Uint64(b)), nil
}

func (o *FakeProcess) writePointer(addr uintptr, value uintptr) error {
	b := make([]byte, o.pointerSize())
	if o.bits == 32 {
		binary.LittleEndian.PutUint32(b, uint32(value))
	} else {
		binary.LittleEndian.PutUint64(b, uint64(value))
	}
	return o.Poke(addr, b)
}

// ReadCString reads a NUL-terminated ASCII string.
func (o *FakeProcess) ReadCString(addr uintptr) (string, error) {
	var sb strings.Builder
	for {
		b, err := o.Peek(addr, 1)
		if err != nil {
			return "", err
		}
		if b[0] == 0 {
			return sb.String(), nil
		}
		sb.WriteByte(b[0])
		addr++
	}
}

// ReadUTF16String reads a NUL-terminated UTF-16 string.
func (o *FakeProcess) ReadUTF16String(addr uintptr) (string, error) {
	var units []uint16
	for {
		b, err := o.Peek(addr, 2)
		if err != nil {
			return "", err
		}
		u := binary.LittleEndian.Uint16(b)
		if u == 0 {
			return string(utf16.Decode(units)), nil
		}
		units = append(units, u)
		addr += 2
	}
}

// Module returns the loaded module called name, ignoring case.
func (o *FakeProcess) Module(name string) (process.ModuleEntry, bool) {
	m := o.moduleByName(name)
	if m == nil {
		return process.ModuleEntry{}, false
	}
	return m.entry, true
}

// ExportAddress returns the address of an export of a loaded module.
func (o *FakeProcess) ExportAddress(module string, export string) (uintptr, bool) {
	m := o.moduleByName(module)
	if m == nil {
		return 0, false
	}

	addr, ok := m.exports[export]
	return addr, ok
}

func (o *FakeProcess) moduleByName(name string) *loadedModule {
	for _, m := range o.modules {
		if strings.EqualFold(m.entry.Name, name) {
			return m
		}
	}
	return nil
}

func (o *FakeProcess) moduleByPath(path string) *loadedModule {
	for _, m := range o.modules {
		if strings.EqualFold(m.entry.Path, path) {
			return m
		}
	}
	return nil
}

// Load maps image into the process as if the process had loaded it
// itself.
func (o *FakeProcess) Load(image Image) (process.ModuleEntry, error) {
	m, err := o.load(image, false)
	if err != nil {
		return process.ModuleEntry{}, err
	}
	return m.entry, nil
}

func (o *FakeProcess) load(image Image, isSystem bool) (*loadedModule, error) {
	if image.Bits != o.bits {
		return nil, fmt.Errorf("cannot load %d-bit image %q into %d-bit process",
			image.Bits, image.Path, o.bits)
	}

	if m := o.moduleByPath(image.Path); m != nil {
		m.refs++
		return m, nil
	}

	if len(image.Exports)*exportAlign >= imageSize {
		return nil, fmt.Errorf("image %q has too many exports", image.Path)
	}

	base := o.nextMod
	if isSystem {
		base = o.platform.systemBase(o.bits, image.Path)
	} else {
		o.nextMod += imageSize
	}

	seg := &segment{
		base:       base,
		data:       bytes.Repeat([]byte{fillByte}, imageSize),
		protection: process.Execute,
	}

	m := &loadedModule{
		image: image,
		entry: process.ModuleEntry{
			Handle: base,
			Name:   baseName(image.Path),
			Path:   image.Path,
			Base:   base,
			Size:   imageSize,
		},
		refs:     1,
		exports:  make(map[string]uintptr),
		byAddr:   make(map[uintptr]Export),
		isSystem: isSystem,
	}

	for i, e := range image.Exports {
		addr := base + uintptr(i+1)*exportAlign
		copy(seg.data[addr-base:addr-base+exportAlign], e.OptCode)
		m.exports[e.Name] = addr
		m.byAddr[addr] = e
	}

	o.segments = append(o.segments, seg)
	o.modules = append(o.modules, m)

	return m, nil
}

func (o *FakeProcess) unload(handle uintptr) bool {
	for i, m := range o.modules {
		if m.entry.Handle != handle {
			continue
		}

		m.refs--
		if m.refs > 0 {
			return true
		}

		o.modules = append(o.modules[:i], o.modules[i+1:]...)
		o.unmap(m.entry.Base)
		o.Unloaded = append(o.Unloaded, m.entry.Name)
		return true
	}
	return false
}

func (o *FakeProcess) unmap(base uintptr) bool {
	for i, s := range o.segments {
		if s.base == base {
			o.segments = append(o.segments[:i], o.segments[i+1:]...)
			return true
		}
	}
	return false
}

func (o *FakeProcess) run(start uintptr, arg uintptr) (uint32, error) {
	for _, m := range o.modules {
		e, ok := m.byAddr[start]
		if !ok {
			continue
		}

		if e.OptFn == nil {
			return 0, fmt.Errorf("export %s!%s has no emulation", m.entry.Name, e.Name)
		}

		return e.OptFn(o, arg), nil
	}

	s := o.segmentAt(start, 1)
	if s == nil {
		return 0, fmt.Errorf("thread start address 0x%x is not mapped", start)
	}

	if s.protection != process.Execute {
		return 0, fmt.Errorf("thread start address 0x%x is not executable", start)
	}

	code := s.data[start-s.base:]

	switch {
	case o.bits == 64 && bytes.HasPrefix(code, process.GetProcAddress64Code),
		o.bits == 32 && bytes.HasPrefix(code, process.GetProcAddress32Code):
		return o.getProcAddressRecord(arg)
	}

	if o.OptExecute != nil {
		exitCode, ok := o.OptExecute(o, code, arg)
		if ok {
			return exitCode, nil
		}
	}

	return 0, fmt.Errorf("unknown code at 0x%x", start)
}

// getProcAddressRecord emulates the resolver code: the record holds
// the result, GetProcAddress, the module handle and the symbol name.
func (o *FakeProcess) getProcAddressRecord(arg uintptr) (uint32, error) {
	ps := uintptr(o.pointerSize())

	fn, err := o.ReadPointer(arg + ps)
	if err != nil {
		return 0, err
	}

	kernel32 := o.moduleByName("kernel32.dll")
	if kernel32 == nil || kernel32.exports["GetProcAddress"] != fn {
		return 0, fmt.Errorf("record does not point to GetProcAddress - got 0x%x", fn)
	}

	handle, err := o.ReadPointer(arg + 2*ps)
	if err != nil {
		return 0, err
	}

	name, err := o.ReadCString(arg + 3*ps)
	if err != nil {
		return 0, err
	}

	o.Stats.GetProcAddress++

	var result uintptr
	for _, m := range o.modules {
		if m.entry.Handle == handle {
			result = m.exports[name]
			break
		}
	}

	err = o.writePointer(arg, result)
	if err != nil {
		return 0, err
	}

	if result == 0 {
		return 0, nil
	}
	return 1, nil
}

func (o *FakeProcess) loadLibraryW(p *FakeProcess, arg uintptr) uint32 {
	o.Stats.LoadLibrary++

	path, err := p.ReadUTF16String(arg)
	if err != nil {
		return 0
	}

	image, ok := o.platform.images[strings.ToLower(path)]
	if !ok {
		return 0
	}

	m, err := p.load(image, false)
	if err != nil {
		return 0
	}

	return uint32(m.entry.Handle)
}

func (o *FakeProcess) freeLibrary(p *FakeProcess, arg uintptr) uint32 {
	o.Stats.FreeLibrary++

	if p.unload(arg) {
		return 1
	}
	return 0
}

// FakePlatform implements process.Platform in memory.
type FakePlatform struct {
	hostBits   int
	systemBits int
	processes  map[uint32]*FakeProcess
	images     map[string]Image
	handles    map[process.Handle]interface{}
	nextHandle process.Handle

	// OptNoEmulationQuery makes IsEmulated return
	// process.ErrEmulationQueryUnsupported.
	OptNoEmulationQuery bool

	// OptFailAllocate makes AllocateMemory fail.
	OptFailAllocate bool
}

// NewFakePlatform returns a FakePlatform whose host process has the
// given pointer width on a 64-bit system.
func NewFakePlatform(hostBits int) *FakePlatform {
	return &FakePlatform{
		hostBits:   hostBits,
		systemBits: 64,
		processes:  make(map[uint32]*FakeProcess),
		images:     make(map[string]Image),
		handles:    make(map[process.Handle]interface{}),
		nextHandle: 0x100,
	}
}

// SetSystemBits changes the system's native pointer width.
func (o *FakePlatform) SetSystemBits(bits int) {
	o.systemBits = bits
}

// SystemPath returns the path of a system module for a process with
// the given pointer width.
func (o *FakePlatform) SystemPath(bits int, name string) string {
	if bits == 32 && o.systemBits == 64 {
		return `C:\Windows\SysWOW64\` + name
	}
	return `C:\Windows\System32\` + name
}

// baseName accepts both Windows and slash separated paths.
func baseName(path string) string {
	i := strings.LastIndexAny(path, `\/`)
	return path[i+1:]
}

// systemBase places system modules at the same base in every
// process of the same bitness.
func (o *FakePlatform) systemBase(bits int, path string) uintptr {
	var base uint64 = 0x76000000
	if bits == 64 {
		base = 0x7ffa00000000
	}

	n := uint64(0)
	for _, c := range strings.ToLower(baseName(path)) {
		n = n*31 + uint64(c)
	}

	return uintptr(base + (n%0x100)*imageSize)
}

// AddProcess creates a running process. Processes whose bits are
// lower than the system's run emulated.
func (o *FakePlatform) AddProcess(pid uint32, bits int) *FakeProcess {
	p := &FakeProcess{
		platform: o,
		pid:      pid,
		bits:     bits,
		emulated: bits < o.systemBits,
		exitCode: process.StillActive,
		nextMem:  0x10000000,
		nextMod:  0x50000000,
	}

	_, err := p.load(Image{
		Path: o.SystemPath(bits, "kernel32.dll"),
		Bits: bits,
		Exports: []Export{
			{Name: "FreeLibrary", OptFn: p.freeLibrary},
			{Name: "GetProcAddress"},
			{Name: "LoadLibraryW", OptFn: p.loadLibraryW},
		},
	}, true)
	if err != nil {
		panic(err)
	}

	o.processes[pid] = p

	return p
}

// LoadSystemModule maps a system module into p at the base it has
// in every process of the same bitness.
func (o *FakePlatform) LoadSystemModule(p *FakeProcess, image Image) (process.ModuleEntry, error) {
	m, err := p.load(image, true)
	if err != nil {
		return process.ModuleEntry{}, err
	}
	return m.entry, nil
}

// Process returns the process identified by pid.
func (o *FakePlatform) Process(pid uint32) (*FakeProcess, bool) {
	p, ok := o.processes[pid]
	return p, ok
}

// AddImage makes image loadable with LoadLibraryW and inspectable
// with InspectImage.
func (o *FakePlatform) AddImage(image Image) {
	o.images[strings.ToLower(image.Path)] = image
}

// CreateImage writes an empty file called name in dir, points
// image.Path at its resolved path, and adds the image. It returns
// the resolved path.
func (o *FakePlatform) CreateImage(dir string, name string, image Image) (string, error) {
	path := filepath.Join(dir, name)

	err := os.WriteFile(path, nil, 0o600)
	if err != nil {
		return "", err
	}

	resolved, err := process.ResolveModulePath(path)
	if err != nil {
		return "", err
	}

	image.Path = resolved
	o.AddImage(image)

	return resolved, nil
}

// OpenHandles returns the number of handles not yet closed.
func (o *FakePlatform) OpenHandles() int {
	return len(o.handles)
}

func (o *FakePlatform) newHandle(v interface{}) process.Handle {
	o.nextHandle += 4
	o.handles[o.nextHandle] = v
	return o.nextHandle
}

func (o *FakePlatform) processFor(h process.Handle) (*FakeProcess, error) {
	v, ok := o.handles[h]
	if !ok {
		return nil, fmt.Errorf("invalid handle 0x%x", h)
	}

	p, ok := v.(*FakeProcess)
	if !ok {
		return nil, fmt.Errorf("handle 0x%x is not a process", h)
	}

	return p, nil
}

func (o *FakePlatform) threadFor(h process.Handle) (*thread, error) {
	v, ok := o.handles[h]
	if !ok {
		return nil, fmt.Errorf("invalid handle 0x%x", h)
	}

	t, ok := v.(*thread)
	if !ok {
		return nil, fmt.Errorf("handle 0x%x is not a thread", h)
	}

	return t, nil
}

func (o *FakePlatform) HostBits() int {
	return o.hostBits
}

func (o *FakePlatform) SystemBits() int {
	return o.systemBits
}

func (o *FakePlatform) OpenProcess(pid uint32) (process.Handle, error) {
	p, ok := o.processes[pid]
	if !ok || !p.alive() {
		return 0, fmt.Errorf("no such process: %d", pid)
	}

	return o.newHandle(p), nil
}

func (o *FakePlatform) IsEmulated(h process.Handle) (bool, error) {
	if o.OptNoEmulationQuery {
		return false, process.ErrEmulationQueryUnsupported
	}

	p, err := o.processFor(h)
	if err != nil {
		return false, err
	}

	return p.emulated, nil
}

func (o *FakePlatform) ExitCode(h process.Handle) (uint32, error) {
	p, err := o.processFor(h)
	if err != nil {
		return 0, err
	}

	return p.exitCode, nil
}

func (o *FakePlatform) CloseHandle(h process.Handle) error {
	_, ok := o.handles[h]
	if !ok {
		return fmt.Errorf("invalid handle 0x%x", h)
	}

	delete(o.handles, h)

	return nil
}

func (o *FakePlatform) AllocateMemory(h process.Handle, size uintptr, protection process.Protection) (uintptr, error) {
	p, err := o.processFor(h)
	if err != nil {
		return 0, err
	}

	if o.OptFailAllocate {
		return 0, errors.New("out of memory")
	}

	if !p.alive() {
		return 0, errors.New("process has exited")
	}

	p.Stats.Allocs++

	base := p.nextMem
	p.nextMem += (size + 0xfff) &^ 0xfff

	p.segments = append(p.segments, &segment{
		base:       base,
		data:       make([]byte, size),
		protection: protection,
		allocated:  true,
	})

	return base, nil
}

func (o *FakePlatform) allocatedSegment(p *FakeProcess, addr uintptr) (*segment, error) {
	for _, s := range p.segments {
		if s.allocated && s.base == addr {
			return s, nil
		}
	}
	return nil, fmt.Errorf("0x%x is not the base of an allocated region", addr)
}

func (o *FakePlatform) ProtectMemory(h process.Handle, addr uintptr, size uintptr, protection process.Protection) error {
	p, err := o.processFor(h)
	if err != nil {
		return err
	}

	s, err := o.allocatedSegment(p, addr)
	if err != nil {
		return err
	}

	if size > uintptr(len(s.data)) {
		return fmt.Errorf("size %d exceeds region size %d", size, len(s.data))
	}

	s.protection = protection

	return nil
}

func (o *FakePlatform) FreeMemory(h process.Handle, addr uintptr) error {
	p, err := o.processFor(h)
	if err != nil {
		return err
	}

	_, err = o.allocatedSegment(p, addr)
	if err != nil {
		return err
	}

	p.Stats.Frees++
	p.unmap(addr)

	return nil
}

func (o *FakePlatform) ReadMemory(h process.Handle, addr uintptr, b []byte) (int, error) {
	p, err := o.processFor(h)
	if err != nil {
		return 0, err
	}

	s := p.segmentAt(addr, len(b))
	if s == nil {
		return 0, fmt.Errorf("address 0x%x (%d bytes) is not mapped", addr, len(b))
	}

	if s.allocated && s.protection == process.Execute {
		return 0, fmt.Errorf("access denied reading execute-only memory at 0x%x", addr)
	}

	p.Stats.Reads++

	return copy(b, s.data[addr-s.base:]), nil
}

func (o *FakePlatform) WriteMemory(h process.Handle, addr uintptr, b []byte) (int, error) {
	p, err := o.processFor(h)
	if err != nil {
		return 0, err
	}

	s := p.segmentAt(addr, len(b))
	if s == nil {
		return 0, fmt.Errorf("address 0x%x (%d bytes) is not mapped", addr, len(b))
	}

	if s.allocated && s.protection == process.Execute {
		return 0, fmt.Errorf("access denied writing execute-only memory at 0x%x", addr)
	}

	p.Stats.Writes++

	return copy(s.data[addr-s.base:], b), nil
}

func (o *FakePlatform) FlushInstructionCache(h process.Handle, addr uintptr, size uintptr) error {
	p, err := o.processFor(h)
	if err != nil {
		return err
	}

	p.Stats.Flushes++

	return nil
}

func (o *FakePlatform) CreateThread(h process.Handle, start uintptr, arg uintptr) (process.Handle, error) {
	p, err := o.processFor(h)
	if err != nil {
		return 0, err
	}

	if !p.alive() {
		return 0, errors.New("process has exited")
	}

	exitCode, err := p.run(start, arg)
	if err != nil {
		return 0, err
	}

	p.Stats.Threads++

	t := &thread{exitCode: exitCode}
	if !p.OptPendingThreads {
		t.waited = true
	}

	return o.newHandle(t), nil
}

func (o *FakePlatform) WaitThread(h process.Handle) error {
	t, err := o.threadFor(h)
	if err != nil {
		return err
	}

	t.waited = true

	return nil
}

func (o *FakePlatform) ThreadExitCode(h process.Handle) (uint32, error) {
	t, err := o.threadFor(h)
	if err != nil {
		return 0, err
	}

	if !t.waited {
		return process.StillActive, nil
	}

	return t.exitCode, nil
}

func (o *FakePlatform) Modules(pid uint32) ([]process.ModuleEntry, error) {
	p, ok := o.processes[pid]
	if !ok || !p.alive() {
		return nil, fmt.Errorf("no such process: %d", pid)
	}

	entries := make([]process.ModuleEntry, len(p.modules))
	for i, m := range p.modules {
		entries[i] = m.entry
	}

	return entries, nil
}

// LocalProcAddress returns addresses of system modules as the host
// would see them. System modules share a base across processes of
// the same bitness.
func (o *FakePlatform) LocalProcAddress(module string, symbol string) (uintptr, error) {
	if filepath.Ext(module) == "" {
		module += ".dll"
	}

	if !strings.EqualFold(module, "kernel32.dll") {
		return 0, fmt.Errorf("module %q is not loaded in the host", module)
	}

	for _, p := range o.processes {
		if p.bits != o.hostBits {
			continue
		}

		if addr, ok := p.ExportAddress(module, symbol); ok {
			return addr, nil
		}
	}

	base := o.systemBase(o.hostBits, module)
	switch symbol {
	case "FreeLibrary":
		return base + exportAlign, nil
	case "GetProcAddress":
		return base + 2*exportAlign, nil
	case "LoadLibraryW":
		return base + 3*exportAlign, nil
	default:
		return 0, fmt.Errorf("%s!%s not found", module, symbol)
	}
}

func (o *FakePlatform) InspectImage(path string) (peimage.Info, error) {
	image, ok := o.images[strings.ToLower(path)]
	if !ok {
		return peimage.Info{}, fmt.Errorf("failed to open pe file %q - %w", path, os.ErrNotExist)
	}

	return image.info(), nil
}

// GetProcAddress32 returns the address of GetProcAddress in 32-bit
// processes.
func (o *FakePlatform) GetProcAddress32() uintptr {
	return o.systemBase(32, "kernel32.dll") + 2*exportAlign
}

// Helper is a process.Helper that reports the 32-bit GetProcAddress
// of a FakePlatform.
type Helper struct {
	Platform *FakePlatform
	Calls    int

	// OptErr is returned instead of the address when set.
	OptErr error
}

func (o *Helper) GetProcAddress32() (uintptr, error) {
	o.Calls++

	if o.OptErr != nil {
		return 0, o.OptErr
	}

	return o.Platform.GetProcAddress32(), nil
}
