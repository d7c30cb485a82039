package process

import (
	"fmt"
	"log"
	"sync"

	"gitlab.com/stephen-fox/gammahook/bstruct"
	"gitlab.com/stephen-fox/gammahook/memory"
)

// GetProcAddress32Code calls the GetProcAddress stored in a
// getProcAddressRecord and stores the result in the record. It
// returns 1 on success.
//
//	push ebp
//	mov ebp, esp
//	push esi
//	mov esi, dword ptr [ebp+0x8]
//	lea eax, [esi+0xc]
//	push eax
//	push dword ptr [esi+0x8]
//	call dword ptr [esi+0x4]
//	xor ecx, ecx
//	mov dword ptr [esi], eax
//	test eax, eax
//	pop esi
//	setne cl
//	mov eax, ecx
//	pop ebp
//	ret 0x4
var GetProcAddress32Code = []byte{
	0x55, 0x8b, 0xec, 0x56, 0x8b, 0x75, 0x08, 0x8d, 0x46, 0x0c, 0x50,
	0xff, 0x76, 0x08, 0xff, 0x56, 0x04, 0x33, 0xc9, 0x89, 0x06, 0x85,
	0xc0, 0x5e, 0x0f, 0x95, 0xc1, 0x8b, 0xc1, 0x5d, 0xc2, 0x04, 0x00,
}

// GetProcAddress64Code is the 64-bit version of GetProcAddress32Code.
//
//	push rbx
//	sub rsp, 0x20
//	mov rbx, rcx
//	lea rdx, [rcx+0x18]
//	mov rcx, qword ptr [rcx+0x10]
//	call qword ptr [rbx+0x8]
//	xor ecx, ecx
//	mov qword ptr [rbx], rax
//	test rax, rax
//	setne cl
//	mov eax, ecx
//	add rsp, 0x20
//	pop rbx
//	ret
var GetProcAddress64Code = []byte{
	0x40, 0x53, 0x48, 0x83, 0xec, 0x20, 0x48, 0x8b, 0xd9, 0x48, 0x8d,
	0x51, 0x18, 0x48, 0x8b, 0x49, 0x10, 0xff, 0x53, 0x08, 0x33, 0xc9,
	0x48, 0x89, 0x03, 0x48, 0x85, 0xc0, 0x0f, 0x95, 0xc1, 0x8b, 0xc1,
	0x48, 0x83, 0xc4, 0x20, 0x5b, 0xc3,
}

// getProcAddressRecord is shared with GetProcAddress32Code and
// GetProcAddress64Code.
type getProcAddressRecord struct {
	Result   bstruct.Ptr
	Fn       bstruct.Ptr
	Module   bstruct.Ptr
	ProcName []byte
}

// SymbolResolverConfig configures NewSymbolResolver.
type SymbolResolverConfig struct {
	// Platform is required.
	Platform Platform

	// OptHelper finds GetProcAddress for 32-bit targets when the
	// host is 64-bit. ExecutableHelper is used when nil.
	OptHelper Helper

	OptLogger *log.Logger
}

// NewSymbolResolver returns a SymbolResolver.
func NewSymbolResolver(config SymbolResolverConfig) *SymbolResolver {
	helper := config.OptHelper
	if helper == nil {
		helper = &ExecutableHelper{}
	}

	return &SymbolResolver{
		platform: config.Platform,
		helper:   helper,
		logger:   config.OptLogger,
	}
}

// SymbolResolver finds exported symbols of modules loaded in a
// target by running GetProcAddress inside it. The 32-bit
// GetProcAddress address is looked up at most once per resolver.
type SymbolResolver struct {
	platform Platform
	helper   Helper
	logger   *log.Logger

	mu       sync.Mutex
	cached32 uintptr
}

// Resolve returns the address of symbol in module as seen by the
// module's process.
func (o *SymbolResolver) Resolve(module *Module, symbol string) (uintptr, error) {
	err := checkSymbolName(symbol)
	if err != nil {
		return 0, err
	}

	p := module.process

	fn, err := o.getProcAddress(p.bits)
	if err != nil {
		return 0, err
	}

	pm, err := memory.PointerMakerForBits(p.bits)
	if err != nil {
		return 0, fmt.Errorf("%w - %w", ErrSymbolResolution, err)
	}

	record, err := bstruct.Marshal(getProcAddressRecord{
		Fn:       bstruct.Ptr(fn),
		Module:   bstruct.Ptr(module.Handle),
		ProcName: append([]byte(symbol), 0),
	}, pm, nil)
	if err != nil {
		return 0, fmt.Errorf("%w - failed to encode record - %w", ErrSymbolResolution, err)
	}

	code := GetProcAddress64Code
	if p.bits == 32 {
		code = GetProcAddress32Code
	}

	var address uint64

	err = p.WithRegion(len(record), func(region *Region) error {
		err := region.Write(record)
		if err != nil {
			return err
		}

		ok, err := p.Execute(code, region.Address())
		if err != nil {
			return err
		}

		if ok == 0 {
			return fmt.Errorf("%w - GetProcAddress failed for %s!%s",
				ErrSymbolResolution, module.Name, symbol)
		}

		result := make([]byte, pm.Size())
		err = region.Read(result)
		if err != nil {
			return err
		}

		address, err = pm.Decode(result)
		return err
	})
	if err != nil {
		return 0, err
	}

	if address == 0 {
		return 0, fmt.Errorf("%w - %s!%s resolved to a null address",
			ErrSymbolResolution, module.Name, symbol)
	}

	if o.logger != nil {
		o.logger.Printf("resolved %s!%s to 0x%x in process %d", module.Name, symbol, address, p.pid)
	}

	return uintptr(address), nil
}

func (o *SymbolResolver) getProcAddress(targetBits int) (uintptr, error) {
	hostBits := o.platform.HostBits()

	switch {
	case hostBits == targetBits:
		fn, err := o.platform.LocalProcAddress("kernel32.dll", "GetProcAddress")
		if err != nil {
			return 0, fmt.Errorf("%w - %w", ErrSymbolResolution, err)
		}
		return fn, nil
	case hostBits == 64 && targetBits == 32:
		return o.getProcAddress32()
	default:
		return 0, fmt.Errorf("%w - cannot resolve symbols in a %d-bit process from a %d-bit process",
			ErrBitnessMismatch, targetBits, hostBits)
	}
}

func (o *SymbolResolver) getProcAddress32() (uintptr, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cached32 != 0 {
		return o.cached32, nil
	}

	fn, err := o.helper.GetProcAddress32()
	if err != nil {
		return 0, fmt.Errorf("%w - failed to find 32-bit GetProcAddress - %w", ErrSymbolResolution, err)
	}

	if fn == 0 {
		return 0, fmt.Errorf("%w - 32-bit GetProcAddress helper returned a null address", ErrSymbolResolution)
	}

	if o.logger != nil {
		o.logger.Printf("32-bit GetProcAddress is at 0x%x", fn)
	}

	o.cached32 = fn

	return fn, nil
}

func checkSymbolName(symbol string) error {
	if symbol == "" {
		return fmt.Errorf("%w - symbol name cannot be empty", ErrSymbolResolution)
	}

	for i := 0; i < len(symbol); i++ {
		if symbol[i] == 0 || symbol[i] > 0x7f {
			return fmt.Errorf("%w - symbol name %q must be non-null ascii", ErrSymbolResolution, symbol)
		}
	}

	return nil
}
