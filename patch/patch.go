// Package patch overwrites the first bytes of a function in another
// process and puts them back.
//
// A patch moves through three states. Apply returns an *Applied,
// which can be restored once or discarded once. Restoring returns a
// *Restored, which can be applied again. Using a handle after it has
// moved on fails with ErrPatch.
package patch

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"gitlab.com/stephen-fox/gammahook/asmkit"
)

var ErrPatch = errors.New("patch error")

// State is the state of a patch site.
type State int

const (
	StateApplied State = iota
	StateRestored
	StateDiscarded
)

func (o State) String() string {
	switch o {
	case StateApplied:
		return "applied"
	case StateRestored:
		return "restored"
	case StateDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Memory reads and writes the target's memory. WriteCode must
// flush the instruction cache for the written range.
type Memory interface {
	ReadMemory(address uintptr, p []byte) (int, error)
	WriteCode(address uintptr, p []byte) (int, error)
}

// Record describes a patch site: the bytes that were there and the
// bytes that replace them.
type Record struct {
	Address     uintptr
	Original    []byte
	Replacement []byte
}

func (o Record) clone() Record {
	return Record{
		Address:     o.Address,
		Original:    append([]byte(nil), o.Original...),
		Replacement: append([]byte(nil), o.Replacement...),
	}
}

func (o Record) validate() error {
	if len(o.Replacement) == 0 {
		return fmt.Errorf("%w - replacement cannot be empty", ErrPatch)
	}

	if len(o.Original) != len(o.Replacement) {
		return fmt.Errorf("%w - original is %d bytes but replacement is %d bytes",
			ErrPatch, len(o.Original), len(o.Replacement))
	}

	return nil
}

// Apply saves the bytes at address and overwrites them with
// replacement.
func Apply(mem Memory, address uintptr, replacement []byte) (*Applied, error) {
	if len(replacement) == 0 {
		return nil, fmt.Errorf("%w - replacement cannot be empty", ErrPatch)
	}

	original := make([]byte, len(replacement))
	_, err := mem.ReadMemory(address, original)
	if err != nil {
		return nil, fmt.Errorf("%w - failed to read original bytes at 0x%x - %w", ErrPatch, address, err)
	}

	if bytes.Equal(original, replacement) {
		return nil, fmt.Errorf("%w - 0x%x already holds the replacement bytes", ErrPatch, address)
	}

	record := Record{
		Address:     address,
		Original:    original,
		Replacement: append([]byte(nil), replacement...),
	}

	return apply(mem, record)
}

func apply(mem Memory, record Record) (*Applied, error) {
	_, err := mem.WriteCode(record.Address, record.Replacement)
	if err != nil {
		return nil, fmt.Errorf("%w - failed to write replacement at 0x%x - %w", ErrPatch, record.Address, err)
	}

	return &Applied{
		mem:    mem,
		record: record,
		state:  StateApplied,
	}, nil
}

// Resume returns an Applied for a record that was applied earlier,
// possibly by another program. Memory is not touched.
func Resume(mem Memory, record Record) (*Applied, error) {
	err := record.validate()
	if err != nil {
		return nil, err
	}

	return &Applied{
		mem:    mem,
		record: record.clone(),
		state:  StateApplied,
	}, nil
}

// Applied is a patch that is in place.
type Applied struct {
	mem    Memory
	record Record
	state  State
}

// Record returns a copy of the patch record.
func (o *Applied) Record() Record {
	return o.record.clone()
}

func (o *Applied) State() State {
	return o.state
}

// Verify reports whether the site still holds the replacement bytes.
func (o *Applied) Verify() (bool, error) {
	current := make([]byte, len(o.record.Replacement))
	_, err := o.mem.ReadMemory(o.record.Address, current)
	if err != nil {
		return false, fmt.Errorf("%w - failed to read patch site 0x%x - %w", ErrPatch, o.record.Address, err)
	}

	return bytes.Equal(current, o.record.Replacement), nil
}

// Restore writes the original bytes back. It fails with ErrPatch,
// leaving memory untouched, if the site no longer holds the
// replacement bytes.
func (o *Applied) Restore() (*Restored, error) {
	if o.state != StateApplied {
		return nil, fmt.Errorf("%w - cannot restore a %s patch at 0x%x", ErrPatch, o.state, o.record.Address)
	}

	intact, err := o.Verify()
	if err != nil {
		return nil, err
	}

	if !intact {
		return nil, fmt.Errorf("%w - patch site 0x%x was modified by someone else", ErrPatch, o.record.Address)
	}

	_, err = o.mem.WriteCode(o.record.Address, o.record.Original)
	if err != nil {
		return nil, fmt.Errorf("%w - failed to restore original bytes at 0x%x - %w",
			ErrPatch, o.record.Address, err)
	}

	o.state = StateRestored

	return &Restored{
		mem:    o.mem,
		record: o.record.clone(),
	}, nil
}

// Discard forgets the patch without touching memory. It is used when
// the target has exited.
func (o *Applied) Discard() (Record, error) {
	if o.state != StateApplied {
		return Record{}, fmt.Errorf("%w - cannot discard a %s patch at 0x%x", ErrPatch, o.state, o.record.Address)
	}

	o.state = StateDiscarded

	return o.record.clone(), nil
}

// Restored is a patch whose original bytes are back in place.
type Restored struct {
	mem       Memory
	record    Record
	reapplied bool
}

func (o *Restored) Record() Record {
	return o.record.clone()
}

func (o *Restored) State() State {
	if o.reapplied {
		return StateApplied
	}
	return StateRestored
}

// Reapply writes the replacement bytes again. It fails with ErrPatch
// if the site no longer holds the original bytes.
func (o *Restored) Reapply() (*Applied, error) {
	if o.reapplied {
		return nil, fmt.Errorf("%w - patch at 0x%x was already reapplied", ErrPatch, o.record.Address)
	}

	current := make([]byte, len(o.record.Original))
	_, err := o.mem.ReadMemory(o.record.Address, current)
	if err != nil {
		return nil, fmt.Errorf("%w - failed to read patch site 0x%x - %w", ErrPatch, o.record.Address, err)
	}

	if !bytes.Equal(current, o.record.Original) {
		return nil, fmt.Errorf("%w - patch site 0x%x was modified by someone else", ErrPatch, o.record.Address)
	}

	applied, err := apply(o.mem, o.record.clone())
	if err != nil {
		return nil, err
	}

	o.reapplied = true

	return applied, nil
}

// JumpTo returns an absolute jump to target for a process with the
// given pointer width.
//
// 64 bit:
//
//	mov rax, target  ; 48 b8 <imm64>
//	jmp rax          ; ff e0
//
// 32 bit:
//
//	mov eax, target  ; b8 <imm32>
//	jmp eax          ; ff e0
func JumpTo(bits int, target uintptr) ([]byte, error) {
	switch bits {
	case 64:
		b := []byte{0x48, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0xff, 0xe0}
		binary.LittleEndian.PutUint64(b[2:], uint64(target))
		return b, nil
	case 32:
		if uint64(target)>>32 != 0 {
			return nil, fmt.Errorf("%w - target 0x%x does not fit in 32 bits", ErrPatch, target)
		}
		b := []byte{0xb8, 0, 0, 0, 0, 0xff, 0xe0}
		binary.LittleEndian.PutUint32(b[1:], uint32(target))
		return b, nil
	default:
		return nil, fmt.Errorf("%w - unsupported bits: %d", ErrPatch, bits)
	}
}

// JumpBoundary returns the length of the whole instructions at the
// start of code that a jump from JumpTo would overwrite. It is larger
// than the jump when the jump ends inside an instruction.
func JumpBoundary(bits int, code []byte) (jumpLen int, covered int, err error) {
	jump, err := JumpTo(bits, 0)
	if err != nil {
		return 0, 0, err
	}

	d, err := asmkit.NewDisassembler(asmkit.DisassemblerConfig{
		Bits: bits,
	})
	if err != nil {
		return 0, 0, err
	}

	covered, err = d.Boundary(code, len(jump))
	if err != nil {
		return 0, 0, fmt.Errorf("%w - failed to find instruction boundary for a %d byte jump - %w",
			ErrPatch, len(jump), err)
	}

	return len(jump), covered, nil
}

// Describe disassembles the original and replacement bytes of a
// record.
func Describe(record Record, bits int) (string, error) {
	d, err := asmkit.NewDisassembler(asmkit.DisassemblerConfig{
		Syntax:         asmkit.IntelSyntax,
		Bits:           bits,
		OptBaseAddress: uint64(record.Address),
	})
	if err != nil {
		return "", err
	}

	var sb strings.Builder

	for _, part := range []struct {
		name string
		code []byte
	}{
		{name: "original", code: record.Original},
		{name: "replacement", code: record.Replacement},
	} {
		sb.WriteString(part.name)
		sb.WriteString(":\n")

		describeCode(&sb, d, part.code)
	}

	return sb.String(), nil
}

// describeCode writes one line per instruction. Trailing bytes that
// do not form a whole instruction are written as data.
func describeCode(sb *strings.Builder, d *asmkit.Disassembler, code []byte) {
	insts, rest := d.Prefix(code)

	for _, inst := range insts {
		fmt.Fprintf(sb, "  %-24x %s\n", inst.Bin, inst.Dis)
	}

	if len(rest) > 0 {
		fmt.Fprintf(sb, "  %-24x (data)\n", rest)
	}
}
