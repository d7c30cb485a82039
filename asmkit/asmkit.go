// Package asmkit disassembles x86 machine code, such as the prologue
// of a function that is about to be patched.
package asmkit

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

const (
	SkipSyntax  DisassemblySyntax = ""
	ATTSyntax   DisassemblySyntax = "att"
	GoSyntax    DisassemblySyntax = "go"
	IntelSyntax DisassemblySyntax = "intel"
)

type DisassemblySyntax string

type DisassemblerConfig struct {
	Syntax DisassemblySyntax
	Bits   int

	// OptBaseAddress is the address of the first instruction. It is
	// used to render relative branch targets as absolute addresses.
	OptBaseAddress uint64
}

func NewDisassembler(config DisassemblerConfig) (*Disassembler, error) {
	switch config.Bits {
	case 16, 32, 64:
	default:
		return nil, fmt.Errorf("unsupported x86 mode: %d bits", config.Bits)
	}

	var disassemblyFn func(inst x86asm.Inst, pc uint64) string
	switch config.Syntax {
	case SkipSyntax:
		// Do nothing.
	case ATTSyntax:
		disassemblyFn = func(inst x86asm.Inst, pc uint64) string {
			return x86asm.GNUSyntax(inst, pc, nil)
		}
	case GoSyntax:
		disassemblyFn = func(inst x86asm.Inst, pc uint64) string {
			return x86asm.GoSyntax(inst, pc, nil)
		}
	case IntelSyntax:
		disassemblyFn = func(inst x86asm.Inst, pc uint64) string {
			return x86asm.IntelSyntax(inst, pc, nil)
		}
	default:
		return nil, fmt.Errorf("unsupported syntax type for x86: %q", config.Syntax)
	}

	return &Disassembler{
		bits:     config.Bits,
		base:     config.OptBaseAddress,
		disassFn: disassemblyFn,
	}, nil
}

type Disassembler struct {
	bits     int
	base     uint64
	disassFn func(inst x86asm.Inst, pc uint64) string
}

// All decodes every instruction in rawInstructions, calling onDecodeFn
// for each one in order.
func (o *Disassembler) All(rawInstructions []byte, onDecodeFn func(Inst) error) error {
	index := 0

	for index < len(rawInstructions) {
		inst, err := o.decode(rawInstructions[index:], index)
		if err != nil {
			return fmt.Errorf("failed to decode instruction at offset %d - %w - remaining data: 0x%x",
				index, err, rawInstructions[index:])
		}

		err = onDecodeFn(inst)
		if err != nil {
			return fmt.Errorf("on decode function failed for instruction at offset %d (%q) - %w",
				index, inst.Dis, err)
		}

		index += inst.Len
	}

	return nil
}

// Slice decodes rawInstructions into a slice.
func (o *Disassembler) Slice(rawInstructions []byte) ([]Inst, error) {
	var insts []Inst

	err := o.All(rawInstructions, func(inst Inst) error {
		insts = append(insts, inst)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return insts, nil
}

// Prefix decodes instructions from the start of rawInstructions until
// it reaches bytes that do not decode. Those bytes are returned as
// rest. Code read from memory usually ends part way through an
// instruction.
func (o *Disassembler) Prefix(rawInstructions []byte) (insts []Inst, rest []byte) {
	index := 0

	for index < len(rawInstructions) {
		inst, err := o.decode(rawInstructions[index:], index)
		if err != nil {
			break
		}

		insts = append(insts, inst)
		index += inst.Len
	}

	return insts, rawInstructions[index:]
}

// Next decodes the first instruction in rawInstructions.
func (o *Disassembler) Next(rawInstructions []byte) (Inst, error) {
	return o.decode(rawInstructions, 0)
}

// Boundary returns the smallest whole-instruction length that covers
// at least n bytes of rawInstructions.
func (o *Disassembler) Boundary(rawInstructions []byte, n int) (int, error) {
	index := 0

	for index < n {
		if index >= len(rawInstructions) {
			return 0, fmt.Errorf("ran out of data after %d bytes while looking for a %d byte boundary",
				index, n)
		}

		inst, err := o.decode(rawInstructions[index:], index)
		if err != nil {
			return 0, fmt.Errorf("failed to decode instruction at offset %d - %w", index, err)
		}

		index += inst.Len
	}

	return index, nil
}

func (o *Disassembler) decode(remainingInsts []byte, index int) (Inst, error) {
	x86Inst, err := x86asm.Decode(remainingInsts, o.bits)
	if err != nil {
		return Inst{}, err
	}

	// A cut-off instruction decodes as a lone prefix.
	if x86Inst.Op == 0 {
		return Inst{}, fmt.Errorf("incomplete instruction: 0x%x",
			copySlice(remainingInsts, x86Inst.Len))
	}

	pc := o.base + uint64(index)

	var disassembly string
	if o.disassFn != nil {
		disassembly = o.disassFn(x86Inst, pc)
	}

	return Inst{
		Bin:     copySlice(remainingInsts, x86Inst.Len),
		Len:     x86Inst.Len,
		Index:   index,
		Address: pc,
		Dis:     disassembly,
		Op:      x86Inst.Op.String(),
	}, nil
}

func copySlice(src []byte, numBytes int) []byte {
	cp := make([]byte, numBytes)

	copy(cp, src[0:numBytes])

	return cp
}

type Inst struct {
	Bin     []byte `json:"bin"`
	Len     int    `json:"len"`
	Index   int    `json:"index"`
	Address uint64 `json:"address"`
	Dis     string `json:"dis"`
	Op      string `json:"op"`
}
