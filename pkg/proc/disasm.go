package proc

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"github.com/go-delve/kmon/pkg/mmu"
)

// AssemblyFlavour is the assembly syntax to display.
type AssemblyFlavour int

const (
	// IntelFlavour will display Intel assembly syntax.
	IntelFlavour = AssemblyFlavour(iota)
	// GNUFlavour will display GNU assembly syntax.
	GNUFlavour
	// GoFlavour will display Go assembly syntax.
	GoFlavour
)

// ParseAssemblyFlavour converts the name of an assembly syntax into an
// AssemblyFlavour.
func ParseAssemblyFlavour(s string) (AssemblyFlavour, error) {
	switch s {
	case "", "intel":
		return IntelFlavour, nil
	case "gnu", "att":
		return GNUFlavour, nil
	case "go":
		return GoFlavour, nil
	}
	return IntelFlavour, fmt.Errorf("unknown assembly flavour %q", s)
}

// maxDisassembly bounds the size of a single disassembly request.
const maxDisassembly = 64 * 1024

// AsmInstruction represents one assembly instruction.
type AsmInstruction struct {
	PC    uint32
	Bytes []byte
	Size  int

	inst *x86asm.Inst
}

// Text returns the instruction formatted with the given flavour. Call
// targets are resolved through symLookup.
func (instr *AsmInstruction) Text(flavour AssemblyFlavour, symLookup func(uint64) (string, uint64)) string {
	if instr.inst == nil {
		return "?"
	}
	pc := uint64(instr.PC)
	switch flavour {
	case GNUFlavour:
		return x86asm.GNUSyntax(*instr.inst, pc, symLookup)
	case GoFlavour:
		return x86asm.GoSyntax(*instr.inst, pc, symLookup)
	default:
		return x86asm.IntelSyntax(*instr.inst, pc, symLookup)
	}
}

// Disassemble decodes the 32bit instructions in the virtual address range
// [startVA, endVA).
func (t *Target) Disassemble(startVA, endVA uint32) ([]AsmInstruction, error) {
	if endVA <= startVA {
		return nil, fmt.Errorf("empty disassembly range 0x%08x-0x%08x", startVA, endVA)
	}
	if endVA-startVA > maxDisassembly {
		return nil, fmt.Errorf("disassembly range too large (max %d bytes)", maxDisassembly)
	}
	mem := make([]byte, endVA-startVA)
	if err := t.ReadVirtual(mem, mmu.VirtAddr(startVA)); err != nil {
		return nil, err
	}

	r := make([]AsmInstruction, 0, len(mem)/2)
	pc := startVA
	for len(mem) > 0 {
		instr := AsmInstruction{PC: pc}
		inst, err := x86asm.Decode(mem, 32)
		if err != nil {
			instr.Size = 1
		} else {
			instr.Size = inst.Len
			instr.inst = &inst
		}
		instr.Bytes = mem[:instr.Size]
		r = append(r, instr)
		pc += uint32(instr.Size)
		mem = mem[instr.Size:]
	}
	return r, nil
}

// SymLookup resolves addr to the name of the function that contains it
// and that function's entry point, for use with AsmInstruction.Text.
func (t *Target) SymLookup(addr uint64) (string, uint64) {
	sym, err := t.LookupPC(uint32(addr))
	if err != nil {
		return "", 0
	}
	return sym.Name(), uint64(sym.FnAddr)
}
