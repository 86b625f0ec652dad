package proc

import (
	"encoding/binary"

	"github.com/go-delve/kmon/pkg/logflags"
	"github.com/go-delve/kmon/pkg/mmu"
	"github.com/go-delve/kmon/pkg/symtab"
)

// NumStackArgs is the number of argument words reported for each frame.
const NumStackArgs = 5

// frameWords is the number of words read from each frame: the saved frame
// pointer, the return address and the arguments.
const frameWords = 2 + NumStackArgs

// Stackframe represents a frame in a call stack.
type Stackframe struct {
	// FramePointer is the value of ebp inside the frame.
	FramePointer uint32
	// ReturnAddress is the saved eip, which points into the caller.
	ReturnAddress uint32
	// Args are the first words above the return address.
	Args [NumStackArgs]uint32
	// Symbol describes the function containing ReturnAddress.
	Symbol symtab.DebugSymbol
}

// Offset returns the distance of the return address from the start of
// its function.
func (frame *Stackframe) Offset() uint32 {
	return frame.ReturnAddress - frame.Symbol.FnAddr
}

// Stack walks the chain of saved frame pointers starting at the current
// value of ebp and calls fn for every frame, innermost first. The walk
// ends when the saved frame pointer is zero, when fn returns an error or
// when a frame can not be read.
func (t *Target) Stack(fn func(frame *Stackframe) error) error {
	var buf [frameWords * mmu.WordSize]byte
	ebp := t.regs.EBP
	for ebp != 0 {
		if err := t.ReadVirtual(buf[:], mmu.VirtAddr(ebp)); err != nil {
			logflags.TargetLogger().Debugf("stack walk stopped at ebp 0x%08x: %v", ebp, err)
			return err
		}
		frame := Stackframe{
			FramePointer:  ebp,
			ReturnAddress: binary.LittleEndian.Uint32(buf[4:]),
		}
		for i := range frame.Args {
			frame.Args[i] = binary.LittleEndian.Uint32(buf[(2+i)*mmu.WordSize:])
		}
		// unresolved return addresses are reported with an unknown symbol
		frame.Symbol, _ = t.LookupPC(frame.ReturnAddress)
		if err := fn(&frame); err != nil {
			return err
		}
		ebp = binary.LittleEndian.Uint32(buf[0:])
	}
	return nil
}

// CallFrame describes a frame for PushCallStack.
type CallFrame struct {
	Return uint32   `yaml:"return"`
	Args   []uint32 `yaml:"args,flow"`
}

// callFrameSize is the space reserved on the stack for each frame pushed
// by PushCallStack.
const callFrameSize = 8 * mmu.WordSize

// PushCallStack lays out frames below the stack top, innermost frame
// first, linking them through their saved frame pointers the way the
// i386 calling convention does. The outermost frame saves a zero frame
// pointer. The ebp and esp registers are updated to point at the
// innermost frame.
func (t *Target) PushCallStack(top mmu.VirtAddr, frames []CallFrame) error {
	if len(frames) == 0 {
		return nil
	}
	base := uint32(top) - uint32(len(frames))*callFrameSize
	for i, fr := range frames {
		ebp := base + uint32(i)*callFrameSize
		var saved uint32
		if i+1 < len(frames) {
			saved = ebp + callFrameSize
		}
		buf := make([]byte, frameWords*mmu.WordSize)
		binary.LittleEndian.PutUint32(buf[0:], saved)
		binary.LittleEndian.PutUint32(buf[4:], fr.Return)
		for j, arg := range fr.Args {
			if j >= NumStackArgs {
				break
			}
			binary.LittleEndian.PutUint32(buf[(2+j)*mmu.WordSize:], arg)
		}
		if err := t.WriteVirtual(mmu.VirtAddr(ebp), buf); err != nil {
			return err
		}
	}
	t.regs.EBP = base
	t.regs.ESP = base
	return nil
}
