package proc

import (
	"fmt"
	"io"
)

// Registers holds the registers the monitor needs to inspect the kernel.
type Registers struct {
	EIP uint32 `yaml:"eip"`
	ESP uint32 `yaml:"esp"`
	EBP uint32 `yaml:"ebp"`
}

// PushRegs is the register block saved by pushal.
type PushRegs struct {
	EDI  uint32 `yaml:"edi"`
	ESI  uint32 `yaml:"esi"`
	EBP  uint32 `yaml:"ebp"`
	OESP uint32 `yaml:"oesp"` // useless
	EBX  uint32 `yaml:"ebx"`
	EDX  uint32 `yaml:"edx"`
	ECX  uint32 `yaml:"ecx"`
	EAX  uint32 `yaml:"eax"`
}

// Trapframe is the machine state saved when the kernel was entered.
type Trapframe struct {
	Regs   PushRegs `yaml:"regs"`
	ES     uint16   `yaml:"es"`
	DS     uint16   `yaml:"ds"`
	TrapNo uint32   `yaml:"trapno"`
	Err    uint32   `yaml:"err"`
	EIP    uint32   `yaml:"eip"`
	CS     uint16   `yaml:"cs"`
	EFlags uint32   `yaml:"eflags"`
	ESP    uint32   `yaml:"esp"`
	SS     uint16   `yaml:"ss"`
}

var trapNames = []string{
	"Divide error",
	"Debug",
	"Non-Maskable Interrupt",
	"Breakpoint",
	"Overflow",
	"BOUND Range Exceeded",
	"Invalid Opcode",
	"Device Not Available",
	"Double Fault",
	"Coprocessor Segment Overrun",
	"Invalid TSS",
	"Segment Not Present",
	"Stack Fault",
	"General Protection",
	"Page Fault",
	"(unknown trap)",
	"x87 FPU Floating-Point Error",
	"Alignment Check",
	"Machine-Check",
	"SIMD Floating-Point Exception",
}

// TrapName returns a description of trap number trapno.
func TrapName(trapno uint32) string {
	if int(trapno) < len(trapNames) {
		return trapNames[trapno]
	}
	if trapno == 48 {
		return "System call"
	}
	return "(unknown trap)"
}

// Print writes the trap frame to w.
func (tf *Trapframe) Print(w io.Writer) {
	fmt.Fprintf(w, "TRAP frame\n")
	fmt.Fprintf(w, "  edi  0x%08x\n", tf.Regs.EDI)
	fmt.Fprintf(w, "  esi  0x%08x\n", tf.Regs.ESI)
	fmt.Fprintf(w, "  ebp  0x%08x\n", tf.Regs.EBP)
	fmt.Fprintf(w, "  oesp 0x%08x\n", tf.Regs.OESP)
	fmt.Fprintf(w, "  ebx  0x%08x\n", tf.Regs.EBX)
	fmt.Fprintf(w, "  edx  0x%08x\n", tf.Regs.EDX)
	fmt.Fprintf(w, "  ecx  0x%08x\n", tf.Regs.ECX)
	fmt.Fprintf(w, "  eax  0x%08x\n", tf.Regs.EAX)
	fmt.Fprintf(w, "  es   0x----%04x\n", tf.ES)
	fmt.Fprintf(w, "  ds   0x----%04x\n", tf.DS)
	fmt.Fprintf(w, "  trap 0x%08x %s\n", tf.TrapNo, TrapName(tf.TrapNo))
	fmt.Fprintf(w, "  err  0x%08x\n", tf.Err)
	fmt.Fprintf(w, "  eip  0x%08x\n", tf.EIP)
	fmt.Fprintf(w, "  cs   0x----%04x\n", tf.CS)
	fmt.Fprintf(w, "  flag 0x%08x\n", tf.EFlags)
	if tf.CS&3 != 0 {
		fmt.Fprintf(w, "  esp  0x%08x\n", tf.ESP)
		fmt.Fprintf(w, "  ss   0x----%04x\n", tf.SS)
	}
}
