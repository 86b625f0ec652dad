// Package proc implements the machine inspected by the kernel monitor:
// physical memory, the active page directory, the saved registers and
// the kernel's symbol table.
package proc

import (
	"errors"
	"fmt"

	"github.com/go-delve/kmon/pkg/logflags"
	"github.com/go-delve/kmon/pkg/mmu"
	"github.com/go-delve/kmon/pkg/symtab"
)

// DefaultKernBase is the virtual address at which physical memory is
// mapped in the kernel's address space.
const DefaultKernBase = 0xf0000000

// maxPages keeps npages*PageSize inside a 32bit physical address space.
const maxPages = 1<<20 - 1

// ErrOutOfMemory is returned when the frame allocator is exhausted.
var ErrOutOfMemory = errors.New("out of physical memory")

// KernelLayout holds the addresses of the linker symbols that delimit the
// kernel image.
type KernelLayout struct {
	Start uint32 `yaml:"_start"` // physical
	Entry uint32 `yaml:"entry"`
	Etext uint32 `yaml:"etext"`
	Edata uint32 `yaml:"edata"`
	End   uint32 `yaml:"end"`
}

// Config describes a Target.
type Config struct {
	NPages   uint32
	KernBase uint32 // DefaultKernBase when zero
	// PageDir is the physical address of the page directory, a fresh one
	// is allocated when it is zero.
	PageDir mmu.PhysAddr
	// AllocBase is the first frame handed out by the frame allocator.
	// When zero it defaults to the first page after the kernel image, or
	// to the second physical page if the layout is unknown.
	AllocBase mmu.PhysAddr
	Layout    KernelLayout
	Symbols   symtab.Resolver
}

// Target is an emulated i386 machine stopped inside the kernel.
type Target struct {
	mem      *mmu.PhysMem
	pgdir    *mmu.PageDirectory
	npages   uint32
	kernBase uint32
	layout   KernelLayout
	symbols  symtab.Resolver

	regs      Registers
	trapframe *Trapframe

	nextFree mmu.PhysAddr
}

// New returns a target with zeroed physical memory and an empty page
// directory.
func New(cfg Config) (*Target, error) {
	if cfg.NPages == 0 || cfg.NPages > maxPages {
		return nil, fmt.Errorf("invalid number of physical pages %d", cfg.NPages)
	}
	t := &Target{
		mem:      mmu.NewPhysMem(cfg.NPages * mmu.PageSize),
		npages:   cfg.NPages,
		kernBase: cfg.KernBase,
		layout:   cfg.Layout,
		symbols:  cfg.Symbols,
	}
	if t.kernBase == 0 {
		t.kernBase = DefaultKernBase
	}
	if t.symbols == nil {
		t.symbols = symtab.NewTable(nil, nil, nil)
	}

	t.nextFree = cfg.AllocBase
	if t.nextFree == 0 {
		t.nextFree = mmu.PageSize
		if t.layout.End > t.kernBase {
			t.nextFree = mmu.PhysAddr(mmu.RoundUp(t.layout.End-t.kernBase, mmu.PageSize))
		}
	}
	t.nextFree = mmu.PhysAddr(mmu.RoundUp(uint32(t.nextFree), mmu.PageSize))

	t.pgdir = &mmu.PageDirectory{Mem: t.mem, Base: cfg.PageDir, Alloc: t}
	if cfg.PageDir == 0 {
		pa, err := t.AllocFrame()
		if err != nil {
			return nil, err
		}
		t.pgdir.Base = pa
	}

	logflags.TargetLogger().Debugf("new target: %d pages, pgdir at %v, allocating from %v", t.npages, t.pgdir.Base, t.nextFree)
	return t, nil
}

// AllocFrame returns a zeroed physical frame.
func (t *Target) AllocFrame() (mmu.PhysAddr, error) {
	if uint64(t.nextFree)+mmu.PageSize > t.PhysSize() {
		return 0, ErrOutOfMemory
	}
	pa := t.nextFree
	t.nextFree += mmu.PageSize
	if _, err := t.mem.WriteMemory(pa, make([]byte, mmu.PageSize)); err != nil {
		return 0, err
	}
	return pa, nil
}

// PageDirectory returns the active page directory.
func (t *Target) PageDirectory() *mmu.PageDirectory {
	return t.pgdir
}

// Memory returns physical memory.
func (t *Target) Memory() mmu.MemoryReadWriter {
	return t.mem
}

// PhysSize returns the amount of physical memory in bytes.
func (t *Target) PhysSize() uint64 {
	return uint64(t.npages) * mmu.PageSize
}

// Layout returns the kernel image layout.
func (t *Target) Layout() KernelLayout {
	return t.layout
}

// SetRegisters changes the current register values.
func (t *Target) SetRegisters(regs Registers) {
	t.regs = regs
}

// Trapframe returns the trap frame saved when the kernel was entered, or
// nil if the monitor was not entered through a trap.
func (t *Target) Trapframe() *Trapframe {
	return t.trapframe
}

// SetTrapframe sets the trap frame.
func (t *Target) SetTrapframe(tf *Trapframe) {
	t.trapframe = tf
}

// KAddr returns the kernel virtual address of pa.
func (t *Target) KAddr(pa mmu.PhysAddr) (mmu.VirtAddr, error) {
	if uint64(pa)/mmu.PageSize >= uint64(t.npages) {
		return 0, fmt.Errorf("KADDR called with invalid pa %v", pa)
	}
	return mmu.VirtAddr(uint32(pa) + t.kernBase), nil
}

// PAddr returns the physical address of the kernel virtual address va.
func (t *Target) PAddr(va mmu.VirtAddr) (mmu.PhysAddr, error) {
	if uint32(va) < t.kernBase {
		return 0, fmt.Errorf("PADDR called with invalid kva %v", va)
	}
	return mmu.PhysAddr(uint32(va) - t.kernBase), nil
}

// ReadPhysical reads len(buf) bytes of physical memory starting at pa.
func (t *Target) ReadPhysical(buf []byte, pa mmu.PhysAddr) error {
	_, err := t.mem.ReadMemory(buf, pa)
	return err
}

// ReadVirtual reads len(buf) bytes starting at va through the active page
// directory.
func (t *Target) ReadVirtual(buf []byte, va mmu.VirtAddr) error {
	return t.accessVirtual(buf, va, func(pa mmu.PhysAddr, chunk []byte) error {
		_, err := t.mem.ReadMemory(chunk, pa)
		return err
	})
}

// WriteVirtual writes data starting at va through the active page directory.
func (t *Target) WriteVirtual(va mmu.VirtAddr, data []byte) error {
	return t.accessVirtual(data, va, func(pa mmu.PhysAddr, chunk []byte) error {
		_, err := t.mem.WriteMemory(pa, chunk)
		return err
	})
}

func (t *Target) accessVirtual(buf []byte, va mmu.VirtAddr, fn func(mmu.PhysAddr, []byte) error) error {
	for len(buf) > 0 {
		pa, err := t.pgdir.Translate(va)
		if err != nil {
			return err
		}
		n := mmu.PageSize - int(mmu.PageOffset(va))
		if n > len(buf) {
			n = len(buf)
		}
		if err := fn(pa, buf[:n]); err != nil {
			return err
		}
		buf = buf[n:]
		va += mmu.VirtAddr(n)
	}
	return nil
}

// LookupPC resolves pc with the kernel symbol table.
func (t *Target) LookupPC(pc uint32) (symtab.DebugSymbol, error) {
	return t.symbols.LookupPC(pc)
}
