package mmu

import (
	"errors"
	"fmt"

	"github.com/go-delve/kmon/pkg/logflags"
)

// ErrNotMapped is returned when a virtual address has no present mapping.
var ErrNotMapped = errors.New("virtual address not mapped")

// EntryRef designates one slot of a page directory or page table.
type EntryRef struct {
	Table PhysAddr // physical address of the directory or table
	Index uint32
}

// Addr returns the physical address of the slot.
func (r EntryRef) Addr() PhysAddr {
	return r.Table + PhysAddr(r.Index*WordSize)
}

// Load reads the entry.
func (r EntryRef) Load(mem MemoryReader) (Entry, error) {
	v, err := ReadWord(mem, r.Addr())
	return Entry(v), err
}

// Store overwrites the entry.
func (r EntryRef) Store(mem MemoryReadWriter, e Entry) error {
	return WriteWord(mem, r.Addr(), uint32(e))
}

// WalkKind says what a walk found.
type WalkKind uint8

const (
	// NoEntry means no leaf entry covers the address.
	NoEntry WalkKind = iota
	// SuperPage means the directory entry is itself the leaf.
	SuperPage
	// TableLeaf means the leaf is a page table entry.
	TableLeaf
)

func (k WalkKind) String() string {
	switch k {
	case SuperPage:
		return "superpage"
	case TableLeaf:
		return "table leaf"
	default:
		return "no entry"
	}
}

// WalkResult is the outcome of PageDirectory.Walk. Dir is always valid,
// Leaf only when Kind is TableLeaf.
type WalkResult struct {
	Kind WalkKind
	Dir  EntryRef
	Leaf EntryRef
}

// PageDirectory is a two-level page table rooted at Base.
type PageDirectory struct {
	Mem   MemoryReadWriter
	Base  PhysAddr
	Alloc FrameAllocator // only needed when creating tables
}

// Walk finds the entries that map va.
//
// Without create, a directory entry that is not present or a page table
// slot that was never written (all zero) produce NoEntry. With create, a
// missing page table is allocated and the, possibly empty, leaf slot is
// returned.
func (pd *PageDirectory) Walk(va VirtAddr, create bool) (WalkResult, error) {
	logger := logflags.MMULogger()

	r := WalkResult{Dir: EntryRef{Table: pd.Base, Index: PDX(va)}}
	pde, err := r.Dir.Load(pd.Mem)
	if err != nil {
		return r, err
	}

	if pde.Present() && pde.SuperPage() {
		r.Kind = SuperPage
		logger.Debugf("walk %v: superpage pde=%#08x", va, uint32(pde))
		return r, nil
	}

	if !pde.Present() {
		if !create {
			logger.Debugf("walk %v: no page table", va)
			return r, nil
		}
		if pd.Alloc == nil {
			return r, errors.New("page table allocation requested without a frame allocator")
		}
		pt, err := pd.Alloc.AllocFrame()
		if err != nil {
			return r, fmt.Errorf("could not allocate page table for %v: %w", va, err)
		}
		// Permissions are enforced at the leaf, the directory entry stays permissive.
		pde = MakeEntry(pt, FlagPresent|FlagWritable|FlagUser)
		if err := r.Dir.Store(pd.Mem, pde); err != nil {
			return r, err
		}
		logger.Debugf("walk %v: allocated page table at %v", va, pt)
	}

	r.Leaf = EntryRef{Table: pde.Frame(), Index: PTX(va)}
	if !create {
		pte, err := r.Leaf.Load(pd.Mem)
		if err != nil {
			return r, err
		}
		if pte == 0 {
			r.Leaf = EntryRef{}
			return r, nil
		}
	}
	r.Kind = TableLeaf
	return r, nil
}

// Map maps the size bytes starting at va to pa using base pages.
func (pd *PageDirectory) Map(va VirtAddr, pa PhysAddr, size uint32, perm Flag) error {
	if PageOffset(va) != 0 || uint32(pa)%PageSize != 0 {
		return fmt.Errorf("unaligned mapping %v -> %v", va, pa)
	}
	for off := uint32(0); off < size; off += PageSize {
		r, err := pd.Walk(va+VirtAddr(off), true)
		if err != nil {
			return err
		}
		if r.Kind != TableLeaf {
			return fmt.Errorf("%v is already mapped by a superpage", va+VirtAddr(off))
		}
		if err := r.Leaf.Store(pd.Mem, MakeEntry(pa+PhysAddr(off), perm|FlagPresent)); err != nil {
			return err
		}
		if off+PageSize < off {
			break
		}
	}
	return nil
}

// MapSuper maps the size bytes starting at va to pa using superpages.
func (pd *PageDirectory) MapSuper(va VirtAddr, pa PhysAddr, size uint32, perm Flag) error {
	if uint32(va)%SuperPageSize != 0 || uint32(pa)%SuperPageSize != 0 {
		return fmt.Errorf("unaligned superpage mapping %v -> %v", va, pa)
	}
	for off := uint32(0); off < size; off += SuperPageSize {
		dir := EntryRef{Table: pd.Base, Index: PDX(va + VirtAddr(off))}
		if err := dir.Store(pd.Mem, MakeEntry(pa+PhysAddr(off), perm|FlagPresent|FlagSuperPage)); err != nil {
			return err
		}
		if off+SuperPageSize < off {
			break
		}
	}
	return nil
}

// Translate returns the physical address va is mapped to. Only present
// entries are followed.
func (pd *PageDirectory) Translate(va VirtAddr) (PhysAddr, error) {
	r, err := pd.Walk(va, false)
	if err != nil {
		return 0, err
	}
	switch r.Kind {
	case SuperPage:
		pde, err := r.Dir.Load(pd.Mem)
		if err != nil {
			return 0, err
		}
		return pde.Frame() + PhysAddr(uint32(va)&(SuperPageSize-1)), nil
	case TableLeaf:
		pte, err := r.Leaf.Load(pd.Mem)
		if err != nil {
			return 0, err
		}
		if !pte.Present() {
			return 0, fmt.Errorf("%w: %v (not present)", ErrNotMapped, va)
		}
		return pte.Frame() + PhysAddr(PageOffset(va)), nil
	}
	return 0, fmt.Errorf("%w: %v", ErrNotMapped, va)
}
