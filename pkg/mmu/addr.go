// Package mmu models the i386 two-level paging structures inspected by the
// kernel monitor: addresses, page table entries, the physical memory they
// live in and the walk primitive used to reach them.
package mmu

import "fmt"

// VirtAddr is a linear (virtual) address.
type VirtAddr uint32

// PhysAddr is a physical address.
type PhysAddr uint32

const (
	// WordSize is the size of a machine word in bytes.
	WordSize = 4

	// PageShift is log2(PageSize).
	PageShift = 12
	// PageSize is the size of a base page.
	PageSize = 1 << PageShift

	// SuperPageShift is log2(SuperPageSize).
	SuperPageShift = 22
	// SuperPageSize is the size of the region mapped by a single page
	// directory entry, either through a page table or as a superpage.
	SuperPageSize = 1 << SuperPageShift

	// NPDEntries is the number of entries in a page directory.
	NPDEntries = 1024
	// NPTEntries is the number of entries in a page table.
	NPTEntries = 1024
)

// PDX returns the page directory index of va.
func PDX(va VirtAddr) uint32 {
	return (uint32(va) >> SuperPageShift) & 0x3ff
}

// PTX returns the page table index of va.
func PTX(va VirtAddr) uint32 {
	return (uint32(va) >> PageShift) & 0x3ff
}

// PageOffset returns the offset of va inside its page.
func PageOffset(va VirtAddr) uint32 {
	return uint32(va) & (PageSize - 1)
}

// RoundDown rounds x down to a multiple of n, n must be a power of two.
func RoundDown(x, n uint32) uint32 {
	return x &^ (n - 1)
}

// RoundUp rounds x up to a multiple of n, n must be a power of two.
// The result wraps to 0 past the top of the address space.
func RoundUp(x, n uint32) uint32 {
	return (x + n - 1) &^ (n - 1)
}

func (va VirtAddr) String() string {
	return fmt.Sprintf("0x%08x", uint32(va))
}

func (pa PhysAddr) String() string {
	return fmt.Sprintf("0x%08x", uint32(pa))
}

// AddrRange is an inclusive range of addresses.
type AddrRange struct {
	Start, End uint32
}

// Normalize returns r with Start rounded down to a multiple of
// granularity and End moved to the last byte of the granule that
// contains it.
func (r AddrRange) Normalize(granularity uint32) AddrRange {
	return AddrRange{
		Start: RoundDown(r.Start, granularity),
		End:   RoundDown(r.End, granularity) + (granularity - 1),
	}
}

// Len returns the number of bytes in r.
func (r AddrRange) Len() uint64 {
	if r.End < r.Start {
		return 0
	}
	return uint64(r.End) - uint64(r.Start) + 1
}

// Advance returns the cursor that follows cur by step bytes, aligned down
// to step. The second return value is false if the cursor would move
// past r.End or wrap around the top of the address space.
func (r AddrRange) Advance(cur, step uint32) (uint32, bool) {
	next := RoundDown(cur, step) + step
	if next <= cur || next > r.End {
		return 0, false
	}
	return next, true
}
