package mmu

// Flag is a bit of the low-order flag field of a page directory or page
// table entry.
type Flag uint32

const (
	FlagPresent      Flag = 0x001 // P
	FlagWritable     Flag = 0x002 // W
	FlagUser         Flag = 0x004 // U
	FlagWriteThrough Flag = 0x008 // PWT
	FlagCacheDisable Flag = 0x010 // PCD
	FlagAccessed     Flag = 0x020 // A
	FlagDirty        Flag = 0x040 // D
	FlagSuperPage    Flag = 0x080 // PS, page directory entries only
	FlagGlobal       Flag = 0x100 // G
	FlagAvail        Flag = 0xe00 // available for software use

	// FlagMask covers every flag bit of an entry.
	FlagMask Flag = 0xfff
)

const frameMask = ^uint32(FlagMask)

// Entry is a page directory or page table entry: a page aligned physical
// frame address in the high bits and flags in the low bits.
type Entry uint32

// MakeEntry returns an entry pointing to frame pa with the given flags.
func MakeEntry(pa PhysAddr, flags Flag) Entry {
	return Entry((uint32(pa) & frameMask) | uint32(flags&FlagMask))
}

// Frame returns the physical frame address encoded in e.
func (e Entry) Frame() PhysAddr {
	return PhysAddr(uint32(e) & frameMask)
}

// Flags returns the flag bits of e.
func (e Entry) Flags() Flag {
	return Flag(e) & FlagMask
}

// HasFlags returns true if all of flags are set in e.
func (e Entry) HasFlags(flags Flag) bool {
	return e.Flags()&flags == flags
}

// Present returns true if the present bit is set.
func (e Entry) Present() bool {
	return e.HasFlags(FlagPresent)
}

// SuperPage returns true if e is a page directory entry that maps a
// superpage directly.
func (e Entry) SuperPage() bool {
	return e.HasFlags(FlagSuperPage)
}

// WithFlags returns e with its flag bits replaced by flags. The frame
// address is left untouched.
func (e Entry) WithFlags(flags Flag) Entry {
	return Entry(uint32(e)&frameMask | uint32(flags&FlagMask))
}
