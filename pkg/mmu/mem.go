package mmu

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrOutOfRange is returned when an access falls outside of physical memory.
var ErrOutOfRange = errors.New("physical address out of range")

// MemoryReader is like io.ReaderAt, but the offset is a physical address.
type MemoryReader interface {
	// ReadMemory is just like io.ReaderAt.ReadAt.
	ReadMemory(buf []byte, addr PhysAddr) (n int, err error)
}

// MemoryReadWriter is a MemoryReader that can also be written to.
type MemoryReadWriter interface {
	MemoryReader
	WriteMemory(addr PhysAddr, data []byte) (written int, err error)
}

// PhysMem is a flat physical memory.
type PhysMem struct {
	data []byte
}

// NewPhysMem returns size bytes of zeroed physical memory.
func NewPhysMem(size uint32) *PhysMem {
	return &PhysMem{data: make([]byte, size)}
}

// Size returns the number of bytes of physical memory.
func (m *PhysMem) Size() uint32 {
	return uint32(len(m.data))
}

func (m *PhysMem) check(addr PhysAddr, n int) error {
	if uint64(addr)+uint64(n) > uint64(len(m.data)) {
		return fmt.Errorf("%w: %v+%#x", ErrOutOfRange, addr, n)
	}
	return nil
}

func (m *PhysMem) ReadMemory(buf []byte, addr PhysAddr) (int, error) {
	if err := m.check(addr, len(buf)); err != nil {
		return 0, err
	}
	return copy(buf, m.data[addr:]), nil
}

func (m *PhysMem) WriteMemory(addr PhysAddr, data []byte) (int, error) {
	if err := m.check(addr, len(data)); err != nil {
		return 0, err
	}
	return copy(m.data[addr:], data), nil
}

// ReadWord reads a little endian machine word at addr.
func ReadWord(mem MemoryReader, addr PhysAddr) (uint32, error) {
	var buf [WordSize]byte
	if _, err := mem.ReadMemory(buf[:], addr); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WriteWord writes v as a little endian machine word at addr.
func WriteWord(mem MemoryReadWriter, addr PhysAddr, v uint32) error {
	var buf [WordSize]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := mem.WriteMemory(addr, buf[:])
	return err
}

// FrameAllocator hands out zeroed physical frames for new page tables.
type FrameAllocator interface {
	AllocFrame() (PhysAddr, error)
}
