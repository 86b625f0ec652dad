package terminal

import (
	"encoding/binary"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/go-delve/kmon/pkg/mmu"
)

const (
	dumpWordsPerLine = 8
	dumpChunkSize    = mmu.PageSize
)

func dumpContents(t *Term, ctx callContext, args []string) error {
	if len(args) < 3 {
		return errArgsNotProvided
	}
	mode := args[0]
	if mode == "" || (mode[0] != 'v' && mode[0] != 'p') {
		return errArgsFormat
	}
	start, err := parseAddr(args[1])
	if err != nil {
		return err
	}
	end, err := parseAddr(args[2])
	if err != nil {
		return err
	}
	if start > end {
		return errStartAfterEnd
	}
	r := mmu.AddrRange{Start: start, End: end}

	if mode[0] == 'p' {
		// both ends need a kernel virtual address, as KADDR would give them
		for _, pa := range []uint32{start, end} {
			if _, err := t.target.KAddr(mmu.PhysAddr(pa)); err != nil {
				return errPhysBounds
			}
		}
		return hexdump(t.stdout, r, func(buf []byte, addr uint32) error {
			return t.target.ReadPhysical(buf, mmu.PhysAddr(addr))
		})
	}

	if err := checkMapped(t.target.PageDirectory(), r); err != nil {
		return err
	}
	return hexdump(t.stdout, r, func(buf []byte, addr uint32) error {
		return t.target.ReadVirtual(buf, mmu.VirtAddr(addr))
	})
}

// checkMapped returns errUnmappedPages unless every page covering r is
// present.
func checkMapped(pd *mmu.PageDirectory, r mmu.AddrRange) error {
	pages := r.Normalize(mmu.PageSize)
	for cur := pages.Start; ; {
		res, err := pd.Walk(mmu.VirtAddr(cur), false)
		if err != nil {
			return err
		}
		step := uint32(mmu.PageSize)
		switch res.Kind {
		case mmu.NoEntry:
			return errUnmappedPages
		case mmu.SuperPage:
			step = mmu.SuperPageSize
		case mmu.TableLeaf:
			pte, err := res.Leaf.Load(pd.Mem)
			if err != nil {
				return err
			}
			if !pte.Present() {
				return errUnmappedPages
			}
		}
		next, ok := pages.Advance(cur, step)
		if !ok {
			return nil
		}
		cur = next
	}
}

// hexdump prints the bytes in r as little endian machine words, 8 per
// line. If the length of r is not a multiple of the word size the
// remaining bytes are printed as a single word on their own line.
func hexdump(w io.Writer, r mmu.AddrRange, read func(buf []byte, addr uint32) error) error {
	n := r.Len()
	buf := make([]byte, dumpChunkSize)
	addr := r.Start
	words := 0
	for remaining := n - n%mmu.WordSize; remaining > 0; {
		chunk := uint64(dumpChunkSize)
		if remaining < chunk {
			chunk = remaining
		}
		if err := read(buf[:chunk], addr); err != nil {
			return err
		}
		for off := uint64(0); off < chunk; off += mmu.WordSize {
			if words > 0 {
				if words%dumpWordsPerLine == 0 {
					fmt.Fprintln(w)
				} else {
					fmt.Fprint(w, " ")
				}
			}
			fmt.Fprintf(w, "0x%08x", binary.LittleEndian.Uint32(buf[off:]))
			words++
		}
		addr += uint32(chunk)
		remaining -= chunk
	}
	if words > 0 {
		fmt.Fprintln(w)
	}

	if tail := n % mmu.WordSize; tail != 0 {
		var word [mmu.WordSize]byte
		if err := read(word[:tail], addr); err != nil {
			return err
		}
		fmt.Fprintf(w, "0x%08x\n", binary.LittleEndian.Uint32(word[:]))
	}
	return nil
}

func disassemble(t *Term, ctx callContext, args []string) error {
	r, err := parseHexRange(args)
	if err != nil {
		return err
	}
	text, err := t.target.Disassemble(r.Start, r.End)
	if err != nil {
		return err
	}

	fnname := ""
	tw := tabwriter.NewWriter(t.stdout, 1, 8, 1, '\t', 0)
	for i := range text {
		instr := &text[i]
		sym, _ := t.target.LookupPC(instr.PC)
		if name := sym.Name(); name != fnname {
			tw.Flush()
			fmt.Fprintf(t.stdout, "TEXT %s %s\n", name, sym.File)
			fnname = name
		}
		fmt.Fprintf(tw, "\t%s:%d\t0x%08x\t%x\t%s\n", sym.File, sym.Line, instr.PC, instr.Bytes, instr.Text(t.flavour, t.target.SymLookup))
	}
	return tw.Flush()
}
