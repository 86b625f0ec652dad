package symtab

import (
	"debug/dwarf"
	"debug/elf"
	"errors"
	"fmt"
	"io"

	"github.com/go-delve/kmon/pkg/logflags"
)

// LoadELF loads the symbol table of a kernel image. Line information is
// read from the .stab section when present, from DWARF otherwise.
func LoadELF(path string) (*Table, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return loadELF(f)
}

func loadELF(f *elf.File) (*Table, error) {
	logger := logflags.SymbolsLogger()

	names, funcs, err := elfSymbols(f)
	if err != nil {
		return nil, err
	}

	stabSec, stabstrSec := f.Section(".stab"), f.Section(".stabstr")
	if stabSec != nil && stabstrSec != nil {
		stabs, err := stabSec.Data()
		if err != nil {
			return nil, fmt.Errorf("could not read .stab: %v", err)
		}
		stabstr, err := stabstrSec.Data()
		if err != nil {
			return nil, fmt.Errorf("could not read .stabstr: %v", err)
		}
		logger.Debugf("loading %d stabs", len(stabs)/stabSize)
		return ParseStabs(stabs, stabstr, names)
	}

	lines, err := dwarfLines(f)
	if err != nil {
		logger.Warnf("no line information: %v", err)
	}
	logger.Debugf("loaded %d functions and %d line entries from DWARF", len(funcs), len(lines))
	return NewTable(funcs, lines, names), nil
}

func elfSymbols(f *elf.File) (map[string]uint32, []Func, error) {
	syms, err := f.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, nil, err
	}
	names := make(map[string]uint32, len(syms))
	var funcs []Func
	for _, sym := range syms {
		if sym.Name == "" {
			continue
		}
		names[sym.Name] = uint32(sym.Value)
		if elf.ST_TYPE(sym.Info) == elf.STT_FUNC {
			funcs = append(funcs, Func{Name: sym.Name, NameLen: len(sym.Name), Addr: uint32(sym.Value), Size: uint32(sym.Size)})
		}
	}
	return names, funcs, nil
}

func dwarfLines(f *elf.File) ([]LineEntry, error) {
	d, err := f.DWARF()
	if err != nil {
		return nil, err
	}
	var lines []LineEntry
	rdr := d.Reader()
	for {
		e, err := rdr.Next()
		if err != nil {
			return lines, err
		}
		if e == nil {
			return lines, nil
		}
		if e.Tag != dwarf.TagCompileUnit {
			rdr.SkipChildren()
			continue
		}
		lr, err := d.LineReader(e)
		if err != nil {
			return lines, err
		}
		if lr == nil {
			continue
		}
		var le dwarf.LineEntry
		for {
			if err := lr.Next(&le); err != nil {
				if err == io.EOF {
					break
				}
				return lines, err
			}
			if le.EndSequence {
				continue
			}
			file := ""
			if le.File != nil {
				file = le.File.Name
			}
			lines = append(lines, LineEntry{Addr: uint32(le.Address), File: file, Line: le.Line})
		}
	}
}
