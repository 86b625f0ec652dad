// Package symtab resolves kernel instruction addresses to source
// locations and function names.
package symtab

import (
	"errors"
	"sort"
)

// ErrNoSymbol is returned when no function covers an address.
var ErrNoSymbol = errors.New("no symbol for address")

const unknown = "<unknown>"

// DebugSymbol describes the source location of an instruction address.
type DebugSymbol struct {
	File string
	Line int
	// FnName may carry trailing debug information (stabs type
	// descriptors), only the first FnNameLen bytes are the name.
	FnName    string
	FnNameLen int
	FnAddr    uint32
}

// Name returns the function name.
func (s DebugSymbol) Name() string {
	if s.FnNameLen >= 0 && s.FnNameLen <= len(s.FnName) {
		return s.FnName[:s.FnNameLen]
	}
	return s.FnName
}

// Resolver maps addresses to debug symbols and symbol names to addresses.
type Resolver interface {
	LookupPC(pc uint32) (DebugSymbol, error)
	LookupName(name string) (uint32, bool)
}

// Func is a function of the symbol table.
type Func struct {
	Name    string
	NameLen int
	Addr    uint32
	Size    uint32 // zero when unknown
	File    string
}

// ShortName returns the name of the function without trailing debug information.
func (fn *Func) ShortName() string {
	if fn.NameLen > 0 && fn.NameLen <= len(fn.Name) {
		return fn.Name[:fn.NameLen]
	}
	return fn.Name
}

// LineEntry maps the instruction at Addr to a source line.
type LineEntry struct {
	Addr uint32
	File string
	Line int
}

// Table is an in-memory symbol table.
type Table struct {
	funcs []Func
	lines []LineEntry
	names map[string]uint32
}

// NewTable builds a table out of the given functions, line entries and
// named symbols. Functions are also added to the named symbols.
func NewTable(funcs []Func, lines []LineEntry, names map[string]uint32) *Table {
	t := &Table{
		funcs: append([]Func(nil), funcs...),
		lines: append([]LineEntry(nil), lines...),
		names: make(map[string]uint32, len(names)+len(funcs)),
	}
	sort.SliceStable(t.funcs, func(i, j int) bool { return t.funcs[i].Addr < t.funcs[j].Addr })
	sort.SliceStable(t.lines, func(i, j int) bool { return t.lines[i].Addr < t.lines[j].Addr })
	for i := range t.funcs {
		t.names[t.funcs[i].ShortName()] = t.funcs[i].Addr
	}
	for name, addr := range names {
		t.names[name] = addr
	}
	return t
}

// LookupName returns the address of the named symbol.
func (t *Table) LookupName(name string) (uint32, bool) {
	addr, ok := t.names[name]
	return addr, ok
}

// LookupPC resolves pc. When no function covers pc the returned symbol
// has "<unknown>" file and function names, pc as function address and
// the error is ErrNoSymbol.
func (t *Table) LookupPC(pc uint32) (DebugSymbol, error) {
	sym := DebugSymbol{File: unknown, FnName: unknown, FnNameLen: len(unknown), FnAddr: pc}

	i := sort.Search(len(t.funcs), func(i int) bool { return t.funcs[i].Addr > pc }) - 1
	if i < 0 {
		return sym, ErrNoSymbol
	}
	fn := &t.funcs[i]
	if fn.Size != 0 && pc-fn.Addr >= fn.Size {
		return sym, ErrNoSymbol
	}
	sym.FnName = fn.Name
	sym.FnNameLen = len(fn.ShortName())
	sym.FnAddr = fn.Addr
	if fn.File != "" {
		sym.File = fn.File
	}

	j := sort.Search(len(t.lines), func(j int) bool { return t.lines[j].Addr > pc }) - 1
	if j >= 0 && t.lines[j].Addr >= fn.Addr {
		sym.Line = t.lines[j].Line
		if t.lines[j].File != "" {
			sym.File = t.lines[j].File
		}
	}
	return sym, nil
}
