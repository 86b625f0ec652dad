package symtab

// SymbolDesc describes a function in a machine description file.
type SymbolDesc struct {
	Name  string     `yaml:"name"`
	Addr  uint32     `yaml:"addr"`
	Size  uint32     `yaml:"size,omitempty"`
	File  string     `yaml:"file,omitempty"`
	Line  int        `yaml:"line,omitempty"`
	Lines []LineDesc `yaml:"lines,omitempty"`
}

// LineDesc maps an instruction address to a line of the enclosing
// function's file.
type LineDesc struct {
	Addr uint32 `yaml:"addr"`
	Line int    `yaml:"line"`
}

// FromDescription builds a table out of symbol descriptions. A function
// with a Line but no Lines gets a single line entry at its start.
func FromDescription(descs []SymbolDesc, names map[string]uint32) *Table {
	var (
		funcs []Func
		lines []LineEntry
	)
	for _, d := range descs {
		funcs = append(funcs, Func{Name: d.Name, NameLen: len(d.Name), Addr: d.Addr, Size: d.Size, File: d.File})
		if len(d.Lines) == 0 && d.Line != 0 {
			lines = append(lines, LineEntry{Addr: d.Addr, File: d.File, Line: d.Line})
		}
		for _, l := range d.Lines {
			lines = append(lines, LineEntry{Addr: l.Addr, File: d.File, Line: l.Line})
		}
	}
	return NewTable(funcs, lines, names)
}
