package proc

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/go-delve/kmon/pkg/logflags"
	"github.com/go-delve/kmon/pkg/mmu"
	"github.com/go-delve/kmon/pkg/symtab"
)

// Description is a YAML description of a machine stopped in the kernel.
type Description struct {
	NPages    uint32 `yaml:"npages"`
	KernBase  uint32 `yaml:"kernbase,omitempty"`
	PageDir   uint32 `yaml:"pgdir,omitempty"`
	AllocBase uint32 `yaml:"alloc-base,omitempty"`

	// Kernel is the path of the kernel ELF image, symbols are read from it
	// when it is set.
	Kernel string `yaml:"kernel,omitempty"`
	// PhysMem is the path of a raw image copied at physical address 0.
	PhysMem string `yaml:"physmem,omitempty"`

	Layout    KernelLayout        `yaml:"layout,omitempty"`
	Symbols   []symtab.SymbolDesc `yaml:"symbols,omitempty"`
	Mappings  []MappingDesc       `yaml:"mappings,omitempty"`
	Memory    []PokeDesc          `yaml:"memory,omitempty"`
	Stack     *StackDesc          `yaml:"stack,omitempty"`
	Registers *Registers          `yaml:"registers,omitempty"`
	Trapframe *Trapframe          `yaml:"trapframe,omitempty"`

	dir string
}

// MappingDesc describes a range of virtual memory mapped to physical
// memory.
type MappingDesc struct {
	VA   uint32   `yaml:"va"`
	PA   uint32   `yaml:"pa"`
	Size uint32   `yaml:"size"`
	Perm []string `yaml:"perm,flow"`
	// Super maps the range with 4MB pages.
	Super bool `yaml:"super,omitempty"`
	// NotPresent clears the present bit of the entries after mapping.
	NotPresent bool `yaml:"not-present,omitempty"`
}

// PokeDesc stores words in memory.
type PokeDesc struct {
	Addr    uint32   `yaml:"addr"`
	Virtual bool     `yaml:"virtual,omitempty"`
	Words   []uint32 `yaml:"words,flow"`
}

// StackDesc describes the call stack of the stopped kernel.
type StackDesc struct {
	Top    uint32      `yaml:"top"`
	Frames []CallFrame `yaml:"frames"`
}

var permNames = map[string]mmu.Flag{
	"P":  mmu.FlagPresent,
	"W":  mmu.FlagWritable,
	"U":  mmu.FlagUser,
	"WT": mmu.FlagWriteThrough,
	"CD": mmu.FlagCacheDisable,
	"A":  mmu.FlagAccessed,
	"D":  mmu.FlagDirty,
	"G":  mmu.FlagGlobal,
	"AV": mmu.FlagAvail,
}

// ParsePerm converts a list of flag names (W, U, WT, CD, A, D, G, AV)
// into page table entry flags.
func ParsePerm(names []string) (mmu.Flag, error) {
	var perm mmu.Flag
	for _, name := range names {
		f, ok := permNames[strings.ToUpper(name)]
		if !ok {
			return 0, fmt.Errorf("unknown permission %q", name)
		}
		perm |= f
	}
	return perm, nil
}

// LoadDescription reads the machine description at path. Relative kernel
// and image paths are resolved from the directory containing path.
func LoadDescription(path string) (*Description, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	d := &Description{}
	if err := yaml.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("unable to decode machine description %s: %v", path, err)
	}
	d.dir = filepath.Dir(path)
	return d, nil
}

func (d *Description) path(p string) string {
	if p == "" || filepath.IsAbs(p) || d.dir == "" {
		return p
	}
	return filepath.Join(d.dir, p)
}

var layoutNames = []string{"_start", "entry", "etext", "edata", "end"}

// symbols loads the kernel symbol table and fills in the parts of the
// layout that were not given explicitly.
func (d *Description) symbols() (*symtab.Table, KernelLayout, error) {
	layout := d.Layout
	fields := []*uint32{&layout.Start, &layout.Entry, &layout.Etext, &layout.Edata, &layout.End}

	var (
		table *symtab.Table
		err   error
	)
	if d.Kernel != "" {
		table, err = symtab.LoadELF(d.path(d.Kernel))
		if err != nil {
			return nil, layout, err
		}
	} else {
		names := make(map[string]uint32)
		for i, name := range layoutNames {
			if *fields[i] != 0 {
				names[name] = *fields[i]
			}
		}
		table = symtab.FromDescription(d.Symbols, names)
	}
	for i, name := range layoutNames {
		if *fields[i] != 0 {
			continue
		}
		if addr, ok := table.LookupName(name); ok {
			*fields[i] = addr
		}
	}
	return table, layout, nil
}

// NewFromDescription builds the target described by d. Symbol lookups are
// cached in an LRU cache of cacheSize entries.
func NewFromDescription(d *Description, cacheSize int) (*Target, error) {
	logger := logflags.TargetLogger()

	table, layout, err := d.symbols()
	if err != nil {
		return nil, err
	}
	resolver, err := symtab.NewCachedResolver(table, cacheSize)
	if err != nil {
		return nil, err
	}

	t, err := New(Config{
		NPages:    d.NPages,
		KernBase:  d.KernBase,
		PageDir:   mmu.PhysAddr(d.PageDir),
		AllocBase: mmu.PhysAddr(d.AllocBase),
		Layout:    layout,
		Symbols:   resolver,
	})
	if err != nil {
		return nil, err
	}

	if d.PhysMem != "" {
		if err := t.loadImage(d.path(d.PhysMem)); err != nil {
			return nil, err
		}
	}

	for _, m := range d.Mappings {
		if err := t.applyMapping(m); err != nil {
			return nil, fmt.Errorf("mapping 0x%08x: %w", m.VA, err)
		}
		logger.Debugf("mapped 0x%08x-0x%08x to 0x%08x %v", m.VA, uint64(m.VA)+uint64(m.Size), m.PA, m.Perm)
	}

	for _, p := range d.Memory {
		if err := t.poke(p); err != nil {
			return nil, fmt.Errorf("writing memory at 0x%08x: %w", p.Addr, err)
		}
	}

	if d.Registers != nil {
		t.SetRegisters(*d.Registers)
	}
	if d.Stack != nil {
		if err := t.PushCallStack(mmu.VirtAddr(d.Stack.Top), d.Stack.Frames); err != nil {
			return nil, fmt.Errorf("building call stack: %w", err)
		}
	}
	if d.Trapframe != nil {
		tf := *d.Trapframe
		t.SetTrapframe(&tf)
	}

	return t, nil
}

func (t *Target) applyMapping(m MappingDesc) error {
	perm, err := ParsePerm(m.Perm)
	if err != nil {
		return err
	}
	pd := t.PageDirectory()
	if m.Super {
		err = pd.MapSuper(mmu.VirtAddr(m.VA), mmu.PhysAddr(m.PA), m.Size, perm)
	} else {
		err = pd.Map(mmu.VirtAddr(m.VA), mmu.PhysAddr(m.PA), m.Size, perm)
	}
	if err != nil || !m.NotPresent {
		return err
	}

	step := uint32(mmu.PageSize)
	if m.Super {
		step = mmu.SuperPageSize
	}
	for off := uint64(0); off < uint64(m.Size); off += uint64(step) {
		res, err := pd.Walk(mmu.VirtAddr(uint64(m.VA)+off), false)
		if err != nil {
			return err
		}
		ref := res.Leaf
		if res.Kind == mmu.SuperPage {
			ref = res.Dir
		}
		e, err := ref.Load(t.Memory())
		if err != nil {
			return err
		}
		if err := ref.Store(t.Memory(), mmu.Entry(uint32(e)&^uint32(mmu.FlagPresent))); err != nil {
			return err
		}
	}
	return nil
}

func (t *Target) poke(p PokeDesc) error {
	buf := make([]byte, 0, len(p.Words)*mmu.WordSize)
	for _, w := range p.Words {
		buf = append(buf, byte(w), byte(w>>8), byte(w>>16), byte(w>>24))
	}
	if p.Virtual {
		return t.WriteVirtual(mmu.VirtAddr(p.Addr), buf)
	}
	_, err := t.Memory().WriteMemory(mmu.PhysAddr(p.Addr), buf)
	return err
}

// loadImage copies the raw image at path into physical memory starting at
// address 0. Images larger than physical memory are truncated.
func (t *Target) loadImage(path string) error {
	data, release, err := mapImage(path)
	if err != nil {
		return fmt.Errorf("could not load memory image: %v", err)
	}
	defer release()
	if uint64(len(data)) > t.PhysSize() {
		logflags.TargetLogger().Warnf("memory image %s is larger than physical memory, truncating", path)
		data = data[:t.PhysSize()]
	}
	_, err = t.Memory().WriteMemory(0, data)
	return err
}
