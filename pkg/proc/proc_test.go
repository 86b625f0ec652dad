package proc_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-delve/kmon/pkg/mmu"
	"github.com/go-delve/kmon/pkg/proc"
	protest "github.com/go-delve/kmon/pkg/proc/test"
	"github.com/go-delve/kmon/pkg/symtab"
)

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}

func newTarget(t *testing.T, npages uint32) *proc.Target {
	t.Helper()
	p, err := proc.New(proc.Config{NPages: npages})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNewInvalid(t *testing.T) {
	for _, n := range []uint32{0, 1 << 20} {
		if _, err := proc.New(proc.Config{NPages: n}); err == nil {
			t.Errorf("expected error for %d pages", n)
		}
	}
}

func TestAllocFrame(t *testing.T) {
	p := newTarget(t, 4)
	// frame 0 is reserved, frame 1 holds the page directory
	if p.PageDirectory().Base != mmu.PageSize {
		t.Fatalf("expected page directory at 0x1000 got %v", p.PageDirectory().Base)
	}
	for _, want := range []mmu.PhysAddr{2 * mmu.PageSize, 3 * mmu.PageSize} {
		pa, err := p.AllocFrame()
		if err != nil {
			t.Fatalf("AllocFrame: %v", err)
		}
		if pa != want {
			t.Fatalf("expected frame %v got %v", want, pa)
		}
	}
	if _, err := p.AllocFrame(); err != proc.ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory got %v", err)
	}
}

func TestKAddrPAddr(t *testing.T) {
	p := newTarget(t, 16)
	va, err := p.KAddr(0x2000)
	if err != nil || va != 0xf0002000 {
		t.Fatalf("KAddr(0x2000): %v %v", va, err)
	}
	if _, err := p.KAddr(16 * mmu.PageSize); err == nil {
		t.Fatal("expected KAddr error past the end of memory")
	}
	pa, err := p.PAddr(0xf0003004)
	if err != nil || pa != 0x3004 {
		t.Fatalf("PAddr(0xf0003004): %v %v", pa, err)
	}
	if _, err := p.PAddr(0xefffffff); err == nil {
		t.Fatal("expected PAddr error below KERNBASE")
	}
}

func TestReadWriteVirtual(t *testing.T) {
	p := newTarget(t, 16)
	pd := p.PageDirectory()
	// two virtually contiguous pages backed by non contiguous frames
	if err := pd.Map(0x10000, 0x8000, mmu.PageSize, mmu.FlagWritable); err != nil {
		t.Fatal(err)
	}
	if err := pd.Map(0x11000, 0x5000, mmu.PageSize, mmu.FlagWritable); err != nil {
		t.Fatal(err)
	}

	data := []byte("crossing a page boundary")
	va := mmu.VirtAddr(0x11000 - 8)
	if err := p.WriteVirtual(va, data); err != nil {
		t.Fatalf("WriteVirtual: %v", err)
	}
	buf := make([]byte, 8)
	if err := p.ReadPhysical(buf, 0x9000-8); err != nil {
		t.Fatal(err)
	}
	if string(buf) != string(data[:8]) {
		t.Fatalf("expected %q at the end of the first frame got %q", data[:8], buf)
	}
	got := make([]byte, len(data))
	if err := p.ReadVirtual(got, va); err != nil {
		t.Fatalf("ReadVirtual: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("expected %q got %q", data, got)
	}

	if err := p.ReadVirtual(make([]byte, 8), 0x12000-4); !errors.Is(err, mmu.ErrNotMapped) {
		t.Fatalf("expected ErrNotMapped got %v", err)
	}
	if err := p.ReadPhysical(make([]byte, 8), 16*mmu.PageSize-4); !errors.Is(err, mmu.ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange got %v", err)
	}
}

func TestFixtureMappings(t *testing.T) {
	p := protest.LoadFixture(t, "lab3")
	pd := p.PageDirectory()

	tests := []struct {
		va    mmu.VirtAddr
		kind  mmu.WalkKind
		flags mmu.Flag
	}{
		{0xef000000, mmu.TableLeaf, mmu.FlagPresent | mmu.FlagUser},
		{0xef001000, mmu.TableLeaf, mmu.FlagPresent | mmu.FlagUser},
		{0xef002000, mmu.TableLeaf, mmu.FlagUser},
		{0xef003000, mmu.NoEntry, 0},
		{0xef400000, mmu.NoEntry, 0},
		{0xf0000000, mmu.SuperPage, mmu.FlagPresent | mmu.FlagWritable | mmu.FlagSuperPage},
		{0xf03ff000, mmu.SuperPage, mmu.FlagPresent | mmu.FlagWritable | mmu.FlagSuperPage},
	}
	for _, tc := range tests {
		r, err := pd.Walk(tc.va, false)
		if err != nil {
			t.Fatalf("Walk(%v): %v", tc.va, err)
		}
		if r.Kind != tc.kind {
			t.Errorf("Walk(%v): expected %v got %v", tc.va, tc.kind, r.Kind)
			continue
		}
		ref := r.Leaf
		switch r.Kind {
		case mmu.NoEntry:
			continue
		case mmu.SuperPage:
			ref = r.Dir
		}
		e, err := ref.Load(p.Memory())
		if err != nil {
			t.Fatal(err)
		}
		if e.Flags() != tc.flags {
			t.Errorf("Walk(%v): expected flags %#x got %#x", tc.va, tc.flags, e.Flags())
		}
	}

	var buf [mmu.WordSize]byte
	if err := p.ReadVirtual(buf[:], 0xef000004); err != nil || binary.LittleEndian.Uint32(buf[:]) != 0x0badf00d {
		t.Fatalf("expected 0x0badf00d got %#x (%v)", buf, err)
	}
	// the kernel image is visible through KERNBASE
	if err := p.ReadVirtual(buf[:], 0xf01000a0); err != nil || binary.LittleEndian.Uint32(buf[:]) != 0x83e58955 {
		t.Fatalf("expected 0x83e58955 got %#x (%v)", buf, err)
	}
}

func TestFixtureLayout(t *testing.T) {
	p := protest.LoadFixture(t, "lab3")
	l := p.Layout()
	if l.Start != 0x0010000c || l.Entry != 0xf010000c || l.End != 0xf0112960 {
		t.Fatalf("unexpected layout %#v", l)
	}
	if name, addr := p.SymLookup(0xf01000a0); name != "i386_init" || addr != 0xf01000a0 {
		t.Fatalf("SymLookup(0xf01000a0): %s %#x", name, addr)
	}
}

func TestStack(t *testing.T) {
	p := protest.LoadFixture(t, "lab3")

	type frame struct {
		ebp, eip uint32
		arg0     uint32
		fn       string
		file     string
		line     int
		off      uint32
	}
	want := []frame{
		{0xefffff80, 0xf0100069, 0, "test_backtrace", "kern/init.c", 16, 41},
		{0xefffffa0, 0xf0100069, 1, "test_backtrace", "kern/init.c", 16, 41},
		{0xefffffc0, 0xf01000f4, 2, "i386_init", "kern/init.c", 39, 84},
		{0xefffffe0, 0xf010003e, 0, "relocated", "kern/entry.S", 77, 15},
	}

	var got []frame
	err := p.Stack(func(fr *proc.Stackframe) error {
		got = append(got, frame{fr.FramePointer, fr.ReturnAddress, fr.Args[0], fr.Symbol.Name(), fr.Symbol.File, fr.Symbol.Line, fr.Offset()})
		return nil
	})
	if err != nil {
		t.Fatalf("Stack: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d frames got %d: %#v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d: expected %#v got %#v", i, want[i], got[i])
		}
	}
}

func TestStackStopsOnUnmappedFrame(t *testing.T) {
	p := newTarget(t, 16)
	if err := p.PageDirectory().Map(0x10000, 0x8000, mmu.PageSize, mmu.FlagWritable); err != nil {
		t.Fatal(err)
	}
	// the outer frame pointer leads to unmapped memory
	if err := p.WriteVirtual(0x10f00, []byte{0x00, 0x00, 0x40, 0x00, 0x34, 0x12, 0x00, 0x00}); err != nil {
		t.Fatal(err)
	}
	p.SetRegisters(proc.Registers{EBP: 0x10f00})

	n := 0
	err := p.Stack(func(fr *proc.Stackframe) error {
		n++
		if fr.ReturnAddress != 0x1234 {
			t.Errorf("expected return address 0x1234 got %#x", fr.ReturnAddress)
		}
		if fr.Symbol.Name() != "<unknown>" || fr.Offset() != 0 {
			t.Errorf("expected unknown symbol got %#v", fr.Symbol)
		}
		return nil
	})
	if n != 1 {
		t.Fatalf("expected one frame got %d", n)
	}
	if !errors.Is(err, mmu.ErrNotMapped) {
		t.Fatalf("expected ErrNotMapped got %v", err)
	}
}

func TestStackCallbackError(t *testing.T) {
	p := protest.LoadFixture(t, "lab3")
	stop := errors.New("stop")
	n := 0
	err := p.Stack(func(*proc.Stackframe) error {
		n++
		return stop
	})
	if err != stop || n != 1 {
		t.Fatalf("expected walk to stop after one frame, got %d frames and %v", n, err)
	}
}

func TestDisassemble(t *testing.T) {
	p := protest.LoadFixture(t, "lab3")
	text, err := p.Disassemble(0xf01000a0, 0xf01000ac)
	if err != nil {
		t.Fatalf("Disassemble: %v", err)
	}
	wantPC := []uint32{0xf01000a0, 0xf01000a1, 0xf01000a3, 0xf01000a6, 0xf01000ab}
	if len(text) != len(wantPC) {
		t.Fatalf("expected %d instructions got %d", len(wantPC), len(text))
	}
	for i, instr := range text {
		if instr.PC != wantPC[i] {
			t.Errorf("instruction %d: expected pc %#x got %#x", i, wantPC[i], instr.PC)
		}
	}
	if s := text[0].Text(proc.IntelFlavour, p.SymLookup); s != "push ebp" {
		t.Errorf("expected \"push ebp\" got %q", s)
	}
	call := text[3]
	if s := call.Text(proc.IntelFlavour, p.SymLookup); !strings.HasPrefix(s, "call ") || !strings.Contains(s, "test_backtrace") {
		t.Errorf("expected call to test_backtrace got %q", s)
	}

	if _, err := p.Disassemble(0xef003000, 0xef003010); err == nil {
		t.Error("expected error disassembling unmapped memory")
	}
	if _, err := p.Disassemble(0xf01000ac, 0xf01000a0); err == nil {
		t.Error("expected error for an empty range")
	}
}

func TestParseAssemblyFlavour(t *testing.T) {
	for s, want := range map[string]proc.AssemblyFlavour{"": proc.IntelFlavour, "intel": proc.IntelFlavour, "gnu": proc.GNUFlavour, "go": proc.GoFlavour} {
		got, err := proc.ParseAssemblyFlavour(s)
		if err != nil || got != want {
			t.Errorf("ParseAssemblyFlavour(%q): expected %v got %v (%v)", s, want, got, err)
		}
	}
	if _, err := proc.ParseAssemblyFlavour("arm"); err == nil {
		t.Error("expected error")
	}
}

func TestParsePerm(t *testing.T) {
	perm, err := proc.ParsePerm([]string{"w", "U", "G"})
	if err != nil {
		t.Fatal(err)
	}
	if perm != mmu.FlagWritable|mmu.FlagUser|mmu.FlagGlobal {
		t.Fatalf("unexpected permissions %#x", perm)
	}
	if _, err := proc.ParsePerm([]string{"X"}); err == nil {
		t.Fatal("expected error for unknown permission")
	}
}

func TestPhysMemImage(t *testing.T) {
	dir, err := ioutil.TempDir("", "kmon")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	img := make([]byte, 2*mmu.PageSize)
	copy(img[mmu.PageSize:], "JOS")
	if err := ioutil.WriteFile(filepath.Join(dir, "mem.img"), img, 0644); err != nil {
		t.Fatal(err)
	}
	desc := "npages: 8\nphysmem: mem.img\nalloc-base: 0x4000\n"
	if err := ioutil.WriteFile(filepath.Join(dir, "machine.yml"), []byte(desc), 0644); err != nil {
		t.Fatal(err)
	}

	d, err := proc.LoadDescription(filepath.Join(dir, "machine.yml"))
	if err != nil {
		t.Fatal(err)
	}
	p, err := proc.NewFromDescription(d, symtab.DefaultCacheSize)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 3)
	if err := p.ReadPhysical(buf, mmu.PageSize); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "JOS" {
		t.Fatalf("expected image contents got %q", buf)
	}
	if p.PageDirectory().Base != 0x4000 {
		t.Fatalf("expected page directory at 0x4000 got %v", p.PageDirectory().Base)
	}
}

func TestKernelImageSymbols(t *testing.T) {
	p := protest.LoadFixture(t, "elfkernel")
	sym, err := p.LookupPC(0xf0100030)
	if err != nil {
		t.Fatalf("LookupPC: %v", err)
	}
	if sym.File != "kern/init.c" || sym.Line != 15 || sym.Name() != "i386_init" || sym.FnAddr != 0xf010002a {
		t.Fatalf("unexpected symbol %#v", sym)
	}
	if name, addr := p.SymLookup(0xf0100010); name != "test_backtrace" || addr != 0xf0100000 {
		t.Fatalf("SymLookup(0xf0100010): %s %#x", name, addr)
	}
}

func TestTrapframe(t *testing.T) {
	tf := &proc.Trapframe{TrapNo: 3, EIP: 0xf0100069, CS: 0x8}
	var buf bytes.Buffer
	tf.Print(&buf)
	out := buf.String()
	if !strings.Contains(out, "trap 0x00000003 Breakpoint") {
		t.Fatalf("unexpected trap frame output:\n%s", out)
	}
	if strings.Contains(out, "  ss ") {
		t.Fatalf("kernel mode trap frame should not print ss:\n%s", out)
	}
	if proc.TrapName(48) != "System call" || proc.TrapName(200) != "(unknown trap)" {
		t.Fatal("unexpected trap names")
	}
}
