package cmds

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	protest "github.com/go-delve/kmon/pkg/proc/test"
)

func newTestCommand(t *testing.T, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	kernelFile, physmemFile, usageDir = "", "", ""
	memory = sizeValue{}
	root := New(true)
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(ioutil.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return buf, err
}

func TestSizeValue(t *testing.T) {
	testCases := []struct {
		in     string
		npages uint32
		err    bool
	}{
		{"4096", 1, false},
		{"64K", 16, false},
		{"64k", 16, false},
		{"128M", 32768, false},
		{"0x10000", 16, false},
		{"1G", 262144, false},
		{"4G", 0, true},
		{"0", 0, true},
		{"100", 0, true},
		{"12Q", 0, true},
		{"", 0, true},
		{"M", 0, true},
	}

	for _, tc := range testCases {
		var s sizeValue
		err := s.Set(tc.in)
		if tc.err {
			if err == nil {
				t.Errorf("%q: expected error, got %d pages", tc.in, s.npages)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error %v", tc.in, err)
			continue
		}
		if s.npages != tc.npages {
			t.Errorf("%q: expected %d pages got %d", tc.in, tc.npages, s.npages)
		}
	}

	s := sizeValue{npages: 32768}
	if s.String() != "131072K" {
		t.Fatalf("unexpected string %q", s.String())
	}
}

func TestLoadDescriptionOverrides(t *testing.T) {
	path := protest.BuildFixture("lab3").Path

	kernelFile, physmemFile = "", ""
	memory = sizeValue{}
	d, err := loadDescription(path)
	if err != nil {
		t.Fatal(err)
	}
	if d.NPages != 1024 || d.Kernel != "" || d.PhysMem != "" {
		t.Fatalf("unexpected description %d %q %q", d.NPages, d.Kernel, d.PhysMem)
	}

	if err := memory.Set("8M"); err != nil {
		t.Fatal(err)
	}
	physmemFile = "mem.img"
	defer func() {
		physmemFile = ""
		memory = sizeValue{}
	}()
	d, err = loadDescription(path)
	if err != nil {
		t.Fatal(err)
	}
	if d.NPages != 2048 {
		t.Fatalf("expected 2048 pages got %d", d.NPages)
	}
	if !filepath.IsAbs(d.PhysMem) || filepath.Base(d.PhysMem) != "mem.img" {
		t.Fatalf("unexpected physmem path %q", d.PhysMem)
	}

	if _, err := loadDescription(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatal("expected error loading missing description")
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := newTestCommand(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "JOS Kernel Monitor\nVersion: ") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestDocsCommand(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "usage")
	out, err := newTestCommand(t, "docs", "--usage-dir", dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range []string{"# Commands", "[showmappings](#showmappings)", "## setperms", "Aliases: bt"} {
		if !strings.Contains(out.String(), s) {
			t.Errorf("docs output does not contain %q", s)
		}
	}
	for _, name := range []string{"kmon.md", "kmon_addr2line.md", "kmon_version.md"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("usage file %s not generated: %v", name, err)
		}
	}
}

func TestAddr2lineArgs(t *testing.T) {
	if _, err := newTestCommand(t, "addr2line", "kernel"); err == nil {
		t.Fatal("expected error with no addresses")
	}
	if _, err := newTestCommand(t, "addr2line", filepath.Join(t.TempDir(), "missing"), "0xf0100000"); err == nil {
		t.Fatal("expected error with missing kernel image")
	}
}

func TestAddr2line(t *testing.T) {
	out, err := newTestCommand(t, "addr2line", protest.FixturePath("kernel.elf"), "0xf0100030", "4027580432", "0xf0100040")
	if err != nil {
		t.Fatal(err)
	}
	want := "0xf0100030 kern/init.c:15: i386_init+6\n" +
		"0xf0100010 kern/init.c:8: test_backtrace+16\n" +
		"0xf0100040 ??:0\n"
	if out.String() != want {
		t.Fatalf("expected %q got %q", want, out.String())
	}
	if _, err := newTestCommand(t, "addr2line", protest.FixturePath("kernel.elf"), "pc"); err == nil {
		t.Fatal("expected error with an invalid address")
	}
}

func TestRootArgs(t *testing.T) {
	if _, err := newTestCommand(t); err == nil {
		t.Fatal("expected error without a machine description")
	}
}
