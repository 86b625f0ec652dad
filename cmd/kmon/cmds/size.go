package cmds

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/go-delve/kmon/pkg/mmu"
)

var _ pflag.Value = (*sizeValue)(nil)

// sizeValue is a pflag.Value holding an amount of physical memory,
// written as a number of bytes with an optional K, M or G suffix.
type sizeValue struct {
	npages uint32
}

var sizeSuffixes = map[byte]uint64{
	'K': 1 << 10,
	'M': 1 << 20,
	'G': 1 << 30,
}

func (s *sizeValue) String() string {
	if s.npages == 0 {
		return ""
	}
	return fmt.Sprintf("%dK", uint64(s.npages)*mmu.PageSize>>10)
}

func (s *sizeValue) Set(v string) error {
	str := strings.ToUpper(strings.TrimSpace(v))
	mult := uint64(1)
	if len(str) > 0 {
		if m, ok := sizeSuffixes[str[len(str)-1]]; ok {
			mult = m
			str = str[:len(str)-1]
		}
	}
	n, err := strconv.ParseUint(str, 0, 32)
	if err != nil {
		return fmt.Errorf("invalid memory size %q", v)
	}
	size := n * mult
	if size == 0 || size%mmu.PageSize != 0 {
		return fmt.Errorf("memory size %q is not a positive multiple of %d bytes", v, mmu.PageSize)
	}
	if size/mmu.PageSize >= 1<<20 {
		return fmt.Errorf("memory size %q does not fit in a 32bit physical address space", v)
	}
	s.npages = uint32(size / mmu.PageSize)
	return nil
}

func (s *sizeValue) Type() string {
	return "size"
}
