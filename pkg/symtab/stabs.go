package symtab

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// Stab types used by the kernel's line number information, see <stab.h>.
const (
	stabFUN   = 0x24 // procedure name
	stabSLINE = 0x44 // text segment line number
	stabSO    = 0x64 // main source file name
	stabSOL   = 0x84 // included source file name
)

const stabSize = 12

type stab struct {
	strx  uint32
	typ   uint8
	other uint8
	desc  uint16
	value uint32
}

// ParseStabs builds a table from the contents of the .stab and .stabstr
// sections. Line numbers inside a function are recorded relative to the
// function start, as emitted by gcc -gstabs.
func ParseStabs(stabs, stabstr []byte, names map[string]uint32) (*Table, error) {
	if len(stabs)%stabSize != 0 {
		return nil, fmt.Errorf("malformed .stab section: size %d is not a multiple of %d", len(stabs), stabSize)
	}

	var (
		funcs   []Func
		lines   []LineEntry
		dir     string
		curFile string
		curFn   = -1
	)

	for off := 0; off < len(stabs); off += stabSize {
		s := decodeStab(stabs[off : off+stabSize])
		str, err := stabString(stabstr, s.strx)
		if err != nil {
			return nil, err
		}

		switch s.typ {
		case stabSO:
			switch {
			case str == "":
				dir, curFile, curFn = "", "", -1
			case strings.HasSuffix(str, "/"):
				dir = str
			default:
				curFile = dir + str
			}
		case stabSOL:
			curFile = str
		case stabFUN:
			if str == "" {
				if curFn >= 0 {
					funcs[curFn].Size = s.value
				}
				curFn = -1
				continue
			}
			namelen := strings.IndexByte(str, ':')
			if namelen < 0 {
				namelen = len(str)
			}
			funcs = append(funcs, Func{Name: str, NameLen: namelen, Addr: s.value, File: curFile})
			curFn = len(funcs) - 1
		case stabSLINE:
			addr := s.value
			if curFn >= 0 {
				addr += funcs[curFn].Addr
			}
			lines = append(lines, LineEntry{Addr: addr, File: curFile, Line: int(s.desc)})
		}
	}

	return NewTable(funcs, lines, names), nil
}

func decodeStab(b []byte) stab {
	return stab{
		strx:  binary.LittleEndian.Uint32(b[0:]),
		typ:   b[4],
		other: b[5],
		desc:  binary.LittleEndian.Uint16(b[6:]),
		value: binary.LittleEndian.Uint32(b[8:]),
	}
}

func stabString(stabstr []byte, strx uint32) (string, error) {
	if int(strx) >= len(stabstr) {
		if strx == 0 {
			return "", nil
		}
		return "", fmt.Errorf("malformed .stabstr: string index %#x out of range", strx)
	}
	s := stabstr[strx:]
	if i := bytes.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return string(s), nil
}
