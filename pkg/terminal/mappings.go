package terminal

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-delve/kmon/pkg/logflags"
	"github.com/go-delve/kmon/pkg/mmu"
)

var (
	errArgsNotProvided = errors.New("invalid call, arguments not provided, check help")
	errArgsFormat      = errors.New("invalid call, arguments not formatted correctly, check help")
	errStartAfterEnd   = errors.New("Start address must be less than or equal to end address")
	errPhysBounds      = errors.New("Range exceeds physical memory bounds")
	errUnmappedPages   = errors.New("Range contains unmapped pages")
	errPageUnmapped    = errors.New("page is unmapped or not present")
	errPermsAborted    = errors.New("setperms aborted, no changes made")
)

// parseHexAddr parses a 0x prefixed hexadecimal address.
func parseHexAddr(s string) (uint32, error) {
	if !strings.HasPrefix(s, "0x") {
		return 0, errArgsFormat
	}
	v, err := strconv.ParseUint(s[2:], 16, 32)
	if err != nil {
		return 0, errArgsFormat
	}
	return uint32(v), nil
}

// parseAddr parses a decimal or 0x prefixed hexadecimal address.
func parseAddr(s string) (uint32, error) {
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	if s == "" || strings.ContainsRune(s, '_') {
		return 0, errArgsFormat
	}
	v, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return 0, errArgsFormat
	}
	return uint32(v), nil
}

func parseHexRange(args []string) (mmu.AddrRange, error) {
	if len(args) < 2 {
		return mmu.AddrRange{}, errArgsNotProvided
	}
	start, err := parseHexAddr(args[0])
	if err != nil {
		return mmu.AddrRange{}, err
	}
	end, err := parseHexAddr(args[1])
	if err != nil {
		return mmu.AddrRange{}, err
	}
	if start > end {
		return mmu.AddrRange{}, errStartAfterEnd
	}
	return mmu.AddrRange{Start: start, End: end}, nil
}

func showMappings(t *Term, ctx callContext, args []string) error {
	r, err := parseHexRange(args)
	if err != nil {
		return err
	}
	r = r.Normalize(mmu.PageSize)

	pd := t.target.PageDirectory()
	for cur := r.Start; ; {
		step, err := printMapping(t.stdout, pd, mmu.VirtAddr(cur))
		if err != nil {
			return err
		}
		next, ok := r.Advance(cur, step)
		if !ok {
			return nil
		}
		cur = next
	}
}

// printMapping prints the mapping of the page at va and returns the size
// of the region it described.
func printMapping(w io.Writer, pd *mmu.PageDirectory, va mmu.VirtAddr) (uint32, error) {
	res, err := pd.Walk(va, false)
	if err != nil {
		return 0, err
	}
	switch res.Kind {
	case mmu.SuperPage:
		pde, err := res.Dir.Load(pd.Mem)
		if err != nil {
			return 0, err
		}
		base := mmu.VirtAddr(mmu.RoundDown(uint32(va), mmu.SuperPageSize))
		fmt.Fprintf(w, "virtual [%v] - mapped as super page to physical [%v] - perm %s\n", base, pde.Frame(), mmu.FormatFlags(pde))
		return mmu.SuperPageSize, nil
	case mmu.TableLeaf:
		pte, err := res.Leaf.Load(pd.Mem)
		if err != nil {
			return 0, err
		}
		if !pte.Present() {
			fmt.Fprintf(w, "virtual [%v] - not present/unmapped\n", va)
		} else {
			fmt.Fprintf(w, "virtual [%v] - physical [%v] - perm %s\n", va, pte.Frame(), mmu.FormatFlags(pte))
		}
	default:
		fmt.Fprintf(w, "virtual [%v] - not mapped\n", va)
	}
	return mmu.PageSize, nil
}

type permState uint8

const (
	awaitingUser permState = iota
	awaitingWritable
	applyPerms
)

const (
	userPrompt     = "Enter user flag (1 = user-accessible, 0 = supervisor access only): "
	writablePrompt = "Enter writable flag (1 = writable, 0 = read only): "
)

// flagReader hands out the characters typed at the setperms prompts one
// at a time. A new line is read only when the previous one is used up, so
// "10" answers both prompts.
type flagReader struct {
	t       *Term
	pending []rune
}

// readFlag consumes characters until it finds a 0 or a 1, prompting with
// question whenever it runs out of input.
func (r *flagReader) readFlag(question string) (bool, error) {
	for {
		if len(r.pending) == 0 {
			answer, err := r.t.line.Prompt(question)
			if err != nil {
				return false, err
			}
			r.pending = []rune(answer)
			continue
		}
		c := r.pending[0]
		r.pending = r.pending[1:]
		switch c {
		case '0':
			return false, nil
		case '1':
			return true, nil
		}
	}
}

// readPerms asks for the user and writable flags and returns the
// corresponding entry flags.
func readPerms(t *Term) (mmu.Flag, error) {
	r := &flagReader{t: t}
	var perm mmu.Flag
	for state := awaitingUser; state != applyPerms; {
		var (
			set bool
			err error
		)
		switch state {
		case awaitingUser:
			set, err = r.readFlag(userPrompt)
			if set {
				perm |= mmu.FlagUser
			}
			state = awaitingWritable
		case awaitingWritable:
			set, err = r.readFlag(writablePrompt)
			if set {
				perm |= mmu.FlagWritable
			}
			state = applyPerms
		}
		if err != nil {
			return 0, errPermsAborted
		}
	}
	return perm, nil
}

func setPerms(t *Term, ctx callContext, args []string) error {
	if len(args) < 2 {
		return errArgsNotProvided
	}
	mode := args[0]
	if mode == "" || (mode[0] != 's' && mode[0] != 'c') {
		return errArgsFormat
	}
	addr, err := parseHexAddr(args[1])
	if err != nil {
		return err
	}
	va := mmu.VirtAddr(mmu.RoundDown(addr, mmu.PageSize))

	pd := t.target.PageDirectory()
	res, err := pd.Walk(va, false)
	if err != nil {
		return err
	}
	if res.Kind == mmu.NoEntry {
		return errPageUnmapped
	}
	super := res.Kind == mmu.SuperPage

	var (
		edit   func(e mmu.Entry, keep mmu.Flag) mmu.Entry
		format string
	)
	switch mode[0] {
	case 's':
		perm, err := readPerms(t)
		if err != nil {
			return err
		}
		edit = func(e mmu.Entry, _ mmu.Flag) mmu.Entry {
			flags := e.Flags()
			return e.WithFlags(flags&^(mmu.FlagPresent|mmu.FlagWritable|mmu.FlagUser) | perm | flags&mmu.FlagPresent)
		}
		format = "set %s perms for [%v]: perms %s\n"
	case 'c':
		edit = func(e mmu.Entry, keep mmu.Flag) mmu.Entry {
			return e.WithFlags(e.Flags() & (mmu.FlagPresent | keep))
		}
		format = "cleared %s for [%v]: perms %s\n"
	}

	var keepDir mmu.Flag
	if super {
		keepDir = mmu.FlagSuperPage
	}
	pde, err := editEntry(pd.Mem, res.Dir, func(e mmu.Entry) mmu.Entry { return edit(e, keepDir) })
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, format, "pde", va, mmu.FormatFlags(pde))
	if super {
		return nil
	}
	pte, err := editEntry(pd.Mem, res.Leaf, func(e mmu.Entry) mmu.Entry { return edit(e, 0) })
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, format, "pte", va, mmu.FormatFlags(pte))
	return nil
}

func editEntry(mem mmu.MemoryReadWriter, ref mmu.EntryRef, fn func(mmu.Entry) mmu.Entry) (mmu.Entry, error) {
	old, err := ref.Load(mem)
	if err != nil {
		return 0, err
	}
	e := fn(old)
	if err := ref.Store(mem, e); err != nil {
		return 0, err
	}
	logflags.MMULogger().Debugf("entry at %v: %#08x -> %#08x", ref.Addr(), uint32(old), uint32(e))
	return e, nil
}
