// Package terminal implements functions for responding to user
// input and dispatching to the kernel monitor commands.
package terminal

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/go-delve/kmon/pkg/config"
	"github.com/go-delve/kmon/pkg/logflags"
	"github.com/go-delve/kmon/pkg/mmu"
	"github.com/go-delve/kmon/pkg/proc"
)

type callContext struct {
	// Trapframe is the state saved when the kernel entered the monitor,
	// nil if it was entered directly.
	Trapframe *proc.Trapframe
}

type cmdfunc func(t *Term, ctx callContext, args []string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands of the kernel monitor.
type Commands struct {
	cmds []command
}

// MonitorCommands returns a Commands struct with default commands defined.
func MonitorCommands(conf *config.Config) *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Display this list of commands.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"kerninfo"}, group: kernelCmds, cmdFn: kerninfo, helpMsg: `Display information about the kernel.

	kerninfo

Prints the virtual and physical addresses of the symbols delimiting the kernel image (_start, entry, etext, edata and end) and the memory the image occupies.`},
		{aliases: []string{"backtrace", "bt"}, group: kernelCmds, cmdFn: backtrace, helpMsg: `Display a stack backtrace.

	backtrace

Follows the chain of saved frame pointers starting at the current frame. For every frame the frame pointer, the return address and the first five argument words are printed, followed by the file, line and function containing the return address.`},
		{aliases: []string{"disassemble", "disass"}, group: kernelCmds, cmdFn: disassemble, helpMsg: `Disassemble a range of virtual memory.

	disassemble 0xstart 0xend

Decodes the 32bit instructions between start (included) and end (excluded). The syntax is chosen with the disassemble-flavor configuration option.`},
		{aliases: []string{"showmappings"}, group: mappingCmds, cmdFn: showMappings, helpMsg: `Display the physical page mappings of a range of virtual addresses.

	showmappings 0xstart 0xend

Every page between start and end is reported once, in ascending order, as not mapped, not present or mapped to a physical frame together with its permissions. A superpage is reported once for the whole 4MB region it maps.`},
		{aliases: []string{"setperms"}, group: mappingCmds, cmdFn: setPerms, helpMsg: `Set or clear the permissions of a page.

	setperms s 0xvirtualaddr
	setperms c 0xvirtualaddr

With s the user and writable flags are read from the console and written to the page directory entry and, unless the page is a superpage, the page table entry. With c every flag except present is cleared.`},
		{aliases: []string{"dumpcontents"}, group: dataCmds, cmdFn: dumpContents, helpMsg: `Display the contents of a range of virtual or physical memory.

	dumpcontents v start end
	dumpcontents p start end

Addresses are decimal or 0x prefixed hexadecimal, both ends are included. Memory is printed as machine words, 8 per line. In virtual mode every page of the range must be mapped.`},
	}

	if conf != nil && conf.Aliases != nil {
		c.Merge(conf.Aliases)
	}
	return c
}

// Find will look up the command function for the given command name.
// It returns nil if no command matches.
func (c *Commands) Find(cmdstr string) cmdfunc {
	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}
	return nil
}

// Call tokenizes cmdstr and runs the command it names. The result is 0
// when the command succeeded or nothing was run, a positive number when
// the command failed and negative when the monitor should exit.
func (c *Commands) Call(cmdstr string, t *Term) int {
	logger := logflags.MonitorLogger()

	args, err := Tokenize(cmdstr)
	if err != nil {
		t.printError(err)
		return 0
	}
	if len(args) == 0 {
		return 0
	}

	cmdFn := c.Find(args[0])
	if cmdFn == nil {
		fmt.Fprintf(t.stdout, "Unknown command '%s'\n", args[0])
		return 0
	}

	logger.Debugf("running %s %v", args[0], args[1:])
	err = cmdFn(t, callContext{Trapframe: t.target.Trapframe()}, args[1:])
	switch err.(type) {
	case nil:
		return 0
	case ExitRequestError:
		return -1
	}
	logger.Debugf("%s failed: %v", args[0], err)
	t.printError(err)
	return 1
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
}

func (c *Commands) help(t *Term, ctx callContext, args []string) error {
	if len(args) > 0 {
		for _, cmd := range c.cmds {
			if cmd.match(args[0]) {
				fmt.Fprintln(t.stdout, cmd.helpMsg)
				return nil
			}
		}
		return fmt.Errorf("Unknown command '%s'", args[0])
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

func kerninfo(t *Term, ctx callContext, args []string) error {
	l := t.target.Layout()

	fmt.Fprintf(t.stdout, "Special kernel symbols:\n")
	fmt.Fprintf(t.stdout, "  _start                    0x%08x (phys)\n", l.Start)
	for _, sym := range []struct {
		name string
		addr uint32
	}{
		{"entry", l.Entry},
		{"etext", l.Etext},
		{"edata", l.Edata},
		{"end", l.End},
	} {
		pa, err := t.target.PAddr(mmu.VirtAddr(sym.addr))
		if err != nil {
			return err
		}
		fmt.Fprintf(t.stdout, "  %-6s 0x%08x (virt)  0x%08x (phys)\n", sym.name, sym.addr, uint32(pa))
	}
	fmt.Fprintf(t.stdout, "Kernel executable memory footprint: %dKB\n", mmu.RoundUp(l.End-l.Entry, 1024)/1024)
	return nil
}

func backtrace(t *Term, ctx callContext, args []string) error {
	fmt.Fprintln(t.stdout, "Stack backtrace:")
	err := t.target.Stack(func(frame *proc.Stackframe) error {
		fmt.Fprintf(t.stdout, "  ebp 0x%08x  eip 0x%08x  args", frame.FramePointer, frame.ReturnAddress)
		for _, arg := range frame.Args {
			fmt.Fprintf(t.stdout, " 0x%08x", arg)
		}
		fmt.Fprintln(t.stdout)
		sym := frame.Symbol
		fmt.Fprintf(t.stdout, "         %s:%d: %s+%d\n", sym.File, sym.Line, sym.Name(), frame.Offset())
		return nil
	})
	if err != nil {
		return fmt.Errorf("could not read stack frame: %v", err)
	}
	return nil
}

// ExitRequestError is returned when the user
// exits the monitor.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	logger := logflags.MonitorLogger()
	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		code := c.Call(line, t)
		if code < 0 {
			return ExitRequestError{}
		}
		if code > 0 {
			logger.Warnf("%s:%d: %q failed", name, lineno, line)
		}
	}

	return scanner.Err()
}
