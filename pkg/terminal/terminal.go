package terminal

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/derekparker/trie"
	"github.com/go-delve/liner"

	"github.com/go-delve/kmon/pkg/config"
	"github.com/go-delve/kmon/pkg/logflags"
	"github.com/go-delve/kmon/pkg/proc"
)

const (
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiRed = 31
)

// lineReader reads one line of input after printing a prompt.
type lineReader interface {
	Prompt(prompt string) (string, error)
	Close() error
}

// Term represents the terminal running the kernel monitor.
type Term struct {
	target   *proc.Target
	conf     *config.Config
	prompt   string
	line     lineReader
	cmds     *Commands
	dumb     bool
	stdout   io.Writer
	flavour  proc.AssemblyFlavour
	InitFile string
}

// New returns a new Term.
func New(target *proc.Target, conf *config.Config) *Term {
	cmds := MonitorCommands(conf)
	if conf == nil {
		conf = &config.Config{}
	}

	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb"
	w := getColorableWriter(dumb)

	flavour, err := proc.ParseAssemblyFlavour(conf.GetDisassembleFlavour())
	if err != nil {
		logflags.MonitorLogger().Warnf("%v, using intel syntax", err)
	}

	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	completions := commandTrie(cmds)
	line.SetCompleter(func(l string) []string {
		return completeCommand(completions, l)
	})

	return &Term{
		target:  target,
		conf:    conf,
		prompt:  conf.GetPrompt(),
		line:    line,
		cmds:    cmds,
		dumb:    dumb || !isTerminal(os.Stdout),
		stdout:  w,
		flavour: flavour,
	}
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	t.line.Close()
}

// Run runs the monitor until a command asks to exit or the input ends.
func (t *Term) Run() (int, error) {
	defer t.Close()

	fmt.Fprintln(t.stdout, "Welcome to the JOS kernel monitor!")
	fmt.Fprintln(t.stdout, "Type 'help' for a list of commands.")

	if tf := t.target.Trapframe(); tf != nil {
		tf.Print(t.stdout)
	}

	if t.InitFile != "" {
		err := t.cmds.executeFile(t, t.InitFile)
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return 0, nil
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	for {
		cmdstr, err := t.line.Prompt(t.prompt)
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(t.stdout)
				return 0, nil
			}
			if err == liner.ErrPromptAborted {
				continue
			}
			return 1, fmt.Errorf("Prompt for input failed: %v", err)
		}

		if t.cmds.Call(cmdstr, t) < 0 {
			return 0, nil
		}
	}
}

// commandTrie returns a trie holding every name of every command.
func commandTrie(cmds *Commands) *trie.Trie {
	completions := trie.New()
	for _, cmd := range cmds.cmds {
		for _, alias := range cmd.aliases {
			completions.Add(alias, nil)
		}
	}
	return completions
}

// completeCommand completes the command name being typed on line.
// Arguments are not completed.
func completeCommand(completions *trie.Trie, line string) []string {
	if strings.ContainsAny(line, whitespace) {
		return nil
	}
	c := completions.PrefixSearch(line)
	sort.Strings(c)
	return c
}
