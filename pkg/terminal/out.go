package terminal

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// getColorableWriter returns a writer for standard output that understands
// ANSI escape codes on every platform.
func getColorableWriter(dumb bool) io.Writer {
	if dumb {
		return os.Stdout
	}
	return colorable.NewColorableStdout()
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd())
}

// printError prints err on its own line, in red unless the terminal is
// dumb.
func (t *Term) printError(err error) {
	if t.dumb {
		fmt.Fprintln(t.stdout, err.Error())
		return
	}
	fmt.Fprintf(t.stdout, terminalHighlightEscapeCode+"%s"+terminalResetEscapeCode+"\n", ansiRed, err.Error())
}
