package logflags

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var monitor = false
var mmu = false
var symbols = false
var target = false

var logOut io.WriteCloser
var textFormatterInstance = &textFormatter{}

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	logger.Logger.Level = level
	return &logrusLogger{logger}
}

func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if flag {
		return makeLogger(logrus.DebugLevel, fields)
	}
	return makeLogger(logrus.ErrorLevel, fields)
}

// Monitor returns true if the command dispatcher should log.
func Monitor() bool {
	return monitor
}

// MonitorLogger returns a logger for the command dispatcher.
func MonitorLogger() Logger {
	return makeFlaggableLogger(monitor, Fields{"layer": "monitor"})
}

// MMU returns true if page table walks and edits should be logged.
func MMU() bool {
	return mmu
}

// MMULogger returns a logger for page table walks and edits.
func MMULogger() Logger {
	return makeFlaggableLogger(mmu, Fields{"layer": "mmu"})
}

// Symbols returns true if the symbol table loaders should log.
func Symbols() bool {
	return symbols
}

// SymbolsLogger returns a logger for the symbol table loaders.
func SymbolsLogger() Logger {
	return makeFlaggableLogger(symbols, Fields{"layer": "symbols"})
}

// Target returns true if the construction of the inspected machine
// should be logged.
func Target() bool {
	return target
}

// TargetLogger returns a logger for the construction of the inspected machine.
func TargetLogger() Logger {
	return makeFlaggableLogger(target, Fields{"layer": "target"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets the logging flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "kmon-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(io.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "monitor"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch logcmd {
		case "monitor":
			monitor = true
		case "mmu":
			mmu = true
		case "symbols":
			symbols = true
		case "target":
			target = true
		default:
			fmt.Fprintf(os.Stderr, "Warning: unknown log output value %q, run 'kmon help log' for usage.\n", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}

// textFormatter is a simplified version of logrus.TextFormatter that
// doesn't make logs unreadable when they are output to a text file or to a
// terminal that doesn't support colors.
type textFormatter struct {
}

func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b *bytes.Buffer
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}

	fmt.Fprintf(b, "%s %s ", entry.Time.Format(time.RFC3339), strings.ToLower(entry.Level.String()))
	if layer, ok := entry.Data["layer"]; ok {
		fmt.Fprintf(b, "%v ", layer)
	}
	for k, v := range entry.Data {
		if k == "layer" {
			continue
		}
		fmt.Fprintf(b, "%s=%v ", k, v)
	}
	b.WriteString(entry.Message)
	b.WriteByte('\n')
	return b.Bytes(), nil
}
