package terminal

import (
	"fmt"
	"strings"
)

// MaxArgs bounds the number of tokens in a command line, the command name
// included. A line must leave room for the terminating slot, so at most
// MaxArgs-1 tokens are accepted.
const MaxArgs = 16

const whitespace = "\t\r\n "

var errTooManyArgs = fmt.Errorf("Too many arguments (max %d)", MaxArgs)

// Tokenize splits line into whitespace separated tokens. The line is not
// modified and the returned slice is freshly allocated.
func Tokenize(line string) ([]string, error) {
	args := make([]string, 0, 4)
	for {
		line = strings.TrimLeft(line, whitespace)
		if line == "" {
			return args, nil
		}
		if len(args) == MaxArgs-1 {
			return nil, errTooManyArgs
		}
		end := strings.IndexAny(line, whitespace)
		if end < 0 {
			end = len(line)
		}
		args = append(args, line[:end])
		line = line[end:]
	}
}
