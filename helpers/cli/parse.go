package cli

import (
	"strconv"
	"strings"

	"github.com/juju/errors"
)

// Line is whitespace separated commands with meta words extracted.
type Line struct {
	Words []string
	Loop  uint
	Help  bool
}

func (self Line) Empty() bool { return len(self.Words) == 0 && !self.Help }

// Repeat is number of times to execute Words, at least once.
func (self Line) Repeat() uint {
	if self.Loop == 0 {
		return 1
	}
	return self.Loop
}

// ParseLine recognizes `help` and `loop=N`, at most one loop per line.
// Commands may take arguments, so words are returned in original order.
func ParseLine(s string) (Line, error) {
	l := Line{}
	for _, word := range strings.Fields(s) {
		switch {
		case word == "help":
			l.Help = true
		case strings.HasPrefix(word, "loop="):
			if l.Loop != 0 {
				return l, errors.Errorf("multiple loop commands, expected at most one")
			}
			i, err := strconv.ParseUint(word[5:], 10, 32)
			if err != nil {
				return l, errors.Annotatef(err, "word=%s", word)
			}
			if i == 0 {
				return l, errors.NotValidf("word=%s", word)
			}
			l.Loop = uint(i)
		default:
			l.Words = append(l.Words, word)
		}
	}
	return l, nil
}
