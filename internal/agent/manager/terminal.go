package manager

import (
	"bytes"
	"strings"
	"sync"

	"github.com/tuzig/vt10x"
)

// lineTerminal feeds raw PTY bytes through a virtual terminal emulator so
// completion predicates can reason about rendered lines instead of a raw
// byte stream full of cursor-movement and color escape sequences.
type lineTerminal struct {
	mu      sync.Mutex
	term    vt10x.Terminal
	cols    int
	rows    int
	written int // count of '\n' seen so far, capped implicitly at rows by Lines()
}

func newLineTerminal(cols, rows int) *lineTerminal {
	if cols <= 0 {
		cols = 120
	}
	if rows <= 0 {
		rows = 40
	}
	return &lineTerminal{
		term: vt10x.New(vt10x.WithSize(cols, rows)),
		cols: cols,
		rows: rows,
	}
}

// Write feeds data into the terminal emulator.
func (lt *lineTerminal) Write(data []byte) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	_, _ = lt.term.Write(data)
	lt.written += bytes.Count(data, []byte{'\n'})
}

// Resize updates the virtual screen dimensions.
func (lt *lineTerminal) Resize(cols, rows int) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	lt.term.Resize(cols, rows)
	lt.cols, lt.rows = cols, rows
}

// Lines returns the screen content through the last completed (newline
// terminated) row only — never the full fixed-size grid. Rows the agent
// hasn't finished writing yet (including the current in-progress line) are
// excluded, so callers can't mistake unused screen real estate for printed
// blank lines. Once written output has filled or scrolled the screen, the
// cursor sits on the bottom row, so the rows-1 rows above it are returned.
func (lt *lineTerminal) Lines() []string {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	limit := lt.written
	if limit > lt.rows-1 {
		limit = lt.rows - 1
	}

	lines := make([]string, limit)
	for row := 0; row < limit; row++ {
		var b strings.Builder
		for col := 0; col < lt.cols; col++ {
			g := lt.term.Cell(col, row)
			if g.Char == 0 {
				b.WriteRune(' ')
			} else {
				b.WriteRune(g.Char)
			}
		}
		lines[row] = strings.TrimRight(b.String(), " ")
	}
	return lines
}

// CompletionPredicate decides, from the rendered terminal lines, whether an
// agent has finished producing output for the current turn. A Manager takes
// one predicate through Config.Completion and applies it to all of its
// agents (e.g. an agent CLI that never prints a trailing blank line needs a
// prompt-regex based predicate instead of the default).
type CompletionPredicate func(lines []string) bool

// DefaultCompletionPredicate implements the two-consecutive-blank-line
// heuristic: a turn is complete once the two most recent lines are both
// blank, which is how most line-oriented agent CLIs signal they have
// returned control to the terminal. lines is expected to hold only
// completed lines (lineTerminal.Lines() already excludes the unterminated
// in-progress line and any rows never written to), so no further trimming
// is needed here.
func DefaultCompletionPredicate(lines []string) bool {
	blankRun := 0
	for i := len(lines) - 1; i >= 0 && blankRun < 2; i-- {
		if strings.TrimSpace(lines[i]) == "" {
			blankRun++
			continue
		}
		break
	}
	return blankRun >= 2
}
