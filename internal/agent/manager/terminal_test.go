package manager

import "testing"

func TestDefaultCompletionPredicate(t *testing.T) {
	cases := []struct {
		name string
		in   []string
		want bool
	}{
		{"no output at all", []string{}, false},
		{"content right up to the end", []string{"hello", "world"}, false},
		{"one trailing blank only", []string{"hello", ""}, false},
		{"two trailing blanks", []string{"hello", "", ""}, true},
		{"two trailing blanks after more content", []string{"hello", "", "", ""}, true},
		{"blank line in the middle, not at the tail", []string{"hello", "", "world"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DefaultCompletionPredicate(tc.in)
			if got != tc.want {
				t.Errorf("DefaultCompletionPredicate(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestLineTerminalWritesPlainText(t *testing.T) {
	lt := newLineTerminal(20, 4)
	lt.Write([]byte("hello\r\n"))
	lines := lt.Lines()
	if len(lines) != 1 {
		t.Fatalf("expected 1 completed row, got %d (%v)", len(lines), lines)
	}
	if lines[0] != "hello" {
		t.Errorf("expected first line %q, got %q", "hello", lines[0])
	}
}

// TestLineTerminalDoesNotPadUnwrittenRows guards the specific false-positive
// this terminal previously produced: printing a single short line into a
// buffer much larger than the output must not be indistinguishable from two
// trailing blank lines.
func TestLineTerminalDoesNotPadUnwrittenRows(t *testing.T) {
	lt := newLineTerminal(20, 40)
	lt.Write([]byte("hello\r\n"))
	lines := lt.Lines()
	if DefaultCompletionPredicate(lines) {
		t.Fatalf("completion predicate fired on unwritten rows: %v", lines)
	}
}

func TestLineTerminalReportsGenuineTrailingBlanks(t *testing.T) {
	lt := newLineTerminal(20, 40)
	lt.Write([]byte("hello\r\n\r\n\r\n"))
	lines := lt.Lines()
	if len(lines) != 3 {
		t.Fatalf("expected 3 completed rows, got %d (%v)", len(lines), lines)
	}
	if !DefaultCompletionPredicate(lines) {
		t.Fatalf("expected completion predicate to fire on two genuine trailing blank lines: %v", lines)
	}
}

func TestLineTerminalCapsAtRowsOnceScrolled(t *testing.T) {
	lt := newLineTerminal(20, 4)
	for i := 0; i < 10; i++ {
		lt.Write([]byte("line\r\n"))
	}
	lines := lt.Lines()
	if len(lines) != 3 {
		t.Fatalf("expected Lines() capped at rows-1 (3) once output scrolled past the buffer, got %d", len(lines))
	}
}
