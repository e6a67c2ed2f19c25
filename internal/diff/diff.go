// Package diff computes reviewable line-level change sets.
//
// The alignment is a greedy scan, not a longest-common-subsequence diff.
// At each mismatch it looks a bounded number of lines ahead on both sides
// for the nearest resynchronisation point and takes the cheaper one. This
// keeps the cost linear in document size times the window, at the price of
// non-minimal output on inputs with many repeated or shuffled lines. The
// output is only promised to be reviewable and to reconstruct the new text.
package diff

import (
	"fmt"
	"io"
	"strings"
)

// DefaultWindow is the default lookahead, in lines, at a divergence point.
const DefaultWindow = 10

// Kind classifies a diff line.
type Kind int

const (
	Context Kind = iota
	Added
	Removed
)

func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	default:
		return "context"
	}
}

// Entry is one line of a change set.
type Entry struct {
	Kind Kind
	Text string
	// NoNewline marks the last line of a text that does not end in "\n",
	// when the other side does.
	NoNewline bool
}

// Options tunes the alignment.
type Options struct {
	// Window is the lookahead at each divergence. Values below 1 use DefaultWindow.
	Window int
}

// Lines computes the change set turning oldLines into newLines.
//
// Dropping Removed entries and concatenating the rest in order always
// yields newLines exactly; dropping Added entries yields oldLines.
func Lines(oldLines, newLines []string, opts Options) []Entry {
	window := opts.Window
	if window < 1 {
		window = DefaultWindow
	}

	entries := make([]Entry, 0, max(len(oldLines), len(newLines)))
	i, j := 0, 0
	for i < len(oldLines) && j < len(newLines) {
		if oldLines[i] == newLines[j] {
			entries = append(entries, Entry{Kind: Context, Text: oldLines[i]})
			i++
			j++
			continue
		}

		ins := lookahead(newLines, j, oldLines[i], window)
		del := lookahead(oldLines, i, newLines[j], window)

		switch {
		case ins > 0 && (del == 0 || ins < del):
			for _, line := range newLines[j : j+ins] {
				entries = append(entries, Entry{Kind: Added, Text: line})
			}
			j += ins
		case del > 0 && (ins == 0 || del < ins):
			for _, line := range oldLines[i : i+del] {
				entries = append(entries, Entry{Kind: Removed, Text: line})
			}
			i += del
		default:
			// Tie or nothing within the window: treat as a changed line.
			entries = append(entries,
				Entry{Kind: Removed, Text: oldLines[i]},
				Entry{Kind: Added, Text: newLines[j]},
			)
			i++
			j++
		}
	}
	for ; i < len(oldLines); i++ {
		entries = append(entries, Entry{Kind: Removed, Text: oldLines[i]})
	}
	for ; j < len(newLines); j++ {
		entries = append(entries, Entry{Kind: Added, Text: newLines[j]})
	}
	return entries
}

// lookahead returns k in [1, window] such that lines[from+k] == target for
// the smallest such k, or 0 if there is none.
func lookahead(lines []string, from int, target string, window int) int {
	for k := 1; k <= window && from+k < len(lines); k++ {
		if lines[from+k] == target {
			return k
		}
	}
	return 0
}

// Text splits both texts into lines and diffs them. When only one side
// ends in a newline, its final line counts as changed and carries
// NoNewline.
func Text(oldText, newText string, opts Options) []Entry {
	oldLines, newLines := Split(oldText), Split(newText)
	if terminated(oldText) == terminated(newText) {
		return Lines(oldLines, newLines, opts)
	}

	// Split lines never contain "\n", so it tags the unterminated line
	// without colliding with real content.
	if !terminated(oldText) {
		oldLines[len(oldLines)-1] += "\n"
	}
	if !terminated(newText) {
		newLines[len(newLines)-1] += "\n"
	}
	entries := Lines(oldLines, newLines, opts)
	for i, e := range entries {
		if text, ok := strings.CutSuffix(e.Text, "\n"); ok {
			entries[i].Text = text
			entries[i].NoNewline = true
		}
	}
	return entries
}

func terminated(text string) bool {
	return text == "" || strings.HasSuffix(text, "\n")
}

// Split breaks text into lines on "\n". A trailing newline does not produce
// an empty final line, and empty text has no lines.
func Split(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}

// Summary counts changed lines.
type Summary struct {
	Added   int
	Removed int
}

// Empty reports whether the change set has no additions or removals.
func (s Summary) Empty() bool { return s.Added == 0 && s.Removed == 0 }

// Summarize counts the Added and Removed entries.
func Summarize(entries []Entry) Summary {
	var s Summary
	for _, e := range entries {
		switch e.Kind {
		case Added:
			s.Added++
		case Removed:
			s.Removed++
		}
	}
	return s
}

// Reconstruct returns the new-side lines of a change set.
func Reconstruct(entries []Entry) []string {
	var lines []string
	for _, e := range entries {
		if e.Kind != Removed {
			lines = append(lines, e.Text)
		}
	}
	return lines
}

// Write renders entries with a one-character prefix per line ("+", "-" or
// " "). When contextLines is non-negative, unchanged lines more than
// contextLines away from any change are collapsed into
// "@@ n unchanged lines @@" markers.
func Write(w io.Writer, entries []Entry, contextLines int) error {
	keep := make([]bool, len(entries))
	for idx, e := range entries {
		if e.Kind != Context || contextLines < 0 {
			keep[idx] = true
			continue
		}
		for k := max(0, idx-contextLines); k <= min(len(entries)-1, idx+contextLines); k++ {
			if entries[k].Kind != Context {
				keep[idx] = true
				break
			}
		}
	}

	skipped := 0
	flush := func() error {
		if skipped == 0 {
			return nil
		}
		_, err := fmt.Fprintf(w, "@@ %d unchanged lines @@\n", skipped)
		skipped = 0
		return err
	}
	for idx, e := range entries {
		if !keep[idx] {
			skipped++
			continue
		}
		if err := flush(); err != nil {
			return err
		}
		prefix := " "
		switch e.Kind {
		case Added:
			prefix = "+"
		case Removed:
			prefix = "-"
		}
		if _, err := fmt.Fprintf(w, "%s%s\n", prefix, e.Text); err != nil {
			return err
		}
		if e.NoNewline {
			if _, err := io.WriteString(w, "\\ No newline at end of file\n"); err != nil {
				return err
			}
		}
	}
	return flush()
}
