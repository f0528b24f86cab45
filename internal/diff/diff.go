// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package diff

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/jeranaias/casedesk/internal/ui/styles"
)

// maxCells bounds the LCS table. Larger inputs are shown as one deletion
// followed by one insertion.
const maxCells = 4_000_000

// =============================================================================
// TYPES
// =============================================================================

// Kind says whether a segment was kept, removed or added.
type Kind int

const (
	// Equal is text present in both versions
	Equal Kind = iota
	// Inserted is text only in the new version
	Inserted
	// Deleted is text only in the old version
	Deleted
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case Equal:
		return "equal"
	case Inserted:
		return "inserted"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Segment is a run of text with one kind.
type Segment struct {
	Kind Kind   `json:"kind"`
	Text string `json:"text"`
}

// Stats counts changed words. Whitespace and punctuation are not counted.
type Stats struct {
	Inserted int `json:"inserted"`
	Deleted  int `json:"deleted"`
}

// Redline is a word level comparison of two versions of a passage.
type Redline struct {
	Old      string    `json:"-"`
	New      string    `json:"-"`
	Segments []Segment `json:"segments"`
	Stats    Stats     `json:"stats"`
}

// =============================================================================
// COMPUTATION
// =============================================================================

// Compute compares old and new word by word.
func Compute(old, new string) *Redline {
	r := &Redline{Old: old, New: new}
	a, b := tokenize(old), tokenize(new)

	var ops []Segment
	switch {
	case len(a) == 0 && len(b) == 0:
	case len(a)*len(b) > maxCells:
		ops = append(ops, Segment{Deleted, old}, Segment{Inserted, new})
	default:
		ops = align(a, b)
	}

	for _, op := range ops {
		if op.Kind != Equal && isWord(op.Text) {
			if op.Kind == Inserted {
				r.Stats.Inserted++
			} else {
				r.Stats.Deleted++
			}
		}
		r.Segments = appendSegment(r.Segments, op)
	}
	return r
}

// tokenize splits s into words, whitespace runs and single other runes.
func tokenize(s string) []string {
	var (
		out   []string
		start = -1
		class = 0
	)
	for i, r := range s {
		c := runeClass(r)
		if start >= 0 && c == class && c != 0 {
			continue
		}
		if start >= 0 {
			out = append(out, s[start:i])
		}
		start, class = i, c
	}
	if start >= 0 {
		out = append(out, s[start:])
	}
	return out
}

// runeClass is 1 for word runes, 2 for whitespace and 0 for anything else.
func runeClass(r rune) int {
	switch {
	case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' || r == '_':
		return 1
	case unicode.IsSpace(r):
		return 2
	default:
		return 0
	}
}

func isWord(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// align walks the longest common subsequence of a and b, emitting
// deletions before insertions at each change.
func align(a, b []string) []Segment {
	m, n := len(a), len(b)
	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}
	for i := m - 1; i >= 0; i-- {
		for j := n - 1; j >= 0; j-- {
			if a[i] == b[j] {
				dp[i][j] = dp[i+1][j+1] + 1
			} else {
				dp[i][j] = max(dp[i+1][j], dp[i][j+1])
			}
		}
	}

	var out []Segment
	i, j := 0, 0
	for i < m && j < n {
		switch {
		case a[i] == b[j]:
			out = append(out, Segment{Equal, a[i]})
			i++
			j++
		case dp[i+1][j] >= dp[i][j+1]:
			out = append(out, Segment{Deleted, a[i]})
			i++
		default:
			out = append(out, Segment{Inserted, b[j]})
			j++
		}
	}
	for ; i < m; i++ {
		out = append(out, Segment{Deleted, a[i]})
	}
	for ; j < n; j++ {
		out = append(out, Segment{Inserted, b[j]})
	}
	return out
}

// appendSegment merges op into the previous segment of the same kind.
// A deletion that follows an insertion is moved in front of it, so each
// change reads old then new.
func appendSegment(segs []Segment, op Segment) []Segment {
	n := len(segs)
	if n > 0 && segs[n-1].Kind == op.Kind {
		segs[n-1].Text += op.Text
		return segs
	}
	if op.Kind == Deleted && n > 0 && segs[n-1].Kind == Inserted {
		if n > 1 && segs[n-2].Kind == Deleted {
			segs[n-2].Text += op.Text
			return segs
		}
		ins := segs[n-1]
		segs[n-1] = op
		return append(segs, ins)
	}
	return append(segs, op)
}

// =============================================================================
// FORMATTING
// =============================================================================

// Format returns the redline with [-deleted-] and {+inserted+} markers.
func (r *Redline) Format() string {
	var sb strings.Builder
	for _, s := range r.Segments {
		switch s.Kind {
		case Deleted:
			sb.WriteString("[-" + s.Text + "-]")
		case Inserted:
			sb.WriteString("{+" + s.Text + "+}")
		default:
			sb.WriteString(s.Text)
		}
	}
	return sb.String()
}

// Render returns the redline for a terminal: deletions struck through,
// insertions underlined. Without color support it matches Format.
func (r *Redline) Render() string {
	if lipgloss.ColorProfile() == termenv.Ascii {
		return r.Format()
	}
	del := lipgloss.NewStyle().Foreground(styles.Rose).Strikethrough(true)
	ins := lipgloss.NewStyle().Foreground(styles.Emerald).Underline(true)
	var sb strings.Builder
	for _, s := range r.Segments {
		switch s.Kind {
		case Deleted:
			sb.WriteString(del.Render(s.Text))
		case Inserted:
			sb.WriteString(ins.Render(s.Text))
		default:
			sb.WriteString(s.Text)
		}
	}
	return sb.String()
}

// Changed reports whether the versions differ.
func (r *Redline) Changed() bool {
	return r.Old != r.New
}

// Summary returns a short description such as "+3 -1 words".
func (r *Redline) Summary() string {
	if !r.Changed() {
		return "no changes"
	}
	if r.Stats.Inserted == 0 && r.Stats.Deleted == 0 {
		return "whitespace and punctuation only"
	}
	return fmt.Sprintf("+%d -%d words", r.Stats.Inserted, r.Stats.Deleted)
}
