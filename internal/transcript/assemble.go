// Package transcript collects per-chunk recognition fragments into one prompt.
package transcript

import "strings"

// Fragment is the recognition result for one captured chunk.
type Fragment struct {
	Seq   int
	Text  string
	Empty bool
}

// NewFragment builds a fragment, marking whitespace-only text as empty.
func NewFragment(seq int, text string) Fragment {
	text = strings.TrimSpace(text)
	return Fragment{Seq: seq, Text: text, Empty: text == ""}
}

// EmptyFragment marks a chunk that produced no speech.
func EmptyFragment(seq int) Fragment {
	return Fragment{Seq: seq, Empty: true}
}

// Buffer holds the non-empty fragments of one utterance in arrival order.
// It is owned by a single consumer and is not safe for concurrent use.
type Buffer struct {
	fragments []Fragment
	skipped   int
}

// Append adds f unless it is empty.
func (b *Buffer) Append(f Fragment) {
	if f.Empty || strings.TrimSpace(f.Text) == "" {
		b.skipped++
		return
	}
	b.fragments = append(b.fragments, f)
}

// Fragments returns a copy of the retained fragments.
func (b Buffer) Fragments() []Fragment {
	out := make([]Fragment, len(b.fragments))
	copy(out, b.fragments)
	return out
}

// Len reports the number of retained fragments.
func (b Buffer) Len() int { return len(b.fragments) }

// Skipped reports how many empty fragments were dropped.
func (b Buffer) Skipped() int { return b.skipped }

// Assemble whitespace-joins the buffer's fragments into a trimmed prompt.
// An empty string means no input was heard.
func Assemble(b Buffer) string {
	texts := make([]string, 0, len(b.fragments))
	for _, f := range b.fragments {
		texts = append(texts, f.Text)
	}
	return Join(texts)
}

// Join collapses whitespace across texts, dropping blank entries.
func Join(texts []string) string {
	if len(texts) == 0 {
		return ""
	}
	return strings.Join(strings.Fields(strings.Join(texts, " ")), " ")
}
