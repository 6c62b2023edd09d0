package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"kb/internal/domain"
	"kb/internal/port"
)

// DefaultSeparators is tried coarsest first. The empty separator splits
// into single characters.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// RecursiveSplitter splits text on the coarsest separator that yields pieces
// within the chunk size, recursing into oversized pieces with finer ones.
// Sizes are measured in characters (runes).
type RecursiveSplitter struct {
	separators []string
}

// NewRecursiveSplitter creates a splitter. With no separators the defaults
// are used.
func NewRecursiveSplitter(separators ...string) *RecursiveSplitter {
	if len(separators) == 0 {
		separators = DefaultSeparators
	}
	return &RecursiveSplitter{separators: separators}
}

// Split returns trimmed, non-empty chunks in document order together with
// their byte offsets in text. Consecutive chunks share up to chunkOverlap
// characters of whole trailing pieces.
func (s *RecursiveSplitter) Split(text string, chunkSize, chunkOverlap int) ([]port.Piece, error) {
	if err := domain.ValidateChunking(chunkSize, chunkOverlap); err != nil {
		return nil, domain.InvalidInput("split", "%v", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return s.splitText(span{text: text}, s.separators, chunkSize, chunkOverlap), nil
}

// span is a slice of the source text and the byte offset it starts at.
type span struct {
	text  string
	start int
}

func (s *RecursiveSplitter) splitText(src span, separators []string, size, overlap int) []port.Piece {
	separator := separators[len(separators)-1]
	var finer []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(src.text, sep) {
			separator = sep
			finer = separators[i+1:]
			break
		}
	}

	var out []port.Piece
	var good []span
	for _, piece := range splitKeepingSeparator(src, separator) {
		if runeLen(piece.text) < size {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			out = append(out, mergePieces(good, size, overlap)...)
			good = nil
		}
		if len(finer) == 0 {
			if p, ok := trimmed(piece); ok {
				out = append(out, p)
			}
			continue
		}
		out = append(out, s.splitText(piece, finer, size, overlap)...)
	}
	if len(good) > 0 {
		out = append(out, mergePieces(good, size, overlap)...)
	}
	return out
}

// splitKeepingSeparator splits src and prefixes every piece after the
// first with the separator, so the pieces are contiguous and joining them
// restores the input.
func splitKeepingSeparator(src span, sep string) []span {
	if sep == "" {
		out := make([]span, 0, utf8.RuneCountInString(src.text))
		for i, r := range src.text {
			out = append(out, span{text: string(r), start: src.start + i})
		}
		return out
	}
	parts := strings.Split(src.text, sep)
	out := make([]span, 0, len(parts))
	offset := src.start
	for i, p := range parts {
		if i > 0 {
			p = sep + p
		}
		if p != "" {
			out = append(out, span{text: p, start: offset})
		}
		offset += len(p)
	}
	return out
}

// mergePieces packs consecutive pieces into chunks of at most size
// characters, carrying trailing pieces worth at most overlap characters
// into the next chunk.
func mergePieces(pieces []span, size, overlap int) []port.Piece {
	var docs []port.Piece
	var current []span
	total := 0

	emit := func() {
		if p, ok := trimmed(join(current)); ok {
			docs = append(docs, p)
		}
	}

	for _, p := range pieces {
		n := runeLen(p.text)
		if total+n > size && len(current) > 0 {
			emit()
			for total > overlap || (total+n > size && total > 0) {
				total -= runeLen(current[0].text)
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
	}

	if len(current) > 0 {
		emit()
	}
	return docs
}

// join concatenates contiguous spans.
func join(spans []span) span {
	var b strings.Builder
	for _, sp := range spans {
		b.WriteString(sp.text)
	}
	return span{text: b.String(), start: spans[0].start}
}

// trimmed strips surrounding whitespace and shifts the offsets to match.
func trimmed(sp span) (port.Piece, bool) {
	left := strings.TrimLeftFunc(sp.text, unicode.IsSpace)
	text := strings.TrimRightFunc(left, unicode.IsSpace)
	if text == "" {
		return port.Piece{}, false
	}
	start := sp.start + len(sp.text) - len(left)
	return port.Piece{Text: text, Start: start, End: start + len(text)}, true
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
