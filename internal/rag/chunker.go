package rag

import (
	"fmt"
	"strings"
)

// separators are tried in order; the first one that yields an acceptable cut wins.
var separators = []string{"\n\n", "\n", ". ", "! ", "? ", " "}

// Chunk splits text into overlapping segments of at most size runes.
// Consecutive chunks share exactly overlap runes. Cuts prefer paragraph,
// line, sentence and word boundaries before falling back to a hard cut.
func Chunk(text string, size, overlap int) ([]string, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: chunk size %d, overlap %d", ErrInvalidParameters, size, overlap)
	}
	if strings.TrimSpace(text) == "" {
		return []string{}, nil
	}

	runes := []rune(text)
	n := len(runes)
	chunks := make([]string, 0, n/(size-overlap)+1)

	minSpan := size / 2
	if minSpan < overlap+1 {
		minSpan = overlap + 1
	}

	start := 0
	for {
		end := start + size
		if end >= n {
			chunks = append(chunks, string(runes[start:]))
			break
		}

		cut := findCut(runes, start+minSpan, end)
		chunks = append(chunks, string(runes[start:cut]))
		start = cut - overlap
	}
	return chunks, nil
}

// findCut returns the rightmost separator boundary in [lo, hi], or hi when none fits.
func findCut(runes []rune, lo, hi int) int {
	for _, sep := range separators {
		sepRunes := []rune(sep)
		for cut := hi; cut >= lo; cut-- {
			if hasSuffixAt(runes, cut, sepRunes) {
				return cut
			}
		}
	}
	return hi
}

func hasSuffixAt(runes []rune, pos int, sep []rune) bool {
	if pos < len(sep) {
		return false
	}
	for i := range sep {
		if runes[pos-len(sep)+i] != sep[i] {
			return false
		}
	}
	return true
}
