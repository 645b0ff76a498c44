package vectorindex

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	chromem "github.com/philippgille/chromem-go"
)

// Handle is a read-only snapshot of one generation. It is safe for concurrent use.
type Handle struct {
	manifest Manifest
	col      *chromem.Collection
}

func (h *Handle) Manifest() Manifest {
	return h.manifest
}

func (h *Handle) Len() int {
	return h.manifest.Count
}

// Search returns the k entries most similar to query by cosine similarity,
// highest first. Equal scores keep insertion order. k larger than the index
// returns every entry.
func (h *Handle) Search(ctx context.Context, query []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidParameters, k)
	}
	if len(query) != h.manifest.Dimension {
		return nil, fmt.Errorf("%w: query dimension %d, index dimension %d", ErrIndexCorrupt, len(query), h.manifest.Dimension)
	}
	if err := checkVector(query); err != nil {
		return nil, err
	}

	// Rank everything so that ties at the k boundary resolve by position.
	n := h.col.Count()
	results, err := h.col.QueryEmbedding(ctx, normalized(query), n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query store %q: %w", h.manifest.Store, err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		pos, err := strconv.Atoi(r.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: entry id %q", ErrIndexCorrupt, r.ID)
		}
		matches = append(matches, Match{Text: r.Content, Score: r.Similarity, Position: pos})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Position < matches[j].Position
	})

	if k > len(matches) {
		k = len(matches)
	}
	return matches[:k], nil
}
