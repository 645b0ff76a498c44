// Package vectorindex persists named collections of embedded text passages and
// serves nearest-neighbour search over them.
//
// Every build writes a fresh generation directory and then swaps a CURRENT
// pointer with a rename, so a reader either loads the previous generation or
// the new one, never a mix of both.
package vectorindex

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrIndexNotFound     = errors.New("index not found")
	ErrIndexCorrupt      = errors.New("index corrupt")
)

const (
	formatVersion = 1
	metricCosine  = "cosine"
)

// Entry pairs one passage with its embedding. Entries are immutable once built.
type Entry struct {
	Text   string
	Vector []float32
}

// NewEntry validates and copies the inputs.
func NewEntry(text string, vector []float32) (Entry, error) {
	if strings.TrimSpace(text) == "" {
		return Entry{}, fmt.Errorf("%w: entry text is empty", ErrInvalidParameters)
	}
	if err := checkVector(vector); err != nil {
		return Entry{}, err
	}
	v := make([]float32, len(vector))
	copy(v, vector)
	return Entry{Text: text, Vector: v}, nil
}

// Match is one search hit. Position is the entry's insertion order at build time.
type Match struct {
	Text     string  `json:"text"`
	Score    float32 `json:"score"`
	Position int     `json:"position"`
}

// Manifest describes one built generation of a store.
type Manifest struct {
	FormatVersion int       `json:"format_version"`
	Store         string    `json:"store"`
	Generation    string    `json:"generation"`
	Model         string    `json:"model"`
	Dimension     int       `json:"dimension"`
	Count         int       `json:"count"`
	Metric        string    `json:"metric"`
	Compressed    bool      `json:"compressed"`
	CreatedAt     time.Time `json:"created_at"`
	CreatedBy     string    `json:"created_by,omitempty"`
}

func (m *Manifest) validate() error {
	switch {
	case m.FormatVersion != formatVersion:
		return fmt.Errorf("%w: unsupported format version %d", ErrIndexCorrupt, m.FormatVersion)
	case m.Dimension <= 0:
		return fmt.Errorf("%w: manifest dimension %d", ErrIndexCorrupt, m.Dimension)
	case m.Count <= 0:
		return fmt.Errorf("%w: manifest entry count %d", ErrIndexCorrupt, m.Count)
	case m.Metric != metricCosine:
		return fmt.Errorf("%w: unsupported metric %q", ErrIndexCorrupt, m.Metric)
	}
	return nil
}

func checkVector(v []float32) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: vector is empty", ErrInvalidParameters)
	}
	var sum float64
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: vector has non-finite component", ErrInvalidParameters)
		}
		sum += f * f
	}
	if sum == 0 {
		return fmt.Errorf("%w: vector has zero norm", ErrInvalidParameters)
	}
	return nil
}

// normalized returns a unit-length copy of v. chromem scores by dot product.
func normalized(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	inv := 1 / math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}
