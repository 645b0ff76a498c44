package vectorindex

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(Options{Root: t.TempDir()})
	require.NoError(t, err)
	return s
}

func mustEntries(t *testing.T, texts []string, vectors [][]float32) []Entry {
	t.Helper()
	require.Equal(t, len(texts), len(vectors))
	entries := make([]Entry, len(texts))
	for i := range texts {
		e, err := NewEntry(texts[i], vectors[i])
		require.NoError(t, err)
		entries[i] = e
	}
	return entries
}

func prefixedEntries(t *testing.T, prefix string, n int) []Entry {
	t.Helper()
	texts := make([]string, n)
	vectors := make([][]float32, n)
	for i := 0; i < n; i++ {
		texts[i] = fmt.Sprintf("%s-%d", prefix, i)
		vectors[i] = []float32{1, float32(i + 1), 0.5}
	}
	return mustEntries(t, texts, vectors)
}

func TestBuildLoadSearch_IndexedVectorComesFirst(t *testing.T) {
	s := newTestStore(t)
	entries := mustEntries(t,
		[]string{"red apples", "blue sky", "green grass"},
		[][]float32{{1, 0, 0, 0}, {0, 1, 0.2, 0}, {0, 0, 1, 0.3}},
	)

	manifest, err := s.Build(context.Background(), "main_knowledge_base", BuildInfo{Model: "m1", CreatedBy: "u1"}, entries)
	require.NoError(t, err)
	assert.Equal(t, 3, manifest.Count)
	assert.Equal(t, 4, manifest.Dimension)
	assert.Equal(t, "m1", manifest.Model)

	h, err := s.Load("main_knowledge_base", "m1")
	require.NoError(t, err)

	matches, err := h.Search(context.Background(), entries[1].Vector, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "blue sky", matches[0].Text)
	assert.Equal(t, 1, matches[0].Position)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-5)
	assert.GreaterOrEqual(t, matches[0].Score, matches[1].Score)
}

func TestSearch_KLargerThanIndexReturnsAll(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Build(context.Background(), "kb", BuildInfo{}, prefixedEntries(t, "doc", 3))
	require.NoError(t, err)

	h, err := s.Load("kb", "")
	require.NoError(t, err)

	matches, err := h.Search(context.Background(), []float32{1, 1, 1}, 50)
	require.NoError(t, err)
	assert.Len(t, matches, 3)
}

func TestSearch_TiesKeepInsertionOrder(t *testing.T) {
	s := newTestStore(t)
	entries := mustEntries(t,
		[]string{"first", "second", "third"},
		[][]float32{{0, 1}, {0, 2}, {1, 0}},
	)
	_, err := s.Build(context.Background(), "kb", BuildInfo{}, entries)
	require.NoError(t, err)

	h, err := s.Load("kb", "")
	require.NoError(t, err)

	matches, err := h.Search(context.Background(), []float32{0, 1}, 3)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{matches[0].Text, matches[1].Text, matches[2].Text})
}

func TestSearch_InvalidQueries(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Build(context.Background(), "kb", BuildInfo{}, prefixedEntries(t, "doc", 2))
	require.NoError(t, err)
	h, err := s.Load("kb", "")
	require.NoError(t, err)

	_, err = h.Search(context.Background(), []float32{1, 0}, 1)
	assert.ErrorIs(t, err, ErrIndexCorrupt)

	_, err = h.Search(context.Background(), []float32{1, 0, 0}, 0)
	assert.ErrorIs(t, err, ErrInvalidParameters)

	_, err = h.Search(context.Background(), []float32{0, 0, 0}, 1)
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestLoad_NeverBuiltIsNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Load("missing", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIndexNotFound)
	assert.NotErrorIs(t, err, ErrIndexCorrupt)

	_, err = s.Generation("missing")
	assert.ErrorIs(t, err, ErrIndexNotFound)
}

func TestLoad_ModelMismatchFailsClosed(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Build(context.Background(), "kb", BuildInfo{Model: "embed-a"}, prefixedEntries(t, "doc", 2))
	require.NoError(t, err)

	_, err = s.Load("kb", "embed-b")
	assert.ErrorIs(t, err, ErrIndexCorrupt)
}

func TestLoad_DamagedGenerationIsCorrupt(t *testing.T) {
	cases := []struct {
		name   string
		damage func(t *testing.T, storeDir, genDir string)
	}{
		{
			name: "missing manifest",
			damage: func(t *testing.T, _, genDir string) {
				require.NoError(t, os.Remove(filepath.Join(genDir, manifestFile)))
			},
		},
		{
			name: "garbage manifest",
			damage: func(t *testing.T, _, genDir string) {
				require.NoError(t, os.WriteFile(filepath.Join(genDir, manifestFile), []byte("{not json"), 0o644))
			},
		},
		{
			name: "missing data",
			damage: func(t *testing.T, _, genDir string) {
				require.NoError(t, os.RemoveAll(filepath.Join(genDir, dbDir)))
			},
		},
		{
			name: "bad current pointer",
			damage: func(t *testing.T, storeDir, _ string) {
				require.NoError(t, os.WriteFile(filepath.Join(storeDir, currentFile), []byte("../../etc"), 0o644))
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestStore(t)
			manifest, err := s.Build(context.Background(), "kb", BuildInfo{}, prefixedEntries(t, "doc", 2))
			require.NoError(t, err)

			storeDir := s.storeDir("kb")
			tc.damage(t, storeDir, filepath.Join(storeDir, manifest.Generation))

			_, err = s.Load("kb", "")
			assert.ErrorIs(t, err, ErrIndexCorrupt)
			assert.NotErrorIs(t, err, ErrIndexNotFound)
		})
	}
}

func TestLoad_PrunedGenerationFallsForwardToCurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Build(ctx, "kb", BuildInfo{}, prefixedEntries(t, fmt.Sprintf("v%d", i), 2))
		require.NoError(t, err)
	}
	stale := generationPrefix + "pruned"
	require.NoDirExists(t, filepath.Join(s.storeDir("kb"), stale))

	h, err := s.loadResolved("kb", "", stale)
	require.NoError(t, err)
	current, err := s.Generation("kb")
	require.NoError(t, err)
	assert.Equal(t, current, h.Manifest().Generation)

	// A damaged current generation is not retried.
	require.NoError(t, os.RemoveAll(filepath.Join(s.storeDir("kb"), current, dbDir)))
	_, err = s.loadResolved("kb", "", current)
	assert.ErrorIs(t, err, ErrIndexCorrupt)
}

func TestBuild_OnCommitRunsUnderBuildLock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	release := make(chan struct{})
	committed := make(chan string, 2)
	firstDone := make(chan error, 1)
	go func() {
		_, err := s.Build(ctx, "kb", BuildInfo{OnCommit: func(m *Manifest) {
			committed <- m.Generation
			<-release
		}}, prefixedEntries(t, "first", 1))
		firstDone <- err
	}()
	first := <-committed

	current, err := s.Generation("kb")
	require.NoError(t, err)
	assert.Equal(t, first, current)

	secondDone := make(chan error, 1)
	go func() {
		_, err := s.Build(ctx, "kb", BuildInfo{OnCommit: func(m *Manifest) {
			committed <- m.Generation
		}}, prefixedEntries(t, "second", 1))
		secondDone <- err
	}()

	select {
	case <-committed:
		t.Fatal("second build committed while the first commit was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-firstDone)
	require.NoError(t, <-secondDone)
	second := <-committed
	current, err = s.Generation("kb")
	require.NoError(t, err)
	assert.Equal(t, second, current)
	assert.NotEqual(t, first, second)
}

func TestBuild_RejectsBadInput(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Build(context.Background(), "kb", BuildInfo{}, nil)
	assert.ErrorIs(t, err, ErrInvalidParameters)

	_, err = s.Build(context.Background(), "", BuildInfo{}, prefixedEntries(t, "doc", 1))
	assert.ErrorIs(t, err, ErrInvalidParameters)

	mixed := []Entry{
		{Text: "a", Vector: []float32{1, 0}},
		{Text: "b", Vector: []float32{1, 0, 0}},
	}
	_, err = s.Build(context.Background(), "kb", BuildInfo{}, mixed)
	assert.ErrorIs(t, err, ErrInvalidParameters)

	_, err = s.Load("kb", "")
	assert.ErrorIs(t, err, ErrIndexNotFound, "failed builds must not leave a loadable store")
}

func TestNewEntry_Validation(t *testing.T) {
	_, err := NewEntry("  ", []float32{1})
	assert.ErrorIs(t, err, ErrInvalidParameters)

	_, err = NewEntry("text", nil)
	assert.ErrorIs(t, err, ErrInvalidParameters)

	_, err = NewEntry("text", []float32{0, 0})
	assert.ErrorIs(t, err, ErrInvalidParameters)

	src := []float32{1, 2}
	e, err := NewEntry("text", src)
	require.NoError(t, err)
	src[0] = 9
	assert.Equal(t, float32(1), e.Vector[0])
}

func TestRebuild_ReplacesContentAndPrunes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := s.Build(ctx, "kb", BuildInfo{}, prefixedEntries(t, fmt.Sprintf("v%d", i), i+1))
		require.NoError(t, err)
	}

	h, err := s.Load("kb", "")
	require.NoError(t, err)
	assert.Equal(t, 4, h.Len())

	matches, err := h.Search(ctx, []float32{1, 1, 1}, 10)
	require.NoError(t, err)
	for _, m := range matches {
		assert.True(t, strings.HasPrefix(m.Text, "v3-"), m.Text)
	}

	dirEntries, err := os.ReadDir(s.storeDir("kb"))
	require.NoError(t, err)
	generations := 0
	for _, d := range dirEntries {
		if d.IsDir() && strings.HasPrefix(d.Name(), generationPrefix) {
			generations++
		}
	}
	assert.Equal(t, 2, generations)
}

func TestRebuild_ConcurrentReadersSeeOneGeneration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Build(ctx, "kb", BuildInfo{}, prefixedEntries(t, "old", 3))
	require.NoError(t, err)

	var done atomic.Bool
	var wg sync.WaitGroup
	errs := make(chan error, 64)

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; !done.Load() || i < 5; i++ {
				h, err := s.Load("kb", "")
				if err != nil {
					errs <- err
					return
				}
				matches, err := h.Search(ctx, []float32{1, 1, 1}, 100)
				if err != nil {
					errs <- err
					return
				}
				prefix := strings.SplitN(matches[0].Text, "-", 2)[0]
				want := map[string]int{"old": 3, "new": 5}[prefix]
				if len(matches) != want {
					errs <- fmt.Errorf("generation %s returned %d entries", prefix, len(matches))
					return
				}
				for _, m := range matches {
					if !strings.HasPrefix(m.Text, prefix+"-") {
						errs <- fmt.Errorf("mixed generations: %q alongside %q", m.Text, prefix)
						return
					}
				}
			}
		}()
	}

	_, err = s.Build(ctx, "kb", BuildInfo{}, prefixedEntries(t, "new", 5))
	require.NoError(t, err)
	done.Store(true)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestStores_ArbitraryNames(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"main knowledge base", "main_knowledge_base", "Ünïcode / store"} {
		_, err := s.Build(ctx, name, BuildInfo{}, prefixedEntries(t, "doc", 1))
		require.NoError(t, err)
	}

	names, err := s.Stores()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"main knowledge base", "main_knowledge_base", "Ünïcode / store"}, names)

	m, err := s.Describe("main knowledge base")
	require.NoError(t, err)
	assert.Equal(t, "main knowledge base", m.Store)
	assert.NotEqual(t, dirName("main knowledge base"), dirName("main_knowledge_base"))
}
