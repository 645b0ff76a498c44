package vectorindex

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

const (
	currentFile      = "CURRENT"
	manifestFile     = "manifest.json"
	dbDir            = "db"
	generationPrefix = "gen-"
	collectionName   = "entries"
)

var safeDirName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// Options configures a Store.
type Options struct {
	// Root is the directory holding one subdirectory per store name.
	Root string
	// KeepGenerations is how many generations survive a rebuild, current included.
	// Values below 2 are raised to 2 so readers that resolved the previous
	// generation can finish loading it.
	KeepGenerations int
	// Compress enables gzip for the persisted entries.
	Compress bool
	Logger   *zap.Logger
}

// Store owns every persisted index under Root.
type Store struct {
	root     string
	keep     int
	compress bool
	logger   *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// BuildInfo is recorded in the manifest of a new generation.
type BuildInfo struct {
	Model     string
	CreatedBy string
	// OnCommit, if set, runs after the new generation becomes current and
	// before the build lock is released, so commits of one store never
	// interleave.
	OnCommit func(*Manifest)
}

func NewStore(opts Options) (*Store, error) {
	root := strings.TrimSpace(opts.Root)
	if root == "" {
		return nil, fmt.Errorf("%w: store root is empty", ErrInvalidParameters)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create store root %s failed: %w", root, err)
	}
	keep := opts.KeepGenerations
	if keep < 2 {
		keep = 2
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		root:     root,
		keep:     keep,
		compress: opts.Compress,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}, nil
}

// Root returns the directory the store writes under.
func (s *Store) Root() string {
	return s.root
}

// Build writes entries as a new generation of the named store and makes it
// current. Any previous content is replaced wholesale.
func (s *Store) Build(ctx context.Context, name string, info BuildInfo, entries []Entry) (*Manifest, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: store name is empty", ErrInvalidParameters)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no entries to build store %q", ErrInvalidParameters, name)
	}
	dim := len(entries[0].Vector)
	for i, e := range entries {
		if strings.TrimSpace(e.Text) == "" {
			return nil, fmt.Errorf("%w: entry %d text is empty", ErrInvalidParameters, i)
		}
		if len(e.Vector) != dim {
			return nil, fmt.Errorf("%w: entry %d has dimension %d, want %d", ErrInvalidParameters, i, len(e.Vector), dim)
		}
		if err := checkVector(e.Vector); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
	}

	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	storeDir := s.storeDir(name)
	if err := os.MkdirAll(storeDir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir failed: %w", err)
	}

	previous, err := readCurrent(storeDir)
	if err != nil && !errors.Is(err, ErrIndexNotFound) {
		s.logger.Warn("ignoring unreadable current pointer", zap.String("store", name), zap.Error(err))
	}

	generation := generationPrefix + uuid.NewString()
	genDir := filepath.Join(storeDir, generation)
	manifest := &Manifest{
		FormatVersion: formatVersion,
		Store:         name,
		Generation:    generation,
		Model:         info.Model,
		Dimension:     dim,
		Count:         len(entries),
		Metric:        metricCosine,
		Compressed:    s.compress,
		CreatedAt:     time.Now().UTC(),
		CreatedBy:     info.CreatedBy,
	}

	if err := s.writeGeneration(ctx, genDir, manifest, entries); err != nil {
		_ = os.RemoveAll(genDir)
		return nil, err
	}
	if err := writeFileAtomic(filepath.Join(storeDir, currentFile), []byte(generation+"\n")); err != nil {
		_ = os.RemoveAll(genDir)
		return nil, fmt.Errorf("swap current generation failed: %w", err)
	}

	s.logger.Info("vector index built",
		zap.String("store", name),
		zap.String("generation", generation),
		zap.String("previous", previous),
		zap.String("model", info.Model),
		zap.Int("dimension", dim),
		zap.Int("count", len(entries)),
	)

	if info.OnCommit != nil {
		info.OnCommit(manifest)
	}
	s.prune(storeDir, generation)
	return manifest, nil
}

func (s *Store) writeGeneration(ctx context.Context, genDir string, manifest *Manifest, entries []Entry) error {
	if err := os.MkdirAll(genDir, 0o755); err != nil {
		return fmt.Errorf("create generation dir failed: %w", err)
	}

	db, err := chromem.NewPersistentDB(filepath.Join(genDir, dbDir), s.compress)
	if err != nil {
		return fmt.Errorf("open generation db failed: %w", err)
	}
	col, err := db.CreateCollection(collectionName, map[string]string{
		"store": manifest.Store,
		"model": manifest.Model,
	}, nil)
	if err != nil {
		return fmt.Errorf("create collection failed: %w", err)
	}

	docs := make([]chromem.Document, len(entries))
	for i, e := range entries {
		docs[i] = chromem.Document{
			ID:        entryID(i),
			Content:   e.Text,
			Embedding: normalized(e.Vector),
		}
	}
	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("add entries failed: %w", err)
	}

	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest failed: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(genDir, manifestFile), raw); err != nil {
		return fmt.Errorf("write manifest failed: %w", err)
	}
	return nil
}

// Load opens the current generation of the named store. A non-empty model must
// match the model the store was built with.
func (s *Store) Load(name, model string) (*Handle, error) {
	generation, err := readCurrent(s.storeDir(name))
	if err != nil {
		return nil, fmt.Errorf("load store %q: %w", name, err)
	}
	return s.loadResolved(name, model, generation)
}

// loadResolved opens generation, or the current one if generation was pruned
// by rebuilds that landed after it was resolved.
func (s *Store) loadResolved(name, model, generation string) (*Handle, error) {
	h, err := s.loadGeneration(name, model, generation)
	if err == nil || !errors.Is(err, ErrIndexCorrupt) {
		return h, err
	}
	latest, cerr := readCurrent(s.storeDir(name))
	if cerr != nil || latest == generation {
		return nil, err
	}
	s.logger.Debug("generation replaced while loading, retrying",
		zap.String("store", name),
		zap.String("generation", generation),
		zap.String("current", latest),
	)
	return s.loadGeneration(name, model, latest)
}

func (s *Store) loadGeneration(name, model, generation string) (*Handle, error) {
	genDir := filepath.Join(s.storeDir(name), generation)
	manifest, err := readManifest(genDir)
	if err != nil {
		return nil, fmt.Errorf("load store %q: %w", name, err)
	}
	if model != "" && manifest.Model != model {
		return nil, fmt.Errorf("%w: store %q built with model %q, serving model is %q", ErrIndexCorrupt, name, manifest.Model, model)
	}

	dataDir := filepath.Join(genDir, dbDir)
	if _, err := os.Stat(dataDir); err != nil {
		return nil, fmt.Errorf("%w: store %q generation %s has no data: %v", ErrIndexCorrupt, name, generation, err)
	}
	db, err := chromem.NewPersistentDB(dataDir, manifest.Compressed)
	if err != nil {
		return nil, fmt.Errorf("%w: open store %q: %v", ErrIndexCorrupt, name, err)
	}
	col := db.GetCollection(collectionName, nil)
	if col == nil {
		return nil, fmt.Errorf("%w: store %q generation %s has no collection", ErrIndexCorrupt, name, generation)
	}
	if got := col.Count(); got != manifest.Count {
		return nil, fmt.Errorf("%w: store %q holds %d entries, manifest says %d", ErrIndexCorrupt, name, got, manifest.Count)
	}

	return &Handle{manifest: *manifest, col: col}, nil
}

// Generation returns the current generation id of the named store.
func (s *Store) Generation(name string) (string, error) {
	return readCurrent(s.storeDir(name))
}

// Describe returns the manifest of the current generation.
func (s *Store) Describe(name string) (*Manifest, error) {
	storeDir := s.storeDir(name)
	generation, err := readCurrent(storeDir)
	if err != nil {
		return nil, err
	}
	return readManifest(filepath.Join(storeDir, generation))
}

// Stores lists the names of every built store, sorted.
func (s *Store) Stores() ([]string, error) {
	dirEntries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read store root failed: %w", err)
	}
	var names []string
	for _, d := range dirEntries {
		if !d.IsDir() {
			continue
		}
		storeDir := filepath.Join(s.root, d.Name())
		generation, err := readCurrent(storeDir)
		if err != nil {
			continue
		}
		manifest, err := readManifest(filepath.Join(storeDir, generation))
		if err != nil {
			s.logger.Warn("skipping unreadable store", zap.String("dir", d.Name()), zap.Error(err))
			continue
		}
		names = append(names, manifest.Store)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) lockFor(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

func (s *Store) storeDir(name string) string {
	return filepath.Join(s.root, dirName(name))
}

// prune removes generations beyond the retention count, newest kept first.
func (s *Store) prune(storeDir, current string) {
	dirEntries, err := os.ReadDir(storeDir)
	if err != nil {
		s.logger.Warn("list generations failed", zap.String("dir", storeDir), zap.Error(err))
		return
	}

	type gen struct {
		name    string
		modTime time.Time
	}
	var others []gen
	for _, d := range dirEntries {
		if !d.IsDir() || !strings.HasPrefix(d.Name(), generationPrefix) || d.Name() == current {
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		others = append(others, gen{name: d.Name(), modTime: info.ModTime()})
	}
	sort.Slice(others, func(i, j int) bool {
		return others[i].modTime.After(others[j].modTime)
	})

	for i, g := range others {
		if i < s.keep-1 {
			continue
		}
		if err := os.RemoveAll(filepath.Join(storeDir, g.name)); err != nil {
			s.logger.Warn("remove old generation failed", zap.String("generation", g.name), zap.Error(err))
		}
	}
}

func dirName(name string) string {
	if safeDirName.MatchString(name) {
		return name
	}
	slug := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, name)
	if len(slug) > 40 {
		slug = slug[:40]
	}
	sum := sha256.Sum256([]byte(name))
	return slug + "-" + hex.EncodeToString(sum[:4])
}

func entryID(position int) string {
	return fmt.Sprintf("%09d", position)
}

func readCurrent(storeDir string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(storeDir, currentFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrIndexNotFound
		}
		return "", fmt.Errorf("read current generation failed: %w", err)
	}
	generation := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(generation, generationPrefix) || strings.ContainsAny(generation, `/\`) {
		return "", fmt.Errorf("%w: bad current pointer %q", ErrIndexCorrupt, generation)
	}
	return generation, nil
}

func readManifest(genDir string) (*Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(genDir, manifestFile))
	if err != nil {
		return nil, fmt.Errorf("%w: read manifest: %v", ErrIndexCorrupt, err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: parse manifest: %v", ErrIndexCorrupt, err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// writeFileAtomic writes data next to path and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp-" + uuid.NewString()
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
